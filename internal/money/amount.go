// Package money holds decimal amounts as they are stored and displayed.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// ErrInvalidPrice is returned when a price cannot be read as a number.
var ErrInvalidPrice = errors.New("invalid price")

// Amount is an exact decimal amount. It is stored in DynamoDB as a number
// and read back from either a number or a numeric string.
type Amount struct {
	decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{decimal.Zero}

func New(d decimal.Decimal) Amount { return Amount{d} }

// Parse reads a textual price such as "45.50" or " 30 ".
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return Zero, fmt.Errorf("%w: empty", ErrInvalidPrice)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return Amount{d}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Times multiplies by a quantity.
func (a Amount) Times(q int) Amount {
	return Amount{a.Decimal.Mul(decimal.NewFromInt(int64(q)))}
}

func (a Amount) Plus(b Amount) Amount {
	return Amount{a.Decimal.Add(b.Decimal)}
}

// Cents rounds half away from zero to two decimal places.
func (a Amount) Cents() Amount {
	return Amount{a.Decimal.Round(2)}
}

// Fixed formats with exactly two decimal places.
func (a Amount) Fixed() string {
	return a.Decimal.StringFixed(2)
}

func (a Amount) Equal(b Amount) bool {
	return a.Decimal.Equal(b.Decimal)
}

func (a Amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: a.Decimal.String()}, nil
}

func (a *Amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		d, err := decimal.NewFromString(v.Value)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPrice, v.Value)
		}
		a.Decimal = d
		return nil
	case *types.AttributeValueMemberS:
		p, err := Parse(v.Value)
		if err != nil {
			return err
		}
		*a = p
		return nil
	case *types.AttributeValueMemberNULL:
		*a = Zero
		return nil
	}
	return fmt.Errorf("%w: unsupported attribute %T", ErrInvalidPrice, av)
}
