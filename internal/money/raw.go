package money

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// RawPrice is a catalog price exactly as stored: products written by the
// back office may carry it as a number or as text. It is only interpreted
// when a line is priced from it.
type RawPrice string

// Amount coerces the raw value, returning ErrInvalidPrice when it is not numeric.
func (r RawPrice) Amount() (Amount, error) {
	return Parse(string(r))
}

func (r RawPrice) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	if a, err := r.Amount(); err == nil {
		return &types.AttributeValueMemberN{Value: a.Decimal.String()}, nil
	}
	return &types.AttributeValueMemberS{Value: string(r)}, nil
}

func (r *RawPrice) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		*r = RawPrice(v.Value)
	case *types.AttributeValueMemberS:
		*r = RawPrice(v.Value)
	default:
		*r = ""
	}
	return nil
}
