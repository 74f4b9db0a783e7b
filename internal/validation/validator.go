package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// New returns a configured validator with the custom "price" tag registered.
// Field errors are reported under their json names.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(jsonName)

	// price: a numeric, non-negative amount written as text
	_ = v.RegisterValidation("price", validPrice)

	return v
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

func validPrice(fl validatorv10.FieldLevel) bool {
	a, err := money.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return !a.IsNegative()
}
