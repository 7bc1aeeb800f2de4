// Package models holds the persisted entities of the platform, their
// aggregation rows and the validator that enforces their schema.
package models

import (
	"reflect"
	"time"

	validator "github.com/go-playground/validator/v10"
)

// NewValidator returns a validator with the schema rules that the built-in
// tags cannot express.
func NewValidator() *validator.Validate {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := field.Tag.Get("json")
		for i := 0; i < len(name); i++ {
			if name[i] == ',' {
				name = name[:i]
				break
			}
		}
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	_ = validate.RegisterValidation("belowprice", validateBelowPrice)

	return validate
}

// validateBelowPrice accepts a discount lower than the sibling Price field.
func validateBelowPrice(fieldLevel validator.FieldLevel) bool {
	discount := fieldLevel.Field().Float()
	if discount == 0 {
		return true
	}

	price := fieldLevel.Parent().FieldByName("Price")
	if !price.IsValid() || price.Float() == 0 {
		return true
	}

	return discount < price.Float()
}

// Defaulter is implemented by entities whose schema declares default values.
// Defaults are applied to a fresh entity before client input is decoded onto it.
type Defaulter interface {
	SetDefaults(now time.Time)
}
