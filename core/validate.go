package core

import "github.com/go-playground/validator/v10"

// validate is safe for concurrent use and caches struct metadata
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct validates any value carrying validator struct tags
func ValidateStruct(v interface{}) error {
	return validate.Struct(v)
}
