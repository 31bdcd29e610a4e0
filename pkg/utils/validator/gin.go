package validator

import (
	"reflect"

	"github.com/gin-gonic/gin/binding"
)

// GinValidator adapts a Validator to gin's binding.StructValidator.
type GinValidator struct {
	v *Validator
}

var _ binding.StructValidator = (*GinValidator)(nil)

// NewGinValidator wraps v for use as binding.Validator.
func NewGinValidator(v *Validator) *GinValidator {
	return &GinValidator{v: v}
}

// ValidateStruct validates structs and pointers to structs; other kinds pass.
func (g *GinValidator) ValidateStruct(obj any) error {
	if obj == nil {
		return nil
	}
	val := reflect.ValueOf(obj)
	for val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil
	}
	return g.v.Validate(obj)
}

// Engine returns the underlying validator.Validate instance.
func (g *GinValidator) Engine() any {
	return g.v.Engine()
}
