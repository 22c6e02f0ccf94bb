package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrValidation marks input rejected before any request is issued.
var ErrValidation = errors.New("model.validation")

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,50}$`)

var (
	validatorOnce     sync.Once
	validatorInstance *validator.Validate
)

func structValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInstance = validator.New(validator.WithRequiredStructEnabled())
		_ = validatorInstance.RegisterValidation("username", func(field validator.FieldLevel) bool {
			return usernamePattern.MatchString(field.Field().String())
		})
	})
	return validatorInstance
}

// Validate checks struct tags and returns an error wrapping ErrValidation that names the failing fields.
func Validate(value any) error {
	err := structValidator().Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		fields = append(fields, strings.ToLower(fieldError.Field())+"("+fieldError.Tag()+")")
	}
	return fmt.Errorf("%w: invalid %s", ErrValidation, strings.Join(fields, ", "))
}
