package core

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"linkedai/internal/types"
)

// Validator wraps go-playground/validator for request body validation.
type Validator struct {
	validate *validator.Validate
}

// NewValidator builds a validator using struct json tags for field names in
// error details.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	return &Validator{validate: v}
}

// ValidateStruct validates s and translates violations into a single
// AppError whose details map field names to the failed rule.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}

	appErr := types.NewAppError(types.ErrCodeValidationMissingField,
		"request validation failed", err)
	appErr.Details = details
	return appErr
}
