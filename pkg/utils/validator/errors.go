package validator

import "strings"

// ValidationErrors represents a collection of validation errors.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   any    `json:"value,omitempty"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return ""
	}
	return "validation failed: " + strings.Join(v.Messages(), "; ")
}

// HasErrors returns true if there are validation errors.
func (v *ValidationErrors) HasErrors() bool {
	return v != nil && len(v.Errors) > 0
}

// First returns the first error message, or empty string if no errors.
func (v *ValidationErrors) First() string {
	if !v.HasErrors() {
		return ""
	}
	return v.Errors[0].Message
}

// Messages returns all error messages as a slice.
func (v *ValidationErrors) Messages() []string {
	if !v.HasErrors() {
		return nil
	}
	messages := make([]string, len(v.Errors))
	for i, fe := range v.Errors {
		messages[i] = fe.Message
	}
	return messages
}

// ForField returns all error messages for a specific field.
func (v *ValidationErrors) ForField(field string) []string {
	if !v.HasErrors() {
		return nil
	}
	var messages []string
	for _, fe := range v.Errors {
		if fe.Field == field {
			messages = append(messages, fe.Message)
		}
	}
	return messages
}

// ToMap converts validation errors to a map suitable for JSON response.
func (v *ValidationErrors) ToMap() map[string]any {
	if !v.HasErrors() {
		return nil
	}
	return map[string]any{
		"errors": v.Errors,
		"count":  len(v.Errors),
	}
}
