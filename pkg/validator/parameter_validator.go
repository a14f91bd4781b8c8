package validator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FieldType enumerates the parameter types a report can declare
type FieldType string

const (
	FieldTypeString  FieldType = "STRING"
	FieldTypeInteger FieldType = "INTEGER"
	FieldTypeDate    FieldType = "DATE"
)

// ParameterValidator validates report parameter bags against field definitions
type ParameterValidator struct{}

// NewParameterValidator creates a new parameter validator
func NewParameterValidator() *ParameterValidator {
	return &ParameterValidator{}
}

// FieldDefinition represents a field definition for validation
type FieldDefinition struct {
	Type        FieldType      `json:"type"`
	Required    bool           `json:"required"`
	Description string         `json:"description,omitempty"`
	Validation  map[string]any `json:"validation,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

// Error joins the collected messages, empty when valid
func (r ValidationResult) Error() string {
	messages := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		messages = append(messages, e.Message)
	}
	return strings.Join(messages, "; ")
}

// ValidateProperties validates parameters against field definitions
func (pv *ParameterValidator) ValidateProperties(properties map[string]any, fieldDefinitions map[string]FieldDefinition) ValidationResult {
	result := ValidationResult{
		IsValid: true,
		Errors:  []ValidationError{},
	}

	for _, fieldName := range sortedKeys(fieldDefinitions) {
		fieldDef := fieldDefinitions[fieldName]
		value, exists := properties[fieldName]

		if fieldDef.Required && (!exists || value == nil) {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: fmt.Sprintf("required field '%s' is missing", fieldName),
			})
			continue
		}

		if !exists || value == nil {
			continue
		}

		if err := pv.validateFieldType(fieldName, value, fieldDef.Type); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: err.Error(),
				Value:   value,
			})
			continue
		}

		if fieldDef.Validation != nil {
			if err := pv.validateCustomRules(fieldName, value, fieldDef.Validation); err != nil {
				result.IsValid = false
				result.Errors = append(result.Errors, ValidationError{
					Field:   fieldName,
					Message: err.Error(),
					Value:   value,
				})
			}
		}
	}

	return result
}

func (pv *ParameterValidator) validateFieldType(fieldName string, value any, expectedType FieldType) error {
	switch FieldType(strings.ToUpper(string(expectedType))) {
	case FieldTypeString:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field '%s' must be a string, got %T", fieldName, value)
		}
		if strings.TrimSpace(str) == "" {
			return fmt.Errorf("field '%s' must be a non-empty string", fieldName)
		}
	case FieldTypeInteger:
		if _, ok := toInt(value); !ok {
			return fmt.Errorf("field '%s' must be an integer, got %T", fieldName, value)
		}
	case FieldTypeDate:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field '%s' must be a date string, got %T", fieldName, value)
		}
		if _, err := time.Parse("2006-01-02", str); err != nil {
			return fmt.Errorf("field '%s' must be a valid date (YYYY-MM-DD): %v", fieldName, err)
		}
	default:
		return fmt.Errorf("unknown field type: %s", expectedType)
	}
	return nil
}

func (pv *ParameterValidator) validateCustomRules(fieldName string, value any, rules map[string]any) error {
	if minVal, exists := rules["min"]; exists {
		v, okV := toInt(value)
		m, okM := toInt(minVal)
		if okV && okM && v < m {
			return fmt.Errorf("field '%s' value %v is less than minimum %v", fieldName, value, minVal)
		}
	}

	if maxVal, exists := rules["max"]; exists {
		v, okV := toInt(value)
		m, okM := toInt(maxVal)
		if okV && okM && v > m {
			return fmt.Errorf("field '%s' value %v is greater than maximum %v", fieldName, value, maxVal)
		}
	}

	if maxLen, exists := rules["max_length"]; exists {
		if strVal, ok := value.(string); ok {
			if limit, ok := toInt(maxLen); ok && len(strVal) > limit {
				return fmt.Errorf("field '%s' length %d is greater than maximum %v", fieldName, len(strVal), maxLen)
			}
		}
	}

	return nil
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

func sortedKeys(defs map[string]FieldDefinition) []string {
	keys := make([]string, 0, len(defs))
	for key := range defs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
