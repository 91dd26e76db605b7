package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse is the JSON error envelope for every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"` // per-field validation detail
}

// ValidationHelper wraps the struct validator with the custom tags used on
// payout and settlement request payloads.
type ValidationHelper struct {
	validator *validator.Validate
}

var ifscShape = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)

func NewValidationHelper() *ValidationHelper {
	v := validator.New()

	// ifsc: RBI IFSC shape, four-letter bank id + '0' + six-char branch code.
	v.RegisterValidation("ifsc", func(fl validator.FieldLevel) bool {
		return ifscShape.MatchString(fl.Field().String())
	})

	return &ValidationHelper{validator: v}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response. When validationErr carries
// validator field errors they are flattened into the details map.
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}

	var fieldErrs validator.ValidationErrors
	if validationErr != nil && errors.As(validationErr, &fieldErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}
