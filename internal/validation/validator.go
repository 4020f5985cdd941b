// Package validation validates request structs and renders itemized,
// user-facing messages for every failed field.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

var (
	accountIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	deviceIDPattern    = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	personNamePattern  = regexp.MustCompile(`^[a-zA-Z\s]+$`)
	productNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\s-]+$`)
)

// ValidationError is one failed field rule.
type ValidationError struct {
	field   string
	tag     string
	message string
}

func (e *ValidationError) Field() string { return e.field }
func (e *ValidationError) Tag() string   { return e.tag }
func (e *ValidationError) Error() string { return e.message }

// RequestValidationError collects every failed field of a request.
type RequestValidationError struct {
	errors []ValidationError
}

func (ve *RequestValidationError) Errors() []ValidationError {
	return ve.errors
}

// Error joins the field messages with ", ".
func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}

	messages := make([]string, 0, len(ve.errors))
	for _, err := range ve.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, ", ")
}

// GetValidator returns the shared validator with the custom rules registered.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// report fields by their wire names
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"json", "form", "url"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})

		registerPattern(validate, "accountid", accountIDPattern)
		registerPattern(validate, "deviceid", deviceIDPattern)
		registerPattern(validate, "personname", personNamePattern)
		registerPattern(validate, "productname", productNamePattern)

		_ = validate.RegisterValidation("price", func(fl validator.FieldLevel) bool {
			d, err := decimal.NewFromString(strings.TrimSpace(fl.Field().String()))
			return err == nil && d.IsPositive()
		})
	})

	return validate
}

func registerPattern(v *validator.Validate, tag string, re *regexp.Regexp) {
	_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	})
}

// ValidateStruct validates s and returns nil when every rule passes.
func ValidateStruct(s any) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &RequestValidationError{
			errors: []ValidationError{{field: "unknown", tag: "unknown", message: err.Error()}},
		}
	}

	fieldErrors := make([]ValidationError, len(validationErrs))
	for i, fe := range validationErrs {
		fieldErrors[i] = ValidationError{
			field:   fe.Field(),
			tag:     fe.Tag(),
			message: translateError(fe),
		}
	}
	return &RequestValidationError{errors: fieldErrors}
}

// ValidateDeviceID checks a bare device id.
func ValidateDeviceID(deviceID string) error {
	switch {
	case deviceID == "":
		return errors.New(fieldMessages["deviceID"]["required"])
	case !deviceIDPattern.MatchString(deviceID):
		return errors.New(fieldMessages["deviceID"]["deviceid"])
	}
	return nil
}

// fieldMessages holds the user-facing message per field and rule.
var fieldMessages = map[string]map[string]string{
	"accountId": {
		"required":  "accountId is required.",
		"accountid": "Invalid Account ID...",
	},
	"account": {
		"required":  "account is required.",
		"accountid": "Invalid Account ID...",
	},
	"customer": {
		"required":  "customer is required.",
		"accountid": "Invalid customer value...",
	},
	"deviceID": {
		"required": "Device ID is required.",
		"deviceid": "Invalid Device ID...",
	},
	"name": {
		"required":   "Name is required.",
		"min":        "Name must be at least 2 characters long.",
		"personname": "Name must contain only letters and spaces.",
	},
	"email": {
		"required": "Email is required.",
		"email":    "Invalid email address.",
	},
	"productName": {
		"required":    "Product Name required",
		"productname": "Invalid Product Name.",
	},
	"productPrice": {
		"required": "Product Price required",
		"price":    "Invalid Product Price. Must be a positive number.",
	},
	"payLink": {
		"required": "Payment Link required.",
		"url":      "Invalid payment Link...",
	},
}

var errorMessageTemplates = map[string]string{
	"required": "%s is required.",
	"email":    "%s must be a valid email address.",
	"url":      "%s must be a valid URL.",
}

func translateError(fe validator.FieldError) string {
	field := fe.Field()
	tag := fe.Tag()

	if msgs, ok := fieldMessages[field]; ok {
		if msg, ok := msgs[tag]; ok {
			return msg
		}
	}
	if template, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(template, field)
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s.", field, tag, fe.Param())
	}
	return fmt.Sprintf("Invalid %s.", field)
}
