// Package validator checks scan batches and raw findings with
// go-playground/validator, adding tags for the catalog's own value types.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
	"github.com/openctemio/vulncatalog/pkg/fingerprint"
)

// Custom tags.
const (
	tagScannerType = "scanner_type"
	tagSeverity    = "severity"
	tagFingerprint = "fingerprint"
	tagOpaqueID    = "opaque_id"
)

// Validator is safe for concurrent use. Build one and share it; the
// underlying validator caches struct metadata.
type Validator struct {
	validate *validator.Validate
}

// FieldError describes one rejected field. Field is the JSON path of the
// value, such as "findings[2].severity".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors is returned by Validate when at least one field is rejected.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Field + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)

	for tag, fn := range map[string]validator.Func{
		tagScannerType: validEnum(func(s string) bool { return vulnerability.ScannerType(s).IsValid() }),
		tagSeverity:    validEnum(func(s string) bool { return vulnerability.Severity(s).IsValid() }),
		tagFingerprint: validEnum(fingerprint.IsValid),
		tagOpaqueID:    validOpaqueID,
	} {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("validator: register %s: %v", tag, err))
		}
	}
	return &Validator{validate: v}
}

// Validate checks s and returns FieldErrors for rejected fields.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := make(FieldErrors, len(verrs))
	for i, e := range verrs {
		out[i] = FieldError{Field: fieldPath(e), Message: message(e)}
	}
	return out
}

// jsonName reports fields by their JSON name so errors match the batch
// document the caller sent.
func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

// fieldPath drops the leading struct type from the namespace.
func fieldPath(e validator.FieldError) string {
	_, path, ok := strings.Cut(e.Namespace(), ".")
	if !ok {
		return e.Field()
	}
	return path
}

// validEnum leaves empty values to "required" and "omitempty".
func validEnum(valid func(string) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || valid(s)
	}
}

// validOpaqueID rejects '|', which separates the parts of an instance key,
// and control characters.
func validOpaqueID(fl validator.FieldLevel) bool {
	return !strings.ContainsFunc(fl.Field().String(), func(r rune) bool {
		return r == '|' || r < 0x20 || r == 0x7f
	})
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "gte":
		return "must be at least " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case tagScannerType:
		types := vulnerability.AllScannerTypes()
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		return "must be one of: " + strings.Join(names, ", ")
	case tagSeverity:
		return "must be one of: critical, high, medium, low, info, unknown"
	case tagFingerprint:
		return fmt.Sprintf("must be %d lowercase hex characters", fingerprint.Length)
	case tagOpaqueID:
		return "must not contain '|' or control characters"
	}
	return "failed on '" + e.Tag() + "' validation"
}
