package validator

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
)

func TestNew(t *testing.T) {
	v := New()
	require.NotNil(t, v)
	require.NotNil(t, v.validate)
}

func TestValidate_RequiredField(t *testing.T) {
	v := New()

	type TestStruct struct {
		ScanID string `json:"scan_id" validate:"required,opaque_id"`
	}

	tests := []struct {
		name    string
		input   TestStruct
		wantErr bool
	}{
		{"valid", TestStruct{ScanID: "scan-1"}, false},
		{"empty", TestStruct{ScanID: ""}, true},
		{"separator", TestStruct{ScanID: "scan|1"}, true},
		{"control char", TestStruct{ScanID: "scan\n1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_RawFinding(t *testing.T) {
	v := New()

	tests := []struct {
		name      string
		finding   vulnerability.RawFinding
		wantField string
	}{
		{"valid", vulnerability.RawFinding{Type: vulnerability.ScannerTypeSAST, Severity: vulnerability.SeverityHigh}, ""},
		{"empty type and severity", vulnerability.RawFinding{}, ""},
		{"unknown type", vulnerability.RawFinding{Type: "dast"}, "type"},
		{"bad severity", vulnerability.RawFinding{Severity: "urgent"}, "severity"},
		{"negative line", vulnerability.RawFinding{LineStart: -1}, "line_start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.finding)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verrs FieldErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.wantField, verrs[0].Field)
		})
	}
}

func TestValidate_Fingerprint(t *testing.T) {
	v := New()

	type TestStruct struct {
		Fingerprint string `json:"fingerprint" validate:"required,fingerprint"`
	}

	assert.NoError(t, v.Validate(TestStruct{Fingerprint: "0123456789abcdef0123456789abcdef"}))

	err := v.Validate(TestStruct{Fingerprint: "requires login"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fingerprint: must be 32 lowercase hex characters")
}

func TestValidate_NestedPath(t *testing.T) {
	v := New()

	type batch struct {
		ScanID   string                     `json:"scan_id" validate:"required"`
		Findings []vulnerability.RawFinding `json:"findings" validate:"dive"`
		Internal string                     `json:"-" validate:"max=1"`
	}

	err := v.Validate(batch{
		Findings: []vulnerability.RawFinding{{}, {Severity: "urgent"}},
	})
	var verrs FieldErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 2)
	assert.Equal(t, FieldError{Field: "scan_id", Message: "is required"}, verrs[0])
	assert.Equal(t, "findings[1].severity", verrs[1].Field)
	assert.EqualError(t, err, "scan_id: is required; findings[1].severity: must be one of: critical, high, medium, low, info, unknown")
}

func TestValidate_NotAStruct(t *testing.T) {
	var invalid *validator.InvalidValidationError
	assert.True(t, errors.As(New().Validate(42), &invalid))
}
