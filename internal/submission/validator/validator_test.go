package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/financial"
	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
)

func TestValidateSubmitRequest(t *testing.T) {
	v := New()
	tests := []struct {
		name      string
		req       financial.SubmitRequest
		wantField string
	}{
		{name: "valid", req: financial.SubmitRequest{RawText: "Apple reported revenue of $90B in Q1 2024"}},
		{name: "valid with metadata", req: financial.SubmitRequest{RawText: "x", Metadata: map[string]any{"source": "feed"}}},
		{name: "empty", req: financial.SubmitRequest{}, wantField: "raw_text"},
		{name: "whitespace only", req: financial.SubmitRequest{RawText: " \t\n "}, wantField: "raw_text"},
		{name: "too long", req: financial.SubmitRequest{RawText: strings.Repeat("a", 1048577)}, wantField: "raw_text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateSubmitRequest(&tt.req)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Contains(t, verr.Fields, tt.wantField)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"b": "second", "a": "first"}}
	assert.Equal(t, "a:first; b:second", err.Error())
}
