package storemesh_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pricetrack/storemesh"
)

func TestValidationError(t *testing.T) {
	err := storemesh.NewValidationError("price", "must be positive, got %v", -1)
	if !errors.Is(err, storemesh.ErrValidation) {
		t.Error("ValidationError does not match ErrValidation")
	}
	if got, want := err.Error(), "storemesh: invalid price: must be positive, got -1"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	wrapped := fmt.Errorf("submit: %w", err)
	var ve *storemesh.ValidationError
	if !errors.As(wrapped, &ve) || ve.Field != "price" {
		t.Errorf("errors.As = %+v", ve)
	}

	bare := storemesh.NewValidationError("", "empty draft")
	if got := bare.Error(); got != "storemesh: invalid input: empty draft" {
		t.Errorf("Error() = %q", got)
	}
}

func TestTransient(t *testing.T) {
	cause := errors.New("connection reset")
	err := storemesh.Transient("insert record", cause)
	if !errors.Is(err, storemesh.ErrTransientStore) || !errors.Is(err, cause) {
		t.Errorf("Transient() = %v does not wrap both", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", storemesh.NewValidationError("unit", "empty"), false},
		{"not found", fmt.Errorf("%w: shop 4", storemesh.ErrNotFound), false},
		{"duplicate", fmt.Errorf("%w: record", storemesh.ErrDuplicate), false},
		{"transient", storemesh.Transient("query", errors.New("timeout")), true},
		{"unknown", errors.New("boom"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := storemesh.IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
