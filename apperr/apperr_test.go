package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestWrap_KeepsCodeAndCause(t *testing.T) {
	cause := errors.New("record not found")
	err := Wrap(cause, ErrNotFound, "article not found")

	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrapped error to match ErrNotFound")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped error to unwrap to the cause")
	}
	if got := Status(err); got != http.StatusNotFound {
		t.Fatalf("Status() = %d, want %d", got, http.StatusNotFound)
	}
	if ErrNotFound.Err != nil {
		t.Fatalf("Wrap must not mutate the sentinel")
	}
}

func TestWrap_NilError(t *testing.T) {
	if err := Wrap(nil, ErrDatabase, "x"); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestPayload(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantMsg  string
		wantKeys int
	}{
		{"plain error", errors.New("boom"), "internal_error", "boom", 2},
		{"typed", Newf(ErrValidation, "title is required"), "validation_error", "title is required", 2},
		{"with fields", WithFields(ErrValidation, map[string]any{"title": "required"}), "validation_error", "validation_error", 3},
		{"nil", nil, "", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Payload(tt.err)
			if len(got) != tt.wantKeys {
				t.Fatalf("Payload() has %d keys, want %d: %v", len(got), tt.wantKeys, got)
			}
			if tt.wantKeys == 0 {
				return
			}
			if got["code"] != tt.wantCode {
				t.Errorf("code = %v, want %v", got["code"], tt.wantCode)
			}
			if got["message"] != tt.wantMsg {
				t.Errorf("message = %v, want %v", got["message"], tt.wantMsg)
			}
		})
	}
}

func TestStatus_Default(t *testing.T) {
	if got := Status(errors.New("x")); got != http.StatusInternalServerError {
		t.Fatalf("Status() = %d, want 500", got)
	}
	if got := Status(ErrRateLimited); got != http.StatusTooManyRequests {
		t.Fatalf("Status() = %d, want 429", got)
	}
}
