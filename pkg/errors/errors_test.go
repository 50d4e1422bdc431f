package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{MalformedRequest("bad"), http.StatusBadRequest},
		{NotFound(), http.StatusNotFound},
		{QueueFull(), http.StatusServiceUnavailable},
		{InsertFailure(errors.New("boom")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := tt.err.HTTPStatus(); got != tt.want {
			t.Errorf("%s: HTTPStatus() = %d, want %d", tt.err.Code, got, tt.want)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("underlying")
	wrapped := ConnectionLoss(cause)
	if !errors.Is(wrapped, cause) {
		t.Error("expected errors.Is to see through Wrap via Unwrap")
	}
}
