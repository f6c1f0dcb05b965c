package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestErrorTypeString(t *testing.T) {
	tests := []struct {
		errType  ErrorType
		expected string
	}{
		{ErrorTypeRateLimit, "rate_limit"},
		{ErrorTypeTransient, "transient"},
		{ErrorTypeEmptyResponse, "empty_response"},
		{ErrorTypeAuth, "auth"},
		{ErrorTypeBadPrompt, "bad_prompt"},
		{ErrorTypeUnknown, "unknown"},
		{ErrorTypeServiceUnavailable, "service_unavailable"},
		{ErrorType(99), "invalid"},
	}

	for _, tt := range tests {
		if got := tt.errType.String(); got != tt.expected {
			t.Errorf("ErrorType(%d).String() = %q, want %q", tt.errType, got, tt.expected)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorType{ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse, ErrorTypeUnknown}
	for _, et := range retryable {
		if !NewError(et, "x").IsRetryable() {
			t.Errorf("Expected %s to be retryable", et)
		}
	}

	notRetryable := []ErrorType{ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeServiceUnavailable}
	for _, et := range notRetryable {
		if NewError(et, "x").IsRetryable() {
			t.Errorf("Expected %s to not be retryable", et)
		}
	}

	if IsRetryable(errors.New("plain")) {
		t.Error("Unclassified errors should not be retryable")
	}
}

func TestIsAndTypeOfThroughWrapping(t *testing.T) {
	base := NewError(ErrorTypeRateLimit, "slow down")
	wrapped := fmt.Errorf("generate questions: %w", base)

	if !Is(wrapped, ErrorTypeRateLimit) {
		t.Error("Expected Is to see through wrapping")
	}
	if TypeOf(wrapped) != ErrorTypeRateLimit {
		t.Errorf("Expected rate_limit, got %s", TypeOf(wrapped))
	}
	if TypeOf(errors.New("plain")) != ErrorTypeUnknown {
		t.Error("Expected unknown for plain error")
	}
}

func TestClassifyStatus(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		status   int
		expected ErrorType
	}{
		{http.StatusUnauthorized, ErrorTypeAuth},
		{http.StatusForbidden, ErrorTypeAuth},
		{http.StatusTooManyRequests, ErrorTypeRateLimit},
		{http.StatusBadRequest, ErrorTypeBadPrompt},
		{http.StatusRequestTimeout, ErrorTypeTransient},
		{http.StatusInternalServerError, ErrorTypeTransient},
		{http.StatusBadGateway, ErrorTypeTransient},
	}

	for _, tt := range tests {
		got := ClassifyStatus(tt.status, cause)
		if got.Type != tt.expected {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", tt.status, got.Type, tt.expected)
		}
		if got.StatusCode != tt.status {
			t.Errorf("Expected status %d preserved, got %d", tt.status, got.StatusCode)
		}
		if !errors.Is(got, cause) {
			t.Error("Expected cause to be wrapped")
		}
	}
}

func TestClassifyMessages(t *testing.T) {
	tests := []struct {
		err      error
		expected ErrorType
	}{
		{context.DeadlineExceeded, ErrorTypeTransient},
		{errors.New("read: connection reset by peer"), ErrorTypeTransient},
		{errors.New("unexpected EOF"), ErrorTypeTransient},
		{errors.New("Rate limit reached for requests"), ErrorTypeRateLimit},
		{errors.New("Incorrect API key provided"), ErrorTypeAuth},
		{errors.New("maximum context length exceeded"), ErrorTypeBadPrompt},
		{errors.New("something odd"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got.Type != tt.expected {
			t.Errorf("Classify(%q) = %s, want %s", tt.err, got.Type, tt.expected)
		}
	}

	if Classify(nil) != nil {
		t.Error("Expected nil for nil error")
	}

	existing := NewError(ErrorTypeEmptyResponse, "empty")
	if Classify(existing) != existing {
		t.Error("Expected classified error to be returned unchanged")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{NewError(ErrorTypeRateLimit, ""), http.StatusTooManyRequests},
		{NewServiceUnavailableError(errors.New("x"), 3), http.StatusServiceUnavailable},
		{NewError(ErrorTypeEmptyResponse, ""), http.StatusBadGateway},
		{NewError(ErrorTypeAuth, ""), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.expected {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.expected)
		}
	}
}

func TestServiceUnavailable(t *testing.T) {
	cause := NewError(ErrorTypeTransient, "502")
	err := NewServiceUnavailableError(cause, 4)

	if !IsServiceUnavailable(err) {
		t.Error("Expected service unavailable")
	}
	if !strings.Contains(err.Error(), "4 retry attempts") {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Expected cause in chain")
	}
}

func TestSanitizePrompt(t *testing.T) {
	short := "short prompt"
	if SanitizePrompt(short, 100) != short {
		t.Error("Short prompt should be returned unchanged")
	}

	long := strings.Repeat("a", 500) + strings.Repeat("b", 500)
	got := SanitizePrompt(long, 200)
	if !strings.HasPrefix(got, strings.Repeat("a", 100)) || !strings.HasSuffix(got, strings.Repeat("b", 100)) {
		t.Errorf("Expected first/last portions preserved, got %q", got)
	}
	if !strings.Contains(got, "[1000 chars, hash:") {
		t.Errorf("Expected length and hash marker, got %q", got)
	}
}
