package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// Classify wraps err in a TransientProviderError when a retry may succeed.
// Other errors are returned unchanged.
func Classify(provider string, err error) error {
	if err == nil || domain.IsTransient(err) {
		return err
	}
	if IsRetryableError(err) {
		return &domain.TransientProviderError{Provider: provider, Err: err}
	}
	return err
}

func retryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// IsRetryableError reports whether err is a timeout, connection failure,
// rate limit or server error.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// Caller cancellation is final.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return retryableStatus(openaiErr.StatusCode)
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(anthropicErr.StatusCode)
	}
	var ollamaErr api.StatusError
	if errors.As(err, &ollamaErr) {
		return retryableStatus(ollamaErr.StatusCode)
	}
	var ollamaErrPtr *api.StatusError
	if errors.As(err, &ollamaErrPtr) {
		return retryableStatus(ollamaErrPtr.StatusCode)
	}
	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return retryableStatus(genaiErr.Code)
	}

	// String fallback only for untyped errors from third-party libraries
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"rate limit", "connection refused", "connection reset", "timeout", "eof", "no such host"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
