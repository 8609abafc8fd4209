package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

type FailureKind string

const (
	FailureQuota   FailureKind = "quota"
	FailureGeneric FailureKind = "generic"
)

// ProviderError wraps a failed oracle call with the provider's status code,
// when one is known.
type ProviderError struct {
	Code int
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("oracle: provider error (code %d): %v", e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Classify maps an oracle error to the apology it should produce and the code
// to quote. Timeouts are generic failures.
func Classify(err error) (FailureKind, int) {
	code := statusCode(err)
	if code == http.StatusTooManyRequests {
		return FailureQuota, code
	}
	if code == 0 {
		msg := err.Error()
		if strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "429") {
			return FailureQuota, http.StatusTooManyRequests
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return FailureGeneric, http.StatusGatewayTimeout
		}
		return FailureGeneric, http.StatusInternalServerError
	}
	return FailureGeneric, code
}

func statusCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Code != 0 {
		return pe.Code
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var coded interface{ HTTPCode() int }
	if errors.As(err, &coded) && coded.HTTPCode() > 0 {
		return coded.HTTPCode()
	}
	return 0
}
