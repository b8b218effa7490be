package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"

	"mspro-labs/sienna-grabber/internal/browser"
)

// ErrStructure marks a response or page that no longer has the shape the
// extractors expect, usually after an upstream layout change.
var ErrStructure = errors.New("unexpected page structure")

// Kind classifies why a fetch failed.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindTimeout
	KindStructure
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindStructure:
		return "structure"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FetchError is the only error type returned by Fetcher implementations.
type FetchError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch: %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// statusError is a non-2xx API response worth retrying.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, body)
}

func isForbidden(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.Code == 403
}

// classify wraps err in a FetchError, keeping an existing classification.
func classify(op string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}

	kind := KindNetwork
	var ne net.Error
	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &ne) && ne.Timeout():
		kind = KindTimeout
	case errors.Is(err, ErrStructure),
		errors.Is(err, browser.ErrElementMissing),
		errors.Is(err, browser.ErrNoAPIRequest):
		kind = KindStructure
	}
	return &FetchError{Kind: kind, Op: op, Err: err}
}

// retryable reports whether another attempt could succeed. Only network
// failures are retried, and never once ctx is done.
func retryable(ctx context.Context, fe *FetchError) bool {
	if ctx.Err() != nil {
		return false
	}
	return fe.Kind == KindNetwork
}
