package assistant

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// UnknownErrorMessage is used when the provider does not explain a failure.
const UnknownErrorMessage = "An unknown API error occurred."

// UpstreamError is returned for any non-success response, malformed body,
// transport failure or per-request timeout.
type UpstreamError struct {
	// Op is the client operation that failed, e.g. "create_run".
	Op string
	// HTTPStatus is zero when no response was received.
	HTTPStatus int
	Message    string
	// Timeout is set when the per-request deadline expired.
	Timeout bool
	Err     error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: upstream request timed out", e.Op)
	case e.HTTPStatus > 0:
		return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.HTTPStatus, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsUpstream reports whether err carries an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// wrapError converts a go-openai or transport error into an UpstreamError.
// callerCtx is the caller's context; a deadline that fires while the caller
// is still live is the per-request timeout.
func wrapError(callerCtx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	ue := &UpstreamError{Op: op, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		ue.HTTPStatus = apiErr.HTTPStatusCode
		ue.Message = apiErr.Message
	case errors.As(err, &reqErr):
		ue.HTTPStatus = reqErr.HTTPStatusCode
	case errors.Is(err, context.DeadlineExceeded) && callerCtx.Err() == nil:
		ue.Timeout = true
	case callerCtx.Err() != nil:
		// Caller gave up; keep the context error visible to errors.Is.
		ue.Message = callerCtx.Err().Error()
		ue.Err = errors.Join(err, callerCtx.Err())
		return ue
	default:
		ue.Message = err.Error()
	}

	if ue.Message == "" {
		ue.Message = UnknownErrorMessage
	}
	return ue
}
