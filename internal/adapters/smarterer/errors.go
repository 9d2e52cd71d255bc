package smarterer

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds for remote API errors.
var (
	ErrRemoteAPI      = errors.New("remote api error")
	ErrMalformedReply = errors.New("malformed remote response")
)

// maxErrorBody caps how much of a failed response body is kept in the error text.
const maxErrorBody = 512

// RemoteAPIError reports a non-200 reply, an undecodable body, or a transport
// failure (StatusCode 0) from the assessment service.
type RemoteAPIError struct {
	Op         string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *RemoteAPIError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("smarterer %s: transport: %v", e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("smarterer %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return fmt.Sprintf("smarterer %s: not-ok response: HTTP %d: %q", e.Op, e.StatusCode, body)
}

func (e *RemoteAPIError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRemoteAPI) match any RemoteAPIError.
func (e *RemoteAPIError) Is(target error) bool { return target == ErrRemoteAPI }

// Retryable reports whether repeating the call may succeed: transport
// failures, throttling and server errors.
func (e *RemoteAPIError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
