package book

import (
	"errors"
	"fmt"
	"strings"
)

type ErrResponse struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_message"`
}

func (e ErrResponse) Error() string {
	return e.Message
}

var ErrResponseValidationFailed = ErrResponse{100, "one or more fields are invalid."}
var ErrResponseBookNotFound = ErrResponse{101, "book not found"}
var ErrResponseEntryInvalidJSON = ErrResponse{102, "invalid json request."}
var ErrResponseIdInvalidFormat = ErrResponse{103, "the endpoint is not a valid format ID. Must be /api/books/{uuid}"}
var ErrResponseReviewNotFound = ErrResponse{104, "review not found"}
var ErrResponseRouteNotFound = ErrResponse{105, "the requested resource could not be found."}
var ErrResponseMethodNotAllowed = ErrResponse{106, "the method is not supported for this resource."}
var ErrResponseRateLimitExceeded = ErrResponse{107, "rate limit exceeded."}
var ErrResponseInternal = ErrResponse{108, "an internal server error occurred. Please try again later."}
var ErrResponseRequestTimeout = ErrResponse{109, "error from context: "}

// ErrConstraintViolation is returned by a Repository when a review already
// exists for the book being reviewed.
var ErrConstraintViolation = errors.New("constraint violation: book already has a review")

// ErrStorageFault marks failures coming from the storage layer that cannot be
// recovered by the caller.
var ErrStorageFault = errors.New("storage fault")

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violated field of a request, not only the first.
type ValidationError struct {
	Fields []FieldError
}

func (e ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

type ErrNotificationFailed struct {
	statusCode int
}

func (e ErrNotificationFailed) Error() string {
	return fmt.Sprintf("ntfy wrong response - want: 200 OK, got: %d", e.statusCode)
}

func NewErrNotificationFailed(statusCode int) ErrNotificationFailed {
	return ErrNotificationFailed{statusCode: statusCode}
}
