package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bookshelf-service/cmd/api/book"
)

const maxBodyBytes = 1 << 20

type ValidationErrorResponse struct {
	Code    int               `json:"error_code"`
	Message string            `json:"error_message"`
	Fields  []book.FieldError `json:"fields"`
}

/* Writes a JSON response into a http.ResponseWriter. */
func responseJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("writing json response", slog.Any("error", err))
	}
}

/*
Decodes a single JSON value from the request body into dst. Unknown fields,
trailing data and bodies larger than maxBodyBytes are rejected.
*/
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return fmt.Errorf("body must not be larger than %d bytes", maxBytesErr.Limit)
		}
		return err
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("body must only contain a single JSON value")
	}
	return nil
}

func (h *BookHandler) invalidJSON(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.InfoContext(r.Context(), "invalid json request", slog.Any("error", err), slog.String("request_id", RequestID(r.Context())))
	errR := book.ErrResponse{
		Code:    book.ErrResponseEntryInvalidJSON.Code,
		Message: book.ErrResponseEntryInvalidJSON.Message + err.Error(),
	}
	responseJSON(w, http.StatusBadRequest, errR)
}

/* Maps an error returned by the book service to its response. Internal failures stay opaque. */
func (h *BookHandler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := slog.String("request_id", RequestID(r.Context()))

	var verr book.ValidationError
	switch {
	case errors.As(err, &verr):
		responseJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Code:    book.ErrResponseValidationFailed.Code,
			Message: book.ErrResponseValidationFailed.Message,
			Fields:  verr.Fields,
		})
	case errors.Is(err, book.ErrResponseBookNotFound):
		h.logger.InfoContext(r.Context(), "book not found", slog.String("path", r.URL.Path), reqID)
		responseJSON(w, http.StatusNotFound, book.ErrResponseBookNotFound)
	case errors.Is(err, book.ErrResponseReviewNotFound):
		h.logger.InfoContext(r.Context(), "review not found", slog.String("path", r.URL.Path), reqID)
		responseJSON(w, http.StatusNotFound, book.ErrResponseReviewNotFound)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		cause := context.DeadlineExceeded
		if errors.Is(err, context.Canceled) {
			cause = context.Canceled
		}
		h.logger.WarnContext(r.Context(), "request did not complete in time", slog.Any("error", err), reqID)
		responseJSON(w, http.StatusGatewayTimeout, book.ErrResponse{
			Code:    book.ErrResponseRequestTimeout.Code,
			Message: book.ErrResponseRequestTimeout.Message + cause.Error(),
		})
	default:
		h.logger.ErrorContext(r.Context(), "internal error", slog.Any("error", err), reqID)
		responseJSON(w, http.StatusInternalServerError, book.ErrResponseInternal)
	}
}

func (h *BookHandler) notFound(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, http.StatusNotFound, book.ErrResponseRouteNotFound)
}

func (h *BookHandler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, http.StatusMethodNotAllowed, book.ErrResponseMethodNotAllowed)
}
