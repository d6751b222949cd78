package book

import (
	"errors"
	"testing"

	"github.com/matryer/is"
)

type pagedRequest struct {
	Pages int    `json:"pages" validate:"min=10,max=900"`
	Code  string `json:"code" validate:"min=3"`
}

func TestValidateRequest(t *testing.T) {
	testCases := []struct {
		name    string
		req     pagedRequest
		message string
	}{
		{"numeric lower bound", pagedRequest{Pages: 2, Code: "abc"}, "pages must be at least 10"},
		{"numeric upper bound", pagedRequest{Pages: 901, Code: "abc"}, "pages must be at most 900"},
		{"string lower bound", pagedRequest{Pages: 10, Code: "ab"}, "code must be at least 3 characters"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			is := is.New(t)

			var verr ValidationError
			is.True(errors.As(validateRequest(tc.req), &verr))
			is.Equal(len(verr.Fields), 1)
			is.Equal(verr.Fields[0].Message, tc.message)
		})
	}
}
