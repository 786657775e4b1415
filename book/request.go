// Package book drives the page generator through a five-page coloring book
// run and tracks its progress.
package book

import (
	"errors"
	"fmt"
	"strings"

	"dreamlines/imagegen"
)

// ErrInvalidRequest is returned for a request missing a theme or name.
var ErrInvalidRequest = errors.New("book: invalid request")

// Request is an immutable generation request.
type Request struct {
	Theme         string           `json:"theme"`
	RecipientName string           `json:"recipientName"`
	Quality       imagegen.Quality `json:"quality"`
}

// NewRequest trims and validates the user's input.
func NewRequest(theme, recipientName string, quality imagegen.Quality) (Request, error) {
	req := Request{
		Theme:         strings.TrimSpace(theme),
		RecipientName: strings.TrimSpace(recipientName),
		Quality:       quality,
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate checks that every field is usable.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Theme) == "" {
		return fmt.Errorf("%w: theme is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.RecipientName) == "" {
		return fmt.Errorf("%w: recipient name is required", ErrInvalidRequest)
	}
	if !r.Quality.Valid() {
		return fmt.Errorf("%w: unknown quality %q", ErrInvalidRequest, r.Quality)
	}
	return nil
}
