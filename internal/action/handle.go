// Package action turns view-intent references published by sources into
// handles the host can hand to clients.
package action

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrInvalidIntent is returned when a reference cannot be parsed into a dispatchable action.
	ErrInvalidIntent = errors.New("invalid view intent")

	// ErrFileURIExposed is returned when a reference points at a host-local file.
	ErrFileURIExposed = errors.New("view intent exposes a file:// URI")
)

// Handle is a dispatchable view action.
type Handle struct {
	URL *url.URL
}

// String returns the reference the handle was built from, normalized.
func (h *Handle) String() string {
	return h.URL.String()
}

// NewViewHandle builds a dispatchable handle from a view intent reference.
// Parameters:
//   - ref: absolute URI such as "https://example.com/art/1" or "myapp://art/1".
// Returns:
//   - *Handle: handle ready to be exposed to clients.
//   - error: ErrFileURIExposed for local files, ErrInvalidIntent for anything else unusable.
func NewViewHandle(ref string) (*Handle, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrInvalidIntent)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: missing scheme in %q", ErrInvalidIntent, ref)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return nil, ErrFileURIExposed
	case "http", "https":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidIntent, ref)
		}
	}
	return &Handle{URL: u}, nil
}
