package action

import (
	"errors"
	"testing"
)

func TestNewViewHandle(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantErr error
	}{
		{name: "https link", ref: "https://example.com/art/1"},
		{name: "custom scheme", ref: "gallery://art/1"},
		{name: "file uri", ref: "file:///sdcard/art.jpg", wantErr: ErrFileURIExposed},
		{name: "upper case file uri", ref: "FILE:///sdcard/art.jpg", wantErr: ErrFileURIExposed},
		{name: "empty", ref: "  ", wantErr: ErrInvalidIntent},
		{name: "relative", ref: "/art/1", wantErr: ErrInvalidIntent},
		{name: "http without host", ref: "http:///art", wantErr: ErrInvalidIntent},
		{name: "unparseable", ref: "https://exa mple.com/%zz", wantErr: ErrInvalidIntent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewViewHandle(tc.ref)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("error = %v, want %v", err, tc.wantErr)
				}
				if h != nil {
					t.Errorf("expected nil handle on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h.String() != tc.ref {
				t.Errorf("String() = %q, want %q", h.String(), tc.ref)
			}
		})
	}
}
