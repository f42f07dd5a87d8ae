package domain

import (
	"fmt"
	"strings"
)

// ComponentName identifies a source provider by its package and class.
// The canonical string form is "package/class", with the class shortened to
// ".Class" when it lives inside the package.
type ComponentName struct {
	Package string
	Class   string
}

// ParseComponentName parses either the short or the fully qualified string form.
// Parameters:
//   - s: component string such as "com.example/.ArtSource".
// Returns:
//   - ComponentName: parsed component with a fully qualified class.
//   - error: non-nil if s is not of the form "package/class".
func ParseComponentName(s string) (ComponentName, error) {
	sep := strings.IndexByte(s, '/')
	if sep <= 0 || sep+1 >= len(s) {
		return ComponentName{}, fmt.Errorf("invalid component name %q", s)
	}
	pkg := s[:sep]
	cls := s[sep+1:]
	if strings.HasPrefix(cls, ".") {
		cls = pkg + cls
	}
	return ComponentName{Package: pkg, Class: cls}, nil
}

// FlattenToShortString returns the canonical short string form.
func (c ComponentName) FlattenToShortString() string {
	cls := c.Class
	if len(cls) > len(c.Package) && strings.HasPrefix(cls, c.Package) && cls[len(c.Package)] == '.' {
		cls = cls[len(c.Package):]
	}
	return c.Package + "/" + cls
}

// FlattenToString returns the fully qualified string form.
func (c ComponentName) FlattenToString() string {
	return c.Package + "/" + c.Class
}

func (c ComponentName) String() string {
	return c.FlattenToShortString()
}

// CanonicalComponent normalizes a component string to its short form.
// Strings that do not parse are returned unchanged.
func CanonicalComponent(s string) string {
	c, err := ParseComponentName(s)
	if err != nil {
		return s
	}
	return c.FlattenToShortString()
}
