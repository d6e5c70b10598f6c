// Package validate implements the layered multi-format upload validator:
// filename safety, extension/size policy, MIME sniffing, content-shape
// checks, and a security scan, run in that order per document type.
package validate

import (
	"errors"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrUnsafeFilename indicates a filename contains path separators, "..", or
// characters outside the permitted class, generalizing the single-path-
// segment check used elsewhere in this codebase to the full filename
// character set the validator must accept.
var ErrUnsafeFilename = errors.New("validate: unsafe filename")

var filenameCharClass = regexp.MustCompile(`^[A-Za-z0-9._\-\s()]+$`)

// SafeFilename URL-decodes name, then rejects path separators, "..", and any
// character outside [A-Za-z0-9._-\s()].
func SafeFilename(name string) (string, error) {
	decoded, err := url.QueryUnescape(name)
	if err != nil {
		decoded = name
	}
	if decoded == "" {
		return "", ErrUnsafeFilename
	}
	if strings.ContainsAny(decoded, `/\`) {
		return "", ErrUnsafeFilename
	}
	if strings.Contains(decoded, "..") {
		return "", ErrUnsafeFilename
	}
	clean := filepath.Clean(decoded)
	if clean != decoded || filepath.IsAbs(clean) {
		return "", ErrUnsafeFilename
	}
	if !filenameCharClass.MatchString(decoded) {
		return "", ErrUnsafeFilename
	}
	return decoded, nil
}
