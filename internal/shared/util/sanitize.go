package util

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// MaxFileNameLen bounds sanitized document names in bytes.
const MaxFileNameLen = 200

// ErrInvalidFileName is returned when nothing usable is left of a name.
var ErrInvalidFileName = errors.New("invalid file name")

// SanitizeFileName reduces an uploaded document name to a single safe path
// segment. Directory components are dropped, control characters removed and
// the base truncated so the extension survives.
func SanitizeFileName(name string) (string, error) {
	s := strings.ReplaceAll(name, "\\", "/")
	s = path.Base(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." || s == "/" || strings.Contains(s, "..") {
		return "", ErrInvalidFileName
	}
	return truncateName(s, MaxFileNameLen), nil
}

func truncateName(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	ext := path.Ext(s)
	if len(ext) >= limit {
		ext = ""
	}
	base := s[:len(s)-len(ext)]
	keep := limit - len(ext)
	for keep > 0 && !utf8.RuneStart(base[keep]) {
		keep--
	}
	return base[:keep] + ext
}
