package textutil

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters are removed. The result is NFC-normalized and trimmed.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(fileNameReplacer.Replace(name))
}

// UploadName reduces a client-supplied filename to a safe base name. Directory
// components are dropped, and names that sanitize to nothing or to a dot entry
// fall back to the provided default.
func UploadName(name, fallback string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = SanitizeFileName(filepath.Base(name))
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return fallback
	}
	return name
}

// Stem returns the file name without directory or extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
