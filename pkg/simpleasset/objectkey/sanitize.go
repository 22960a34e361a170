package objectkey

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

var (
	repeatedSlashes = regexp.MustCompile(`/{2,}`)
	filenamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+\.(jpg|jpeg|png|gif|webp)$`)
)

// Sanitize validates raw against the storage path grammar:
//
//	path      := namespace "/" uuid ["/" filename]
//	namespace := "temp-preview" | uuid
//	filename  := [A-Za-z0-9._-]+ "." (jpg|jpeg|png|gif|webp)
//
// It strips ".." sequences and collapses and trims slashes first, then
// rejects anything that still looks like traversal. ok is false on any
// violation; callers must treat that as a rejection and never fall back
// to a default path.
func Sanitize(raw string) (simpleasset.StoragePath, bool) {
	cleaned := strings.ReplaceAll(raw, "..", "")
	cleaned = repeatedSlashes.ReplaceAllString(cleaned, "/")
	cleaned = strings.Trim(cleaned, "/")

	if cleaned == "" ||
		strings.Contains(cleaned, "..") ||
		strings.HasPrefix(cleaned, "/") ||
		strings.Contains(cleaned, "//") {
		return simpleasset.StoragePath{}, false
	}

	segments := strings.Split(cleaned, "/")
	if len(segments) < 2 || len(segments) > 3 {
		return simpleasset.StoragePath{}, false
	}

	if segments[0] != simpleasset.TempPreviewRoot && !IsUUID(segments[0]) {
		return simpleasset.StoragePath{}, false
	}
	if !IsUUID(segments[1]) {
		return simpleasset.StoragePath{}, false
	}

	p := simpleasset.StoragePath{Root: segments[0], Collection: segments[1]}
	if len(segments) == 3 {
		if !IsFilename(segments[2]) {
			return simpleasset.StoragePath{}, false
		}
		p.Filename = segments[2]
	}
	return p, true
}

// SanitizeObject is Sanitize restricted to object paths (three segments).
func SanitizeObject(raw string) (simpleasset.StoragePath, bool) {
	p, ok := Sanitize(raw)
	if !ok || p.IsDir() {
		return simpleasset.StoragePath{}, false
	}
	return p, true
}

// IsUUID reports whether s is a canonical hyphenated UUID.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// IsFilename reports whether s is an allowed image filename.
func IsFilename(s string) bool {
	return filenamePattern.MatchString(s)
}
