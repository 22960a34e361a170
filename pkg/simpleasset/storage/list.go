// Package storage holds helpers shared by the ObjectStore backends in its
// subpackages.
package storage

import (
	"sort"
	"strings"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// UnderPrefix reports whether path lies at or below prefix on a segment
// boundary, so "site/a" does not match prefix "site/ab". An empty prefix
// matches everything.
func UnderPrefix(path, prefix string) bool {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// ApplyListOptions sorts entries and truncates them to opts.Limit.
// Entries are sorted by path unless SortByUpdatedAt is requested, in which
// case the most recently updated come first.
func ApplyListOptions(entries []simpleasset.ObjectEntry, opts simpleasset.ListOptions) []simpleasset.ObjectEntry {
	switch opts.SortBy {
	case simpleasset.SortByUpdatedAt:
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
				return entries[i].Path < entries[j].Path
			}
			return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
		})
	default:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Path < entries[j].Path
		})
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries
}

// ContentTypeFor guesses the content type of a stored object from its
// extension.
func ContentTypeFor(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		if t, ok := simpleasset.ImageTypeFromExtension(path[i+1:]); ok {
			return t.MimeType()
		}
	}
	return "application/octet-stream"
}

// PublicURL joins a public base URL and an object path.
func PublicURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// NameOf returns the last segment of path
func NameOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
