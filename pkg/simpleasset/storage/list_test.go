package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

func TestUnderPrefix(t *testing.T) {
	tests := []struct {
		path, prefix string
		want         bool
	}{
		{"site/a/x.png", "site", true},
		{"site/a/x.png", "site/", true},
		{"site/a/x.png", "/site/a", true},
		{"site/a/x.png", "site/a/x.png", true},
		{"site/ab/x.png", "site/a", false},
		{"siteB/a/x.png", "site", false},
		{"anything", "", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UnderPrefix(tt.path, tt.prefix), "%s under %s", tt.path, tt.prefix)
	}
}

func TestApplyListOptions(t *testing.T) {
	now := time.Now()
	entries := []simpleasset.ObjectEntry{
		{Path: "b", UpdatedAt: now.Add(-time.Hour)},
		{Path: "c", UpdatedAt: now},
		{Path: "a", UpdatedAt: now.Add(-2 * time.Hour)},
	}

	byName := ApplyListOptions(append([]simpleasset.ObjectEntry(nil), entries...), simpleasset.ListOptions{SortBy: simpleasset.SortByName})
	assert.Equal(t, []string{"a", "b", "c"}, paths(byName))

	byTime := ApplyListOptions(append([]simpleasset.ObjectEntry(nil), entries...), simpleasset.ListOptions{SortBy: simpleasset.SortByUpdatedAt, Limit: 2})
	assert.Equal(t, []string{"c", "b"}, paths(byTime))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentTypeFor("a/b/c.JPG"))
	assert.Equal(t, "image/webp", ContentTypeFor("c.webp"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("c"))
	assert.Equal(t, "https://x/y/a/b.png", PublicURL("https://x/y/", "/a/b.png"))
	assert.Equal(t, "b.png", NameOf("a/b.png"))
	assert.Equal(t, "b.png", NameOf("b.png"))
}

func paths(entries []simpleasset.ObjectEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}
