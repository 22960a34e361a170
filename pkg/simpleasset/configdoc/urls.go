package configdoc

import (
	"sort"
	"strings"

	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
)

// URLMatcher recognizes the platform's own public storage URLs.
type URLMatcher interface {
	// MatchURL returns the storage path a URL points to.
	MatchURL(s string) (path string, ok bool)
}

// MatcherFunc adapts a function to URLMatcher
type MatcherFunc func(s string) (string, bool)

func (f MatcherFunc) MatchURL(s string) (string, bool) {
	return f(s)
}

// PublicURLMatcher matches URLs of the form {BaseURL}/{storage path} where
// the storage path passes the path grammar and names an object.
type PublicURLMatcher struct {
	BaseURL string
}

// NewPublicURLMatcher returns a matcher for baseURL. A trailing slash on
// baseURL is ignored.
func NewPublicURLMatcher(baseURL string) PublicURLMatcher {
	return PublicURLMatcher{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (m PublicURLMatcher) MatchURL(s string) (string, bool) {
	if m.BaseURL == "" {
		return "", false
	}
	rest, ok := strings.CutPrefix(s, m.BaseURL+"/")
	if !ok {
		return "", false
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	// the URL must name the object exactly; sanitized variants are not matches
	p, ok := objectkey.SanitizeObject(rest)
	if !ok || p.String() != rest {
		return "", false
	}
	return p.String(), true
}

// ExtractURLs walks doc and returns every string leaf the matcher accepts,
// keyed by URL with its storage path as value. Object keys are not
// inspected.
func ExtractURLs(doc Value, m URLMatcher) map[string]string {
	c := &collector{matcher: m, found: make(map[string]string)}
	Visit[struct{}](doc, c)
	return c.found
}

// ExtractPaths returns the sorted, de-duplicated storage paths referenced
// by doc.
func ExtractPaths(doc Value, m URLMatcher) []string {
	seen := make(map[string]struct{})
	for _, p := range ExtractURLs(doc, m) {
		seen[p] = struct{}{}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

type collector struct {
	matcher URLMatcher
	found   map[string]string
}

func (c *collector) VisitNull() struct{} { return struct{}{} }
func (c *collector) VisitBool(Bool) struct{} { return struct{}{} }
func (c *collector) VisitNumber(Number) struct{} { return struct{}{} }

func (c *collector) VisitString(s String) struct{} {
	if p, ok := c.matcher.MatchURL(string(s)); ok {
		c.found[string(s)] = p
	}
	return struct{}{}
}

func (c *collector) VisitArray(a Array) struct{} {
	for _, v := range a {
		Visit[struct{}](v, c)
	}
	return struct{}{}
}

func (c *collector) VisitObject(o Object) struct{} {
	for _, m := range o {
		Visit[struct{}](m.Value, c)
	}
	return struct{}{}
}

// RewriteURLs returns a copy of doc in which every string leaf present as a
// key in replacements is replaced by its value. Keys, array order and all
// other leaves are left as they are. doc itself is not modified.
func RewriteURLs(doc Value, replacements map[string]string) Value {
	return Visit[Value](doc, rewriter(replacements))
}

type rewriter map[string]string

func (r rewriter) VisitNull() Value { return Null{} }
func (r rewriter) VisitBool(b Bool) Value { return b }
func (r rewriter) VisitNumber(n Number) Value { return n }

func (r rewriter) VisitString(s String) Value {
	if to, ok := r[string(s)]; ok {
		return String(to)
	}
	return s
}

func (r rewriter) VisitArray(a Array) Value {
	out := make(Array, len(a))
	for i, v := range a {
		out[i] = Visit[Value](v, r)
	}
	return out
}

func (r rewriter) VisitObject(o Object) Value {
	out := make(Object, len(o))
	for i, m := range o {
		out[i] = Member{Key: m.Key, Value: Visit[Value](m.Value, r)}
	}
	return out
}
