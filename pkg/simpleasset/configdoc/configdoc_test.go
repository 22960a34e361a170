package configdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

const (
	baseURL = "https://cdn.example.com/storage/v1/object/public/assets"
	siteID  = "0b6f6a52-7f3a-4a8e-9a9c-1b2c3d4e5f60"
	prevID  = "7d0c1f7e-2d3b-4c5a-8e9f-a0b1c2d3e4f5"
)

func objURL(path string) string {
	return baseURL + "/" + path
}

const sampleDoc = `{
  "title": "Home <b>",
  "hero": {"image": "` + baseURL + "/" + siteID + "/" + siteID + `/hero.jpg", "width": 1.50e2},
  "sections": [
    {"type": "gallery", "items": ["` + baseURL + "/temp-preview/" + prevID + `/a.png", "https://other.example.com/x.jpg"]},
    {"type": "text", "body": null, "visible": true, "visible": false}
  ],
  "` + baseURL + "/" + siteID + "/" + siteID + `/key.jpg": "keys are not urls"
}`

func TestParseMarshalRoundTrip(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	out, err := Marshal(doc)
	require.NoError(t, err)

	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, doc, again)

	obj, ok := doc.(Object)
	require.True(t, ok)
	assert.Equal(t, []string{"title", "hero", "sections", objURL(siteID+"/"+siteID+"/key.jpg")},
		[]string{obj[0].Key, obj[1].Key, obj[2].Key, obj[3].Key})

	hero, _ := obj.Get("hero")
	width, _ := hero.(Object).Get("width")
	assert.Equal(t, Number("1.50e2"), width, "number literal text is preserved")

	title, _ := obj.Get("title")
	assert.Equal(t, String("Home <b>"), title)
	assert.Contains(t, string(out), `"Home <b>"`)

	sections, _ := obj.Get("sections")
	text := sections.(Array)[1].(Object)
	assert.Len(t, text, 4, "duplicate keys are kept")
	assert.Equal(t, Null{}, text[1].Value)
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, in := range []string{``, `{`, `{"a":}`, `[1,]`, `{} {}`, `nope`} {
		_, err := Parse([]byte(in))
		assert.ErrorIs(t, err, simpleasset.ErrInvalidInput, in)
	}
}

func TestParseDepthLimit(t *testing.T) {
	deep := make([]byte, 0, 2*(MaxDepth+10))
	for i := 0; i < MaxDepth+5; i++ {
		deep = append(deep, '[')
	}
	for i := 0; i < MaxDepth+5; i++ {
		deep = append(deep, ']')
	}
	_, err := Parse(deep)
	assert.ErrorIs(t, err, simpleasset.ErrInvalidInput)
}

func TestExtractURLs(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	found := ExtractURLs(doc, NewPublicURLMatcher(baseURL+"/"))
	assert.Equal(t, map[string]string{
		objURL(siteID + "/" + siteID + "/hero.jpg"): siteID + "/" + siteID + "/hero.jpg",
		objURL("temp-preview/" + prevID + "/a.png"): "temp-preview/" + prevID + "/a.png",
	}, found)

	assert.Equal(t, []string{
		siteID + "/" + siteID + "/hero.jpg",
		"temp-preview/" + prevID + "/a.png",
	}, ExtractPaths(doc, NewPublicURLMatcher(baseURL)))
}

func TestPublicURLMatcher(t *testing.T) {
	m := NewPublicURLMatcher(baseURL)
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"object", objURL(siteID + "/" + siteID + "/a.webp"), siteID + "/" + siteID + "/a.webp", true},
		{"query and fragment dropped", objURL(siteID+"/"+siteID+"/a.gif") + "?v=2#top", siteID + "/" + siteID + "/a.gif", true},
		{"collection only", objURL(siteID + "/" + siteID), "", false},
		{"traversal", objURL(siteID + "/../../etc/passwd"), "", false},
		{"foreign host", "https://evil.example.com/" + siteID + "/" + siteID + "/a.jpg", "", false},
		{"bad extension", objURL(siteID + "/" + siteID + "/a.svg"), "", false},
		{"prefix without separator", baseURL + siteID, "", false},
		{"dotted filename", objURL(siteID + "/" + siteID + "/a...png"), "", false},
		{"empty segment", objURL(siteID + "//" + siteID + "/a.png"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.MatchURL(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := PublicURLMatcher{}.MatchURL(objURL(siteID + "/" + siteID + "/a.jpg"))
	assert.False(t, ok)
}

func TestRewriteURLsIdentityIsNoop(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	identity := make(map[string]string)
	for u := range ExtractURLs(doc, NewPublicURLMatcher(baseURL)) {
		identity[u] = u
	}
	require.NotEmpty(t, identity)

	assert.Equal(t, doc, RewriteURLs(doc, identity))
	assert.Equal(t, doc, RewriteURLs(doc, nil))

	for _, in := range []string{`null`, `[]`, `{}`, `"x"`, `[[],{}]`, `-0.0e+1`} {
		v, err := Parse([]byte(in))
		require.NoError(t, err)
		assert.Equal(t, v, RewriteURLs(v, identity), in)
		out, err := Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, in, string(out))
	}
}

func TestRewriteURLs(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	oldURL := objURL("temp-preview/" + prevID + "/a.png")
	newURL := objURL(siteID + "/" + prevID + "/a.png")
	keyURL := objURL(siteID + "/" + siteID + "/key.jpg")

	rewritten := RewriteURLs(doc, map[string]string{oldURL: newURL, keyURL: "changed"})

	obj := rewritten.(Object)
	assert.Equal(t, keyURL, obj[3].Key, "object keys are never rewritten")

	sections, _ := obj.Get("sections")
	items, _ := sections.(Array)[0].(Object).Get("items")
	assert.Equal(t, Array{String(newURL), String("https://other.example.com/x.jpg")}, items)

	orig, _ := doc.(Object).Get("sections")
	origItems, _ := orig.(Array)[0].(Object).Get("items")
	assert.Equal(t, String(oldURL), origItems.(Array)[0], "input document is not modified")
}

func TestDocumentJSON(t *testing.T) {
	var d Document
	require.NoError(t, d.UnmarshalJSON([]byte(`{"b":1,"a":[true]}`)))
	out, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":[true]}`, string(out))

	out, err = Document{}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "object", Object{}.Kind().String())
	assert.Equal(t, "number", Number("1").Kind().String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}
