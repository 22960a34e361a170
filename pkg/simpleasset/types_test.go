package simpleasset

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespace(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	preview := PreviewNamespace(id)
	assert.Equal(t, "temp-preview", preview.Root())
	assert.Equal(t, "temp-preview/"+id.String(), preview.Prefix())
	assert.Equal(t, "temp-preview/"+id.String(), preview.Dir().String())
	assert.NoError(t, preview.Validate())

	site := SiteNamespace(id)
	assert.Equal(t, id.String(), site.Root())
	assert.Equal(t, id.String(), site.Prefix())
	assert.Equal(t, id.String()+"/"+id.String(), site.Dir().String())

	assert.ErrorIs(t, SiteNamespace(uuid.Nil).Validate(), ErrInvalidInput)
	assert.ErrorIs(t, Namespace{Kind: "tenant", ID: id}.Validate(), ErrInvalidInput)
}

func TestStoragePath(t *testing.T) {
	p := StoragePath{Root: TempPreviewRoot, Collection: "c", Filename: "a.png"}
	assert.Equal(t, "temp-preview/c/a.png", p.String())
	assert.True(t, p.IsPreview())
	assert.False(t, p.IsDir())

	moved := p.WithRoot("site")
	assert.Equal(t, "site/c/a.png", moved.String())
	assert.False(t, moved.IsPreview())
	assert.Equal(t, "temp-preview/c/a.png", p.String(), "receiver must not change")

	dir := StoragePath{Root: "site", Collection: "c"}
	assert.True(t, dir.IsDir())
	assert.Equal(t, "site/c", dir.String())
	assert.Equal(t, "site/c/b.jpg", dir.WithFilename("b.jpg").String())
}

func TestImageType(t *testing.T) {
	tests := []struct {
		contentType string
		want        ImageType
		ok          bool
	}{
		{"image/jpeg", ImageJPEG, true},
		{"image/JPEG; charset=binary", ImageJPEG, true},
		{"image/pjpeg", ImageJPEG, true},
		{"image/png", ImagePNG, true},
		{"image/x-png", ImagePNG, true},
		{"image/gif", ImageGIF, true},
		{"image/webp", ImageWEBP, true},
		{"image/svg+xml", "", false},
		{"text/html", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			got, ok := ImageTypeFromMIME(tt.contentType)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "jpg", ImageJPEG.Extension())
	assert.Equal(t, "webp", ImageWEBP.Extension())
	assert.Equal(t, "image/jpeg", ImageJPEG.MimeType())
	assert.Equal(t, "image/png", ImagePNG.MimeType())

	got, ok := ImageTypeFromExtension(".JPEG")
	assert.True(t, ok)
	assert.Equal(t, ImageJPEG, got)
	_, ok = ImageTypeFromExtension("bmp")
	assert.False(t, ok)
}

func TestReport(t *testing.T) {
	r := NewReport()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"succeeded":[],"failed":[]}`, string(data))

	r.AddSuccess("a")
	r.AddFailure("b", errors.New("boom"))
	other := NewReport()
	other.AddSuccess("c")
	r.Merge(other)
	r.Merge(nil)

	assert.Equal(t, 2, r.SucceededCount())
	assert.Equal(t, 1, r.FailedCount())
	assert.True(t, r.HasFailures())
	assert.Equal(t, []string{"a", "c"}, r.Succeeded)
	assert.Equal(t, Failure{Path: "b", Reason: "boom"}, r.Failed[0])
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("wrapped: %w", &IngestError{Op: "fetch", Source: "https://x", Kind: ErrTransientIO, Err: cause})

	assert.True(t, IsRetryable(err))
	assert.False(t, IsSecurityViolation(err))
	assert.ErrorIs(t, err, cause)

	var ingestErr *IngestError
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, "fetch", ingestErr.Op)

	sec := &IngestError{Op: "guard", Source: "http://127.0.0.1", Kind: ErrSecurityViolation}
	assert.True(t, IsSecurityViolation(sec))
	assert.False(t, IsRetryable(sec))
	assert.Contains(t, sec.Error(), "security violation")

	storageErr := &StorageError{Backend: "memory", Key: "k", Op: "download", Err: ErrObjectNotFound}
	assert.ErrorIs(t, storageErr, ErrObjectNotFound)
	assert.Contains(t, storageErr.Error(), "memory")
}
