package simpleasset

import (
	"fmt"
	"mime"
	"strings"

	"github.com/google/uuid"
)

// TempPreviewRoot is the root segment of every preview namespace.
const TempPreviewRoot = "temp-preview"

// NamespaceKind distinguishes draft previews from published sites
type NamespaceKind string

const (
	NamespacePreview NamespaceKind = "preview"
	NamespaceSite    NamespaceKind = "site"
)

// Namespace is the tenant path prefix that scopes ownership of stored objects.
type Namespace struct {
	Kind NamespaceKind
	ID   uuid.UUID
}

// PreviewNamespace returns the ephemeral namespace temp-preview/{previewID}.
func PreviewNamespace(previewID uuid.UUID) Namespace {
	return Namespace{Kind: NamespacePreview, ID: previewID}
}

// SiteNamespace returns the durable namespace {siteID}.
func SiteNamespace(siteID uuid.UUID) Namespace {
	return Namespace{Kind: NamespaceSite, ID: siteID}
}

// Root returns the first path segment owned by the namespace.
func (n Namespace) Root() string {
	if n.Kind == NamespacePreview {
		return TempPreviewRoot
	}
	return n.ID.String()
}

// Prefix returns the key prefix listing every object in the namespace.
func (n Namespace) Prefix() string {
	if n.Kind == NamespacePreview {
		return TempPreviewRoot + "/" + n.ID.String()
	}
	return n.ID.String()
}

// Dir returns the directory new uploads into the namespace are placed in.
// Preview uploads go to temp-preview/{id}, site uploads to {siteId}/{siteId}.
func (n Namespace) Dir() StoragePath {
	return StoragePath{Root: n.Root(), Collection: n.ID.String()}
}

func (n Namespace) String() string {
	return n.Prefix()
}

// Validate checks that the namespace has a known kind and a non-nil id.
func (n Namespace) Validate() error {
	if n.Kind != NamespacePreview && n.Kind != NamespaceSite {
		return fmt.Errorf("%w: unknown namespace kind %q", ErrInvalidInput, n.Kind)
	}
	if n.ID == uuid.Nil {
		return fmt.Errorf("%w: namespace id is required", ErrInvalidInput)
	}
	return nil
}

// StoragePath is a validated storage key of the form root/collection[/filename].
// Values are produced by objectkey.Sanitize; the zero value is not a valid path.
type StoragePath struct {
	Root       string
	Collection string
	Filename   string
}

func (p StoragePath) String() string {
	if p.Filename == "" {
		return p.Root + "/" + p.Collection
	}
	return p.Root + "/" + p.Collection + "/" + p.Filename
}

// IsDir reports whether the path names a collection rather than an object.
func (p StoragePath) IsDir() bool {
	return p.Filename == ""
}

// IsPreview reports whether the path lives in a preview namespace.
func (p StoragePath) IsPreview() bool {
	return p.Root == TempPreviewRoot
}

// WithRoot returns the same collection and filename under a different root.
func (p StoragePath) WithRoot(root string) StoragePath {
	p.Root = root
	return p
}

// WithFilename returns the object path for filename inside p's collection.
func (p StoragePath) WithFilename(filename string) StoragePath {
	p.Filename = filename
	return p
}

// ImageType is an authenticated image format
type ImageType string

const (
	ImageJPEG ImageType = "jpeg"
	ImagePNG  ImageType = "png"
	ImageGIF  ImageType = "gif"
	ImageWEBP ImageType = "webp"
)

// Extension returns the file extension stored objects of this type use.
func (t ImageType) Extension() string {
	if t == ImageJPEG {
		return "jpg"
	}
	return string(t)
}

// MimeType returns the content type stored objects of this type use.
func (t ImageType) MimeType() string {
	return "image/" + string(t)
}

// ImageTypeFromMIME maps a Content-Type header value to a known image type.
// Parameters such as charset are ignored.
func ImageTypeFromMIME(contentType string) (ImageType, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return ImageJPEG, true
	case "image/png", "image/x-png":
		return ImagePNG, true
	case "image/gif":
		return ImageGIF, true
	case "image/webp":
		return ImageWEBP, true
	}
	return "", false
}

// ImageTypeFromExtension maps a file extension (with or without the dot).
func ImageTypeFromExtension(ext string) (ImageType, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return ImageJPEG, true
	case "png":
		return ImagePNG, true
	case "gif":
		return ImageGIF, true
	case "webp":
		return ImageWEBP, true
	}
	return "", false
}

// ImageAsset is the in-flight result of size/quality negotiation.
type ImageAsset struct {
	Bytes     []byte
	Width     int
	Height    int
	Format    ImageType
	SizeBytes int
	Quality   int  // encode quality used; 0 for lossless output
	Resized   bool // dimensions were reduced to fit the limit

	// OverBudget is set when even the lowest quality could not meet the
	// byte budget. The asset is still the best available result.
	OverBudget bool
}

// Failure records why a single object could not be processed.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report aggregates per-object outcomes of a batch operation.
type Report struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// AddSuccess records a processed path
func (r *Report) AddSuccess(path string) {
	r.Succeeded = append(r.Succeeded, path)
}

// AddFailure records a failed path and its cause
func (r *Report) AddFailure(path string, err error) {
	r.Failed = append(r.Failed, Failure{Path: path, Reason: err.Error()})
}

// SucceededCount returns the number of processed paths
func (r *Report) SucceededCount() int { return len(r.Succeeded) }

// FailedCount returns the number of failed paths
func (r *Report) FailedCount() int { return len(r.Failed) }

// HasFailures reports whether any path failed
func (r *Report) HasFailures() bool { return len(r.Failed) > 0 }

// Merge appends other's outcomes to r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Succeeded = append(r.Succeeded, other.Succeeded...)
	r.Failed = append(r.Failed, other.Failed...)
}

// NewReport returns an empty report that serializes with empty lists.
func NewReport() *Report {
	return &Report{Succeeded: []string{}, Failed: []Failure{}}
}
