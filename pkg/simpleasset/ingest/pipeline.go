// Package ingest turns remote URLs and direct uploads into validated,
// budget-compliant objects in a tenant namespace.
//
// Every source runs through the same chain: the bytes are authenticated by
// magic number, negotiated down to the byte budget when too large, given a
// random name carrying the detected extension, and uploaded with upsert
// semantics. URL sources are additionally screened for SSRF before any
// network call and fetched with a bounded timeout.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/configdoc"
	"github.com/tendant/simple-asset/pkg/simpleasset/fetchguard"
	"github.com/tendant/simple-asset/pkg/simpleasset/metrics"
	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
	"github.com/tendant/simple-asset/pkg/simpleasset/sniff"
	"github.com/tendant/simple-asset/pkg/simpleasset/transcode"
)

const (
	DefaultFetchTimeout        = 30 * time.Second
	DefaultMaxUploadBytes      = 10 << 20
	DefaultMaxFetchBytes       = 50 << 20
	DefaultMaxConcurrentIngest = 5
	DefaultCacheControl        = "public, max-age=3600"

	sourceURL    = "url"
	sourceUpload = "upload"
)

// Result describes a stored asset
type Result struct {
	URL          string                `json:"url"`
	Path         string                `json:"path"`
	Format       simpleasset.ImageType `json:"format,omitempty"`
	SizeBytes    int                   `json:"size_bytes,omitempty"`
	OverBudget   bool                  `json:"over_budget,omitempty"`
	Deduplicated bool                  `json:"deduplicated,omitempty"`
}

// Pipeline orchestrates guard, fetch, authentication, negotiation and upload
type Pipeline struct {
	store          simpleasset.ObjectStore
	negotiator     *transcode.Negotiator
	generator      objectkey.Generator
	client         *http.Client
	guard          func(string) bool
	matcher        configdoc.URLMatcher
	logger         *slog.Logger
	maxUploadBytes int64
	maxFetchBytes  int64
	maxConcurrent  int
	cacheControl   string
}

// Option represents a functional option for configuring the pipeline
type Option func(*Pipeline)

// WithNegotiator sets the size/quality negotiator
func WithNegotiator(n *transcode.Negotiator) Option {
	return func(p *Pipeline) {
		p.negotiator = n
	}
}

// WithGenerator sets the object key generator
func WithGenerator(g objectkey.Generator) Option {
	return func(p *Pipeline) {
		p.generator = g
	}
}

// WithHTTPClient replaces the guarded fetch client
func WithHTTPClient(client *http.Client) Option {
	return func(p *Pipeline) {
		p.client = client
	}
}

// WithFetchTimeout rebuilds the guarded fetch client with a new timeout
func WithFetchTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) {
		if timeout > 0 {
			p.client = fetchguard.NewClient(timeout)
		}
	}
}

// WithURLGuard replaces the pre-fetch URL check
func WithURLGuard(guard func(string) bool) Option {
	return func(p *Pipeline) {
		p.guard = guard
	}
}

// WithURLMatcher sets how the pipeline recognizes URLs that already point
// into the object store
func WithURLMatcher(m configdoc.URLMatcher) Option {
	return func(p *Pipeline) {
		p.matcher = m
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMaxUploadBytes sets the direct upload size ceiling
func WithMaxUploadBytes(n int64) Option {
	return func(p *Pipeline) {
		p.maxUploadBytes = n
	}
}

// WithMaxFetchBytes bounds how much of a remote body is read
func WithMaxFetchBytes(n int64) Option {
	return func(p *Pipeline) {
		p.maxFetchBytes = n
	}
}

// WithMaxConcurrentIngest bounds IngestBatch parallelism
func WithMaxConcurrentIngest(n int) Option {
	return func(p *Pipeline) {
		p.maxConcurrent = n
	}
}

// WithCacheControl sets the Cache-Control stored with uploaded objects
func WithCacheControl(v string) Option {
	return func(p *Pipeline) {
		p.cacheControl = v
	}
}

// New creates an ingestion pipeline writing to store
func New(store simpleasset.ObjectStore, options ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}

	p := &Pipeline{
		store:          store,
		generator:      objectkey.NewRecommendedGenerator(),
		client:         fetchguard.NewClient(DefaultFetchTimeout),
		guard:          fetchguard.IsSafe,
		matcher:        configdoc.NewPublicURLMatcher(store.PublicURL("")),
		logger:         slog.Default(),
		maxUploadBytes: DefaultMaxUploadBytes,
		maxFetchBytes:  DefaultMaxFetchBytes,
		maxConcurrent:  DefaultMaxConcurrentIngest,
		cacheControl:   DefaultCacheControl,
	}
	for _, option := range options {
		option(p)
	}

	if p.negotiator == nil {
		n, err := transcode.New(transcode.WithLogger(p.logger))
		if err != nil {
			return nil, err
		}
		p.negotiator = n
	}
	if p.maxUploadBytes <= 0 || p.maxFetchBytes <= 0 {
		return nil, errors.New("size limits must be positive")
	}
	if p.maxConcurrent <= 0 {
		return nil, errors.New("max concurrent ingest must be positive")
	}
	return p, nil
}

// IngestURL mirrors the image at sourceURL into ns.
//
// A URL that already points at an object in the store is returned
// unchanged without being fetched.
func (p *Pipeline) IngestURL(ctx context.Context, rawURL string, ns simpleasset.Namespace) (result *Result, err error) {
	defer func() {
		stored := 0
		if result != nil && !result.Deduplicated {
			stored = result.SizeBytes
		}
		metrics.RecordIngest(sourceURL, stored, err)
	}()

	if err := ns.Validate(); err != nil {
		return nil, &simpleasset.IngestError{Op: "validate", Source: rawURL, Kind: simpleasset.ErrInvalidInput, Err: err}
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		p.logger.Debug("rejected source url", "source", rawURL, "reason", "not an http(s) url")
		return nil, &simpleasset.IngestError{Op: "validate", Source: rawURL, Kind: simpleasset.ErrInvalidInput, Err: errors.New("source must be an http or https url")}
	}
	source := u.Redacted()

	if !p.guard(rawURL) {
		return nil, p.securityViolation(ctx, "guard", source, "disallowed address space", nil)
	}

	if path, ok := p.matcher.MatchURL(rawURL); ok {
		p.logger.Debug("source already in store", "source", source, "path", path)
		return &Result{URL: rawURL, Path: path, Deduplicated: true}, nil
	}

	data, contentType, err := p.fetch(ctx, rawURL, source)
	if err != nil {
		return nil, err
	}
	return p.persist(ctx, data, contentType, ns, sourceURL, source)
}

func (p *Pipeline) fetch(ctx context.Context, rawURL, source string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", &simpleasset.IngestError{Op: "fetch", Source: source, Kind: simpleasset.ErrInvalidInput, Err: err}
	}
	req.Header.Set("Accept", "image/jpeg,image/png,image/gif,image/webp")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, fetchguard.ErrBlockedAddress) {
			return nil, "", p.securityViolation(ctx, "fetch", source, "connection to disallowed address", err)
		}
		return nil, "", &simpleasset.IngestError{Op: "fetch", Source: source, Kind: simpleasset.ErrTransientIO, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := simpleasset.ErrInvalidInput
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout {
			kind = simpleasset.ErrTransientIO
		}
		return nil, "", &simpleasset.IngestError{Op: "fetch", Source: source, Kind: kind, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	contentType := resp.Header.Get("Content-Type")
	if _, ok := simpleasset.ImageTypeFromMIME(contentType); !ok {
		p.logger.Info("rejected non-image source", "source", source, "content_type", contentType)
		return nil, "", &simpleasset.IngestError{Op: "fetch", Source: source, Kind: simpleasset.ErrInvalidInput, Err: fmt.Errorf("content type %q is not a supported image", contentType)}
	}
	if resp.ContentLength > p.maxFetchBytes {
		return nil, "", &simpleasset.IngestError{Op: "fetch", Source: source, Kind: simpleasset.ErrTooLarge, Err: fmt.Errorf("content length %d exceeds %d bytes", resp.ContentLength, p.maxFetchBytes)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxFetchBytes+1))
	if err != nil {
		return nil, "", &simpleasset.IngestError{Op: "fetch", Source: source, Kind: simpleasset.ErrTransientIO, Err: err}
	}
	if int64(len(data)) > p.maxFetchBytes {
		return nil, "", &simpleasset.IngestError{Op: "fetch", Source: source, Kind: simpleasset.ErrTooLarge, Err: fmt.Errorf("body exceeds %d bytes", p.maxFetchBytes)}
	}
	return data, contentType, nil
}

// IngestUpload stores a direct upload in ns. The caller is responsible for
// having authorized the tenant. declaredType is the client's Content-Type
// and only used to detect spoofing.
func (p *Pipeline) IngestUpload(ctx context.Context, r io.Reader, declaredType string, ns simpleasset.Namespace) (result *Result, err error) {
	defer func() {
		stored := 0
		if result != nil {
			stored = result.SizeBytes
		}
		metrics.RecordIngest(sourceUpload, stored, err)
	}()

	if err := ns.Validate(); err != nil {
		return nil, &simpleasset.IngestError{Op: "validate", Source: sourceUpload, Kind: simpleasset.ErrInvalidInput, Err: err}
	}

	data, err := io.ReadAll(io.LimitReader(r, p.maxUploadBytes+1))
	if err != nil {
		return nil, &simpleasset.IngestError{Op: "read", Source: sourceUpload, Kind: simpleasset.ErrTransientIO, Err: err}
	}
	if int64(len(data)) > p.maxUploadBytes {
		return nil, &simpleasset.IngestError{Op: "read", Source: sourceUpload, Kind: simpleasset.ErrTooLarge, Err: fmt.Errorf("upload exceeds %d bytes", p.maxUploadBytes)}
	}
	if len(data) == 0 {
		return nil, &simpleasset.IngestError{Op: "read", Source: sourceUpload, Kind: simpleasset.ErrInvalidInput, Err: errors.New("empty upload")}
	}
	return p.persist(ctx, data, declaredType, ns, sourceUpload, sourceUpload)
}

// persist runs the part of the chain shared by every source.
func (p *Pipeline) persist(ctx context.Context, data []byte, declaredType string, ns simpleasset.Namespace, kind, source string) (*Result, error) {
	detected, ok := sniff.Authenticate(data)
	if !ok {
		return nil, p.securityViolation(ctx, "authenticate", source, "unrecognized content signature", nil)
	}
	if sniff.Mismatch(declaredType, detected) {
		p.logger.WarnContext(ctx, "declared content type contradicts content",
			"event", "security_violation",
			"reason", "content_type_mismatch",
			"source", source,
			"declared", declaredType,
			"detected", string(detected))
	}

	format := detected
	result := &Result{Format: format, SizeBytes: len(data)}
	budget := p.negotiator.Options().BudgetBytes
	if len(data) > budget {
		start := time.Now()
		asset, err := p.negotiator.Negotiate(ctx, data)
		if err != nil {
			return nil, p.negotiationError(source, err)
		}
		metrics.RecordNegotiation(asset, time.Since(start))

		data, format = asset.Bytes, asset.Format
		result.Format, result.SizeBytes, result.OverBudget = asset.Format, asset.SizeBytes, asset.OverBudget
	}

	path, err := p.generator.GenerateKey(ns, format)
	if err != nil {
		if errors.Is(err, simpleasset.ErrSecurityViolation) {
			return nil, p.securityViolation(ctx, "name", source, "generated path failed validation", err)
		}
		return nil, &simpleasset.IngestError{Op: "name", Source: source, Kind: simpleasset.ErrInvalidInput, Err: err}
	}
	if checked, ok := objectkey.SanitizeObject(path.String()); !ok || checked != path {
		return nil, p.securityViolation(ctx, "name", source, "generated path failed validation", nil)
	}

	err = p.store.Upload(ctx, path.String(), bytes.NewReader(data), simpleasset.UploadOptions{
		ContentType:  format.MimeType(),
		CacheControl: p.cacheControl,
		Upsert:       true,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to upload asset", "path", path.String(), "source", source, "error", err)
		return nil, &simpleasset.IngestError{Op: "upload", Source: source, Kind: simpleasset.ErrTransientIO, Err: err}
	}

	result.Path = path.String()
	result.URL = p.store.PublicURL(result.Path)
	p.logger.InfoContext(ctx, "asset ingested",
		"source_kind", kind,
		"path", result.Path,
		"format", string(result.Format),
		"size_bytes", result.SizeBytes,
		"over_budget", result.OverBudget)
	return result, nil
}

func (p *Pipeline) negotiationError(source string, err error) error {
	kind := simpleasset.ErrUndecodable
	switch {
	case errors.Is(err, simpleasset.ErrTooLarge):
		kind = simpleasset.ErrTooLarge
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = simpleasset.ErrTransientIO
	case errors.Is(err, simpleasset.ErrInvalidInput):
		kind = simpleasset.ErrInvalidInput
	}
	return &simpleasset.IngestError{Op: "negotiate", Source: source, Kind: kind, Err: err}
}

// securityViolation logs hostile input separately from ordinary
// validation failures and returns the classified error.
func (p *Pipeline) securityViolation(ctx context.Context, op, source, reason string, cause error) error {
	attrs := []any{
		"event", "security_violation",
		"op", op,
		"source", source,
		"reason", reason,
	}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	p.logger.WarnContext(ctx, "security violation", attrs...)

	if cause == nil {
		cause = errors.New(reason)
	}
	return &simpleasset.IngestError{Op: op, Source: source, Kind: simpleasset.ErrSecurityViolation, Err: cause}
}
