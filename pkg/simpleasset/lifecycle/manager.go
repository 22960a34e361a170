// Package lifecycle moves, copies and garbage-collects stored assets as
// previews are claimed, sites are duplicated or deleted, and documents
// stop referencing images.
//
// None of the operations are atomic. Each object either completes or is
// recorded as failed in the returned report, and re-running an operation
// only retries what is left.
package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/configdoc"
	"github.com/tendant/simple-asset/pkg/simpleasset/metrics"
	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
	"github.com/tendant/simple-asset/pkg/simpleasset/storage"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency  = 4
	DefaultCacheControl = "public, max-age=3600"
)

// Result is the outcome of a Claim or Duplicate
type Result struct {
	// Document is the input document with every moved URL rewritten
	Document configdoc.Value
	// URLs maps old public URLs to new ones for objects that fully succeeded
	URLs   map[string]string
	Report *simpleasset.Report
}

// Manager runs lifecycle operations against an object store
type Manager struct {
	store        simpleasset.ObjectStore
	matcher      configdoc.URLMatcher
	logger       *slog.Logger
	concurrency  int
	cacheControl string
}

// Option represents a functional option for configuring the manager
type Option func(*Manager)

// WithURLMatcher sets how document strings are recognized as stored objects
func WithURLMatcher(m configdoc.URLMatcher) Option {
	return func(mgr *Manager) {
		mgr.matcher = m
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(mgr *Manager) {
		if logger != nil {
			mgr.logger = logger
		}
	}
}

// WithConcurrency bounds how many objects are transferred at once
func WithConcurrency(n int) Option {
	return func(mgr *Manager) {
		mgr.concurrency = n
	}
}

// WithCacheControl sets the Cache-Control stored with transferred objects
func WithCacheControl(v string) Option {
	return func(mgr *Manager) {
		mgr.cacheControl = v
	}
}

// New creates a lifecycle manager
func New(store simpleasset.ObjectStore, options ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	mgr := &Manager{
		store:        store,
		matcher:      configdoc.NewPublicURLMatcher(store.PublicURL("")),
		logger:       slog.Default(),
		concurrency:  DefaultConcurrency,
		cacheControl: DefaultCacheControl,
	}
	for _, option := range options {
		option(mgr)
	}
	if mgr.concurrency <= 0 {
		return nil, errors.New("concurrency must be positive")
	}
	return mgr, nil
}

// Claim moves every object of a preview into a site and rewrites doc to
// point at the new locations. A source object is removed only after its
// copy has been written.
func (m *Manager) Claim(ctx context.Context, previewID, siteID uuid.UUID, doc configdoc.Value) (*Result, error) {
	if previewID == uuid.Nil || siteID == uuid.Nil {
		return nil, fmt.Errorf("%w: preview and site ids are required", simpleasset.ErrInvalidInput)
	}
	return m.transfer(ctx, "claim", simpleasset.PreviewNamespace(previewID), simpleasset.SiteNamespace(siteID), true, doc)
}

// Duplicate copies every object of one site into another and rewrites doc
// for the copy. The source site is left unchanged.
func (m *Manager) Duplicate(ctx context.Context, sourceSiteID, targetSiteID uuid.UUID, doc configdoc.Value) (*Result, error) {
	if sourceSiteID == uuid.Nil || targetSiteID == uuid.Nil {
		return nil, fmt.Errorf("%w: source and target site ids are required", simpleasset.ErrInvalidInput)
	}
	if sourceSiteID == targetSiteID {
		return nil, fmt.Errorf("%w: source and target site must differ", simpleasset.ErrInvalidInput)
	}
	return m.transfer(ctx, "duplicate", simpleasset.SiteNamespace(sourceSiteID), simpleasset.SiteNamespace(targetSiteID), false, doc)
}

type outcome struct {
	src, dst string
	err      error
}

func (m *Manager) transfer(ctx context.Context, op string, from, to simpleasset.Namespace, removeSource bool, doc configdoc.Value) (*Result, error) {
	entries, err := m.store.List(ctx, from.Prefix(), simpleasset.ListOptions{SortBy: simpleasset.SortByName})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list %s: %v", simpleasset.ErrTransientIO, from, err)
	}

	outcomes := make([]outcome, len(entries))
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, entry := range entries {
		g.Go(func() error {
			outcomes[i] = m.transferOne(ctx, entry, to, removeSource)
			return nil
		})
	}
	_ = g.Wait()

	report := simpleasset.NewReport()
	urls := make(map[string]string)
	for _, o := range outcomes {
		if o.err != nil {
			m.logger.WarnContext(ctx, "object transfer failed", "op", op, "path", o.src, "error", o.err)
			report.AddFailure(o.src, o.err)
			continue
		}
		report.AddSuccess(o.src)
		urls[m.store.PublicURL(o.src)] = m.store.PublicURL(o.dst)
	}

	result := &Result{URLs: urls, Report: report}
	if doc != nil {
		result.Document = configdoc.RewriteURLs(doc, urls)
	}

	metrics.RecordLifecycle(op, report)
	m.logger.InfoContext(ctx, "lifecycle transfer finished",
		"op", op,
		"from", from.String(),
		"to", to.String(),
		"succeeded", report.SucceededCount(),
		"failed", report.FailedCount())
	return result, nil
}

func (m *Manager) transferOne(ctx context.Context, entry simpleasset.ObjectEntry, to simpleasset.Namespace, removeSource bool) outcome {
	o := outcome{src: entry.Path}

	src, ok := objectkey.SanitizeObject(entry.Path)
	if !ok {
		o.err = fmt.Errorf("%w: stored path outside grammar", simpleasset.ErrSecurityViolation)
		return o
	}
	dst, err := objectkey.Relocate(src, to)
	if err != nil {
		o.err = err
		return o
	}
	o.dst = dst.String()

	if err := m.copyObject(ctx, entry, o.dst); err != nil {
		o.err = err
		return o
	}

	if removeSource {
		if err := m.store.Remove(ctx, []string{o.src}); err != nil {
			// The copy exists, so the object counts as transferred. The
			// leftover source is removed by the next claim or by expiry.
			m.logger.WarnContext(ctx, "source not removed after transfer", "path", o.src, "error", err)
		}
	}
	return o
}

// copyObject prefers a server-side copy and falls back to streaming the
// bytes through memory.
func (m *Manager) copyObject(ctx context.Context, entry simpleasset.ObjectEntry, dst string) error {
	if copier, ok := m.store.(simpleasset.ServerSideCopier); ok {
		err := copier.CopyObject(ctx, entry.Path, dst)
		if !errors.Is(err, errors.ErrUnsupported) {
			return err
		}
	}

	rc, err := m.store.Download(ctx, entry.Path)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	contentType := entry.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = storage.ContentTypeFor(entry.Path)
	}
	err = m.store.Upload(ctx, dst, bytes.NewReader(data), simpleasset.UploadOptions{
		ContentType:  contentType,
		CacheControl: m.cacheControl,
		Upsert:       true,
	})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}

// SweepOrphans deletes the site's objects that oldDoc referenced and
// newDoc no longer does. Paths outside the site's own root are never
// touched, even when they appear in the difference.
func (m *Manager) SweepOrphans(ctx context.Context, siteID uuid.UUID, oldDoc, newDoc configdoc.Value) (*simpleasset.Report, error) {
	if siteID == uuid.Nil {
		return nil, fmt.Errorf("%w: site id is required", simpleasset.ErrInvalidInput)
	}
	site := simpleasset.SiteNamespace(siteID)

	orphans := OrphanPaths(site, configdoc.ExtractPaths(oldDoc, m.matcher), configdoc.ExtractPaths(newDoc, m.matcher))
	report := simpleasset.NewReport()
	if len(orphans) == 0 {
		return report, nil
	}

	existing, err := m.store.List(ctx, site.Prefix(), simpleasset.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list %s: %v", simpleasset.ErrTransientIO, site, err)
	}
	stored := make(map[string]bool, len(existing))
	for _, e := range existing {
		stored[e.Path] = true
	}
	present := orphans[:0]
	for _, p := range orphans {
		if stored[p] {
			present = append(present, p)
		}
	}

	m.removeAll(ctx, present, report)
	metrics.RecordLifecycle("sweep_orphans", report)
	m.logger.InfoContext(ctx, "orphan sweep finished", "site_id", siteID, "deleted", report.SucceededCount(), "failed", report.FailedCount())
	return report, nil
}

// OrphanPaths returns the sorted paths in oldPaths but not in newPaths
// whose root segment belongs to site.
func OrphanPaths(site simpleasset.Namespace, oldPaths, newPaths []string) []string {
	keep := make(map[string]bool, len(newPaths))
	for _, p := range newPaths {
		keep[p] = true
	}

	seen := make(map[string]bool)
	var orphans []string
	for _, raw := range oldPaths {
		if keep[raw] || seen[raw] {
			continue
		}
		p, ok := objectkey.SanitizeObject(raw)
		if !ok || p.String() != raw || p.Root != site.Root() {
			continue
		}
		seen[raw] = true
		orphans = append(orphans, raw)
	}
	sort.Strings(orphans)
	return orphans
}

// SweepExpired deletes every object of the given previews
func (m *Manager) SweepExpired(ctx context.Context, previewIDs []uuid.UUID) (*simpleasset.Report, error) {
	report := simpleasset.NewReport()
	seen := make(map[uuid.UUID]bool, len(previewIDs))
	for _, id := range previewIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		if err := ctx.Err(); err != nil {
			return report, err
		}
		m.clearNamespace(ctx, simpleasset.PreviewNamespace(id), report)
	}

	metrics.RecordLifecycle("sweep_expired", report)
	m.logger.InfoContext(ctx, "expiry sweep finished", "previews", len(seen), "deleted", report.SucceededCount(), "failed", report.FailedCount())
	return report, nil
}

// DeleteSite deletes every object stored under the site's root
func (m *Manager) DeleteSite(ctx context.Context, siteID uuid.UUID) (*simpleasset.Report, error) {
	if siteID == uuid.Nil {
		return nil, fmt.Errorf("%w: site id is required", simpleasset.ErrInvalidInput)
	}
	report := simpleasset.NewReport()
	m.clearNamespace(ctx, simpleasset.SiteNamespace(siteID), report)

	metrics.RecordLifecycle("delete_site", report)
	m.logger.InfoContext(ctx, "site assets deleted", "site_id", siteID, "deleted", report.SucceededCount(), "failed", report.FailedCount())
	return report, nil
}

func (m *Manager) clearNamespace(ctx context.Context, ns simpleasset.Namespace, report *simpleasset.Report) {
	entries, err := m.store.List(ctx, ns.Prefix(), simpleasset.ListOptions{})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to list namespace", "namespace", ns.String(), "error", err)
		report.AddFailure(ns.Prefix(), err)
		return
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	m.removeAll(ctx, paths, report)
}

func (m *Manager) removeAll(ctx context.Context, paths []string, report *simpleasset.Report) {
	if len(paths) == 0 {
		return
	}
	err := m.store.Remove(ctx, paths)
	if err == nil {
		for _, p := range paths {
			report.AddSuccess(p)
		}
		return
	}

	var removeErr *simpleasset.RemoveError
	if !errors.As(err, &removeErr) {
		m.logger.WarnContext(ctx, "bulk delete failed", "count", len(paths), "error", err)
		for _, p := range paths {
			report.AddFailure(p, err)
		}
		return
	}
	m.logger.WarnContext(ctx, "bulk delete partially failed", "count", len(paths), "failed", len(removeErr.Failed), "error", err)
	for _, p := range paths {
		if failure, ok := removeErr.Failed[p]; ok {
			report.AddFailure(p, failure)
		} else {
			report.AddSuccess(p)
		}
	}
}
