// Package api exposes the ingestion pipeline and lifecycle manager over HTTP.
package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/configdoc"
	"github.com/tendant/simple-asset/pkg/simpleasset/ingest"
	"github.com/tendant/simple-asset/pkg/simpleasset/lifecycle"
	"github.com/tendant/simple-asset/pkg/simpleasset/previews"
)

const (
	DefaultMaxBatchURLs = 100

	// multipartMemory is the part of a multipart upload held in memory
	// before spilling to a temp file.
	multipartMemory = 8 << 20
)

// Handler serves the asset API
type Handler struct {
	pipeline     *ingest.Pipeline
	manager      *lifecycle.Manager
	previews     previews.Source
	logger       *slog.Logger
	now          func() time.Time
	maxBatchURLs int
}

// Option configures a Handler
type Option func(*Handler)

// WithPreviewSource lets POST /expired/sweep find expired previews itself
func WithPreviewSource(source previews.Source) Option {
	return func(h *Handler) {
		h.previews = source
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock overrides time.Now for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithMaxBatchURLs caps the URLs accepted by one batch request
func WithMaxBatchURLs(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBatchURLs = n
		}
	}
}

func NewHandler(pipeline *ingest.Pipeline, manager *lifecycle.Manager, options ...Option) *Handler {
	h := &Handler{
		pipeline:     pipeline,
		manager:      manager,
		logger:       slog.Default(),
		now:          time.Now,
		maxBatchURLs: DefaultMaxBatchURLs,
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Routes returns the router for asset endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/uploads", h.Upload)
	r.Post("/ingest", h.Ingest)
	r.Post("/ingest/batch", h.IngestBatch)
	r.Post("/claims", h.Claim)
	r.Post("/duplicates", h.Duplicate)
	r.Post("/orphans/sweep", h.SweepOrphans)
	r.Post("/expired/sweep", h.SweepExpired)
	r.Delete("/sites/{site_id}", h.DeleteSite)
	return r
}

// NamespaceRequest selects the target namespace. Exactly one field is set.
type NamespaceRequest struct {
	PreviewID string `json:"preview_id,omitempty"`
	SiteID    string `json:"site_id,omitempty"`
}

func (n NamespaceRequest) namespace() (simpleasset.Namespace, error) {
	switch {
	case n.PreviewID != "" && n.SiteID != "":
		return simpleasset.Namespace{}, fmt.Errorf("%w: only one of preview_id and site_id may be set", simpleasset.ErrInvalidInput)
	case n.PreviewID != "":
		id, err := parseID("preview_id", n.PreviewID)
		if err != nil {
			return simpleasset.Namespace{}, err
		}
		return simpleasset.PreviewNamespace(id), nil
	case n.SiteID != "":
		id, err := parseID("site_id", n.SiteID)
		if err != nil {
			return simpleasset.Namespace{}, err
		}
		return simpleasset.SiteNamespace(id), nil
	}
	return simpleasset.Namespace{}, fmt.Errorf("%w: preview_id or site_id is required", simpleasset.ErrInvalidInput)
}

type IngestRequest struct {
	NamespaceRequest
	URL string `json:"url"`
}

type BatchRequest struct {
	NamespaceRequest
	URLs []string `json:"urls"`
}

type BatchResponse struct {
	Items []ingest.BatchItem `json:"items"`
}

type ClaimRequest struct {
	PreviewID string             `json:"preview_id"`
	SiteID    string             `json:"site_id"`
	Document  configdoc.Document `json:"document"`
}

type DuplicateRequest struct {
	SourceSiteID string             `json:"source_site_id"`
	TargetSiteID string             `json:"target_site_id"`
	Document     configdoc.Document `json:"document"`
}

// TransferResponse is returned by claims and duplicates
type TransferResponse struct {
	Document configdoc.Document  `json:"document"`
	URLs     map[string]string   `json:"urls"`
	Report   *simpleasset.Report `json:"report"`
}

type OrphanSweepRequest struct {
	SiteID      string             `json:"site_id"`
	OldDocument configdoc.Document `json:"old_document"`
	NewDocument configdoc.Document `json:"new_document"`
}

type ExpiredSweepRequest struct {
	PreviewIDs []string `json:"preview_ids,omitempty"`
}

// Upload stores an image sent either as a raw body or as the "file" part
// of a multipart form. The namespace comes from the preview_id or site_id
// query (or form) parameter.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = r.Body
	declared := r.Header.Get("Content-Type")
	nsReq := NamespaceRequest{
		PreviewID: r.URL.Query().Get("preview_id"),
		SiteID:    r.URL.Query().Get("site_id"),
	}

	if mediaType, _, _ := mime.ParseMediaType(declared); mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			h.writeError(w, r, decodeError(err))
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: file part is required", simpleasset.ErrInvalidInput))
			return
		}
		defer file.Close()

		body = file
		declared = header.Header.Get("Content-Type")
		nsReq = NamespaceRequest{PreviewID: r.FormValue("preview_id"), SiteID: r.FormValue("site_id")}
	}

	ns, err := nsReq.namespace()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.pipeline.IngestUpload(r.Context(), body, declared, ns)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, res)
}

// Ingest mirrors a remote image into the namespace
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ns, err := req.namespace()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.pipeline.IngestURL(r.Context(), req.URL, ns)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if res.Deduplicated {
		render.Status(r, http.StatusOK)
	} else {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, res)
}

// IngestBatch mirrors several remote images. Per-URL failures are reported
// in the items and do not fail the request.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ns, err := req.namespace()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(req.URLs) == 0 {
		h.writeError(w, r, fmt.Errorf("%w: urls is required", simpleasset.ErrInvalidInput))
		return
	}
	if len(req.URLs) > h.maxBatchURLs {
		h.writeError(w, r, fmt.Errorf("%w: at most %d urls per batch", simpleasset.ErrInvalidInput, h.maxBatchURLs))
		return
	}

	items := h.pipeline.IngestBatch(r.Context(), req.URLs, ns)
	render.JSON(w, r, BatchResponse{Items: items})
}

// Claim moves a preview's assets into a site and rewrites the document
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	previewID, err := parseID("preview_id", req.PreviewID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	siteID, err := parseID("site_id", req.SiteID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.manager.Claim(r.Context(), previewID, siteID, req.Document.Root)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.renderTransfer(w, r, res)
}

// Duplicate copies a site's assets into another site
func (h *Handler) Duplicate(w http.ResponseWriter, r *http.Request) {
	var req DuplicateRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sourceID, err := parseID("source_site_id", req.SourceSiteID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	targetID, err := parseID("target_site_id", req.TargetSiteID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.manager.Duplicate(r.Context(), sourceID, targetID, req.Document.Root)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.renderTransfer(w, r, res)
}

// SweepOrphans deletes site objects the old document referenced and the
// new one no longer does
func (h *Handler) SweepOrphans(w http.ResponseWriter, r *http.Request) {
	var req OrphanSweepRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	siteID, err := parseID("site_id", req.SiteID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	report, err := h.manager.SweepOrphans(r.Context(), siteID, req.OldDocument.Root, req.NewDocument.Root)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.renderReport(w, r, report)
}

// SweepExpired clears the namespaces of the given previews. With no ids in
// the request the configured preview source decides which have expired.
func (h *Handler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	var req ExpiredSweepRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, decodeError(err))
		return
	}

	var ids []uuid.UUID
	if len(req.PreviewIDs) > 0 {
		for _, raw := range req.PreviewIDs {
			id, err := parseID("preview_ids", raw)
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			ids = append(ids, id)
		}
	} else {
		if h.previews == nil {
			h.writeError(w, r, fmt.Errorf("%w: preview_ids is required", simpleasset.ErrInvalidInput))
			return
		}
		expired, err := h.previews.ExpiredPreviewIDs(r.Context(), h.now())
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: %v", simpleasset.ErrTransientIO, err))
			return
		}
		ids = expired
	}

	report, err := h.manager.SweepExpired(r.Context(), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.renderReport(w, r, report)
}

// DeleteSite removes every object owned by a site
func (h *Handler) DeleteSite(w http.ResponseWriter, r *http.Request) {
	siteID, err := parseID("site_id", chi.URLParam(r, "site_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	report, err := h.manager.DeleteSite(r.Context(), siteID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.renderReport(w, r, report)
}

func (h *Handler) renderTransfer(w http.ResponseWriter, r *http.Request, res *lifecycle.Result) {
	if res.Report.HasFailures() {
		render.Status(r, http.StatusMultiStatus)
	}
	render.JSON(w, r, TransferResponse{
		Document: configdoc.Document{Root: res.Document},
		URLs:     res.URLs,
		Report:   res.Report,
	})
}

func (h *Handler) renderReport(w http.ResponseWriter, r *http.Request, report *simpleasset.Report) {
	if report.HasFailures() {
		render.Status(r, http.StatusMultiStatus)
	}
	render.JSON(w, r, report)
}

func decodeRequest(r *http.Request, v interface{}) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return decodeError(err)
	}
	return nil
}

func decodeError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return fmt.Errorf("%w: request body exceeds %d bytes", simpleasset.ErrTooLarge, maxBytes.Limit)
	}
	return fmt.Errorf("%w: malformed request: %v", simpleasset.ErrInvalidInput, err)
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s %q", simpleasset.ErrInvalidInput, field, raw)
	}
	return id, nil
}
