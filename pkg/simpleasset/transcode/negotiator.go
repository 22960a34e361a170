// Package transcode fits images into a dimension and byte budget.
//
// The Negotiator downsizes oversized images, bakes in EXIF orientation,
// drops all metadata by re-encoding, and walks a descending quality ladder
// until the encoded output fits the budget. Exceeding the budget is never
// an error: the floor-quality result is returned with OverBudget set.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"runtime"

	"github.com/disintegration/imaging"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"golang.org/x/sync/semaphore"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxDimension = 1920
	DefaultBudgetBytes  = 5 << 20
	DefaultMaxPixels    = 100_000_000
)

// DefaultQualityLadder is the encode-quality sequence tried in order.
var DefaultQualityLadder = []int{85, 70, 60, 50, 40, 30, 20}

// Options controls a negotiation
type Options struct {
	MaxDimension  int   // longest side of the output in pixels
	BudgetBytes   int   // maximum encoded size
	QualityLadder []int // qualities tried in order, first fit wins
	MaxPixels     int   // inputs with more pixels are rejected before decoding, 0 disables the cap
}

// DefaultOptions returns the standard 1920px / 5MB policy.
func DefaultOptions() Options {
	ladder := make([]int, len(DefaultQualityLadder))
	copy(ladder, DefaultQualityLadder)
	return Options{
		MaxDimension:  DefaultMaxDimension,
		BudgetBytes:   DefaultBudgetBytes,
		QualityLadder: ladder,
		MaxPixels:     DefaultMaxPixels,
	}
}

// Validate validates the options
func (o Options) Validate() error {
	if o.MaxDimension <= 0 {
		return fmt.Errorf("max dimension must be positive, got %d", o.MaxDimension)
	}
	if o.BudgetBytes <= 0 {
		return fmt.Errorf("budget must be positive, got %d", o.BudgetBytes)
	}
	if len(o.QualityLadder) == 0 {
		return fmt.Errorf("quality ladder must not be empty")
	}
	if o.MaxPixels < 0 {
		return fmt.Errorf("max pixels must not be negative, got %d", o.MaxPixels)
	}
	for _, q := range o.QualityLadder {
		if q < 1 || q > 100 {
			return fmt.Errorf("quality %d out of range 1-100", q)
		}
	}
	return nil
}

// Negotiator runs transcodes on a bounded pool so CPU-heavy work cannot
// starve request handling.
type Negotiator struct {
	opts   Options
	pool   *semaphore.Weighted
	logger *slog.Logger
}

// Option represents a functional option for configuring the negotiator
type Option func(*Negotiator)

// WithOptions replaces the default negotiation policy
func WithOptions(opts Options) Option {
	return func(n *Negotiator) {
		n.opts = opts
	}
}

// WithWorkers bounds the number of concurrent transcodes
func WithWorkers(workers int) Option {
	return func(n *Negotiator) {
		if workers > 0 {
			n.pool = semaphore.NewWeighted(int64(workers))
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(n *Negotiator) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// New creates a negotiator. Workers default to the number of CPUs.
func New(options ...Option) (*Negotiator, error) {
	n := &Negotiator{
		opts:   DefaultOptions(),
		pool:   semaphore.NewWeighted(int64(runtime.NumCPU())),
		logger: slog.Default(),
	}
	for _, option := range options {
		option(n)
	}
	if err := n.opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid negotiation options: %w", err)
	}
	return n, nil
}

// Options returns the negotiator's policy
func (n *Negotiator) Options() Options {
	return n.opts
}

// Negotiate fits data into the negotiator's budget.
func (n *Negotiator) Negotiate(ctx context.Context, data []byte) (*simpleasset.ImageAsset, error) {
	return n.NegotiateWith(ctx, data, n.opts)
}

// NegotiateWith fits data into the given budget. The only hard failures
// are undecodable input, oversized pixel counts and cancellation.
func (n *Negotiator) NegotiateWith(ctx context.Context, data []byte, opts Options) (*simpleasset.ImageAsset, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", simpleasset.ErrInvalidInput, err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simpleasset.ErrUndecodable, err)
	}
	srcType, ok := simpleasset.ImageTypeFromExtension(format)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported format %q", simpleasset.ErrUndecodable, format)
	}
	if opts.MaxPixels > 0 && cfg.Width*cfg.Height > opts.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", simpleasset.ErrTooLarge, cfg.Width, cfg.Height, opts.MaxPixels)
	}

	if err := n.pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer n.pool.Release(1)

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simpleasset.ErrUndecodable, err)
	}
	img = applyOrientation(img, readOrientation(data))

	resized := false
	if w, h, shrink := fitWithin(img.Bounds().Dx(), img.Bounds().Dy(), opts.MaxDimension); shrink {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
		resized = true
	}

	asset, err := n.encode(ctx, img, srcType, opts)
	if err != nil {
		return nil, err
	}
	asset.Resized = resized

	if asset.OverBudget {
		n.logger.Warn("image exceeds budget at floor quality",
			"size_bytes", asset.SizeBytes,
			"budget_bytes", opts.BudgetBytes,
			"quality", asset.Quality,
			"width", asset.Width,
			"height", asset.Height)
	}
	return asset, nil
}

// fitWithin scales w x h so the longer side is at most limit, preserving
// aspect ratio. It never upscales.
func fitWithin(w, h, limit int) (int, int, bool) {
	if w <= limit && h <= limit {
		return w, h, false
	}
	if w >= h {
		nh := int(float64(h)*float64(limit)/float64(w) + 0.5)
		return limit, max(nh, 1), true
	}
	nw := int(float64(w)*float64(limit)/float64(h) + 0.5)
	return max(nw, 1), limit, true
}

func (n *Negotiator) encode(ctx context.Context, img image.Image, srcType simpleasset.ImageType, opts Options) (*simpleasset.ImageAsset, error) {
	bounds := img.Bounds()

	// Lossless formats get one best-compression attempt before falling
	// back to the JPEG ladder.
	if srcType == simpleasset.ImagePNG || srcType == simpleasset.ImageGIF {
		data, err := encodeLossless(img, srcType)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", srcType, err)
		}
		if len(data) <= opts.BudgetBytes {
			return newAsset(data, bounds, srcType, 0, false), nil
		}
		img = flatten(img)
	}

	var last []byte
	var lastQuality int
	for _, quality := range opts.QualityLadder {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg at quality %d: %w", quality, err)
		}
		if buf.Len() <= opts.BudgetBytes {
			return newAsset(buf.Bytes(), bounds, simpleasset.ImageJPEG, quality, false), nil
		}
		last, lastQuality = buf.Bytes(), quality
	}

	return newAsset(last, bounds, simpleasset.ImageJPEG, lastQuality, true), nil
}

func encodeLossless(img image.Image, t simpleasset.ImageType) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if t == simpleasset.ImagePNG {
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&buf, img)
	} else {
		err = imaging.Encode(&buf, img, imaging.GIF)
	}
	return buf.Bytes(), err
}

// flatten composites img onto white so transparent areas do not turn
// black when encoded without alpha.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func newAsset(data []byte, bounds image.Rectangle, t simpleasset.ImageType, quality int, overBudget bool) *simpleasset.ImageAsset {
	return &simpleasset.ImageAsset{
		Bytes:      data,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Format:     t,
		SizeBytes:  len(data),
		Quality:    quality,
		OverBudget: overBudget,
	}
}
