package objectkey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates a storage path for a new image of type t in ns
	GenerateKey(ns simpleasset.Namespace, t simpleasset.ImageType) (simpleasset.StoragePath, error)
}

// RandomGenerator names objects with a cryptographically random token:
// {namespace dir}/{32 hex chars}.{ext}
type RandomGenerator struct {
	// Entropy is the randomness source (default: crypto/rand.Reader)
	Entropy io.Reader
	// TokenBytes controls the random token length (default: 16)
	TokenBytes int
}

func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{
		Entropy:    rand.Reader,
		TokenBytes: 16,
	}
}

func (g *RandomGenerator) GenerateKey(ns simpleasset.Namespace, t simpleasset.ImageType) (simpleasset.StoragePath, error) {
	if err := ns.Validate(); err != nil {
		return simpleasset.StoragePath{}, err
	}

	token := make([]byte, g.TokenBytes)
	if _, err := io.ReadFull(g.Entropy, token); err != nil {
		return simpleasset.StoragePath{}, fmt.Errorf("failed to generate object name: %w", err)
	}

	filename := hex.EncodeToString(token) + "." + t.Extension()
	return Compose(ns.Dir(), filename)
}

// CustomFuncGenerator allows users to provide their own key generation function
type CustomFuncGenerator struct {
	GenerateFunc func(ns simpleasset.Namespace, t simpleasset.ImageType) (string, error)
}

func NewCustomFuncGenerator(fn func(ns simpleasset.Namespace, t simpleasset.ImageType) (string, error)) *CustomFuncGenerator {
	return &CustomFuncGenerator{
		GenerateFunc: fn,
	}
}

// GenerateKey runs the custom function and validates its output, so a
// custom strategy can never produce a path outside the grammar.
func (g *CustomFuncGenerator) GenerateKey(ns simpleasset.Namespace, t simpleasset.ImageType) (simpleasset.StoragePath, error) {
	raw, err := g.GenerateFunc(ns, t)
	if err != nil {
		return simpleasset.StoragePath{}, err
	}
	p, ok := SanitizeObject(raw)
	if !ok || p.String() != raw {
		return simpleasset.StoragePath{}, fmt.Errorf("%w: generated key %q", simpleasset.ErrSecurityViolation, raw)
	}
	return p, nil
}

// Compose joins dir and filename and re-validates the full path.
func Compose(dir simpleasset.StoragePath, filename string) (simpleasset.StoragePath, error) {
	raw := dir.WithFilename(filename).String()
	p, ok := SanitizeObject(raw)
	if !ok || p.String() != raw {
		return simpleasset.StoragePath{}, fmt.Errorf("%w: composed path %q", simpleasset.ErrSecurityViolation, raw)
	}
	return p, nil
}

// Relocate moves p under the namespace root of target, keeping the
// collection and filename. It is used when claiming or duplicating assets.
func Relocate(p simpleasset.StoragePath, target simpleasset.Namespace) (simpleasset.StoragePath, error) {
	if err := target.Validate(); err != nil {
		return simpleasset.StoragePath{}, err
	}
	moved := p.WithRoot(target.Root())
	if target.Kind == simpleasset.NamespacePreview {
		moved.Collection = target.ID.String()
	}
	return Compose(moved.WithFilename(""), p.Filename)
}

// NewRecommendedGenerator returns the generator used for new installations
func NewRecommendedGenerator() Generator {
	return NewRandomGenerator()
}
