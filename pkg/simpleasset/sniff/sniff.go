// Package sniff authenticates image content by its leading magic bytes.
//
// The declared Content-Type or file extension of an upload is never
// trusted: the detected type decides the stored extension and MIME type,
// and bytes matching no known signature are rejected.
package sniff

import (
	"bytes"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47}
	gifMagic  = []byte{0x47, 0x49, 0x46, 0x38}
	riffMagic = []byte("RIFF")
	webpMagic = []byte("WEBP")
)

// HeaderLen is the number of leading bytes Authenticate needs.
const HeaderLen = 12

// Authenticate detects the image type from the leading bytes of b.
func Authenticate(b []byte) (simpleasset.ImageType, bool) {
	switch {
	case bytes.HasPrefix(b, jpegMagic):
		return simpleasset.ImageJPEG, true
	case bytes.HasPrefix(b, pngMagic):
		return simpleasset.ImagePNG, true
	case bytes.HasPrefix(b, gifMagic):
		return simpleasset.ImageGIF, true
	case len(b) >= HeaderLen && bytes.Equal(b[0:4], riffMagic) && bytes.Equal(b[8:12], webpMagic):
		return simpleasset.ImageWEBP, true
	}
	return "", false
}

// Mismatch reports whether a declared content type contradicts the
// detected one. An empty or unrecognised declaration is not a mismatch.
func Mismatch(declared string, detected simpleasset.ImageType) bool {
	if declared == "" {
		return false
	}
	t, ok := simpleasset.ImageTypeFromMIME(declared)
	if !ok {
		return false
	}
	return t != detected
}
