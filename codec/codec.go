// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package codec

import "errors"

// MaxDiscard is the coarsest usable discard level. Discard level 0 is
// the full-resolution image; each higher level halves both dimensions.
const MaxDiscard = 5

// MaxDataSize caps the byte budget for assets whose encoding does not
// support progressive refinement and must be fetched whole.
const MaxDataSize = 4 * 2048 * 2048

// minLevelSize is the floor applied to every size estimate. Even the
// coarsest level carries codec headers and markers.
const minLevelSize = 600

// probe dimensions assumed for assets whose true dimensions are not
// yet known.
const (
	probeDim        = 2048
	probeComponents = 4
)

// compression rate assumed by the size estimate, in bytes per pixel
// channel.
const rate = 0.125

// ErrDepth is returned by a Decoder when the input bytes do not hold
// enough data to reach the requested discard level.
var ErrDepth = errors.New("codec: insufficient data for discard level")

// A Header holds the image parameters a Decoder can read from the
// leading bytes of an encoded asset without a full decode.
type Header struct {
	Width      int
	Height     int
	Components int
}

// A Raw is a decoded pixel buffer.
type Raw struct {
	Width      int
	Height     int
	Components int
	Pix        []byte
}

// A Result carries the product of one decode call.
type Result struct {
	// Image is the decoded color image.
	Image *Raw
	// Aux is the decoded auxiliary channel, nil unless one was
	// requested and present.
	Aux *Raw
	// Discard is the discard level the decoder actually reached. It
	// may be coarser than requested when the input held less data
	// than the estimate predicted.
	Discard int
}

// A Decoder decodes progressively-encoded asset bytes. Implementations
// must be safe for concurrent use by multiple goroutines.
type Decoder interface {
	// ParseHeader reads image parameters from the leading bytes of an
	// encoded asset. It fails if data does not begin with a valid
	// codestream header.
	ParseHeader(data []byte) (Header, error)

	// Decode decodes data down to the given discard level. When
	// needAux is true and the asset carries an auxiliary channel, the
	// channel is decoded alongside the color image.
	Decode(data []byte, discard int, needAux bool) (Result, error)
}

// DataSize estimates the encoded byte count needed to reconstruct an
// image of the given dimensions at the given discard level. The
// estimate is deterministic and monotone: coarser levels never need
// more bytes than finer ones, and no level estimates below a fixed
// floor.
func DataSize(width, height, components, discard int) int {
	if discard < 0 {
		discard = 0
	}
	if discard > MaxDiscard {
		discard = MaxDiscard
	}
	w := width >> discard
	h := height >> discard
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	size := int(float64(w) * float64(h) * float64(components) * rate)
	if size < minLevelSize {
		size = minLevelSize
	}
	return size
}

// ProbeSize is the byte budget requested for an asset whose dimensions
// are not yet known: twice the level-0 estimate for the largest
// supported image.
func ProbeSize() int {
	return DataSize(probeDim, probeDim, probeComponents, 0) * 2
}

// FullFetchSize is the byte budget requested when the full asset is
// wanted: twice the level-0 estimate, leaving room for the estimate
// running under the true encoded size.
func FullFetchSize(width, height, components int) int {
	return DataSize(width, height, components, 0) * 2
}

// DiscardForSize returns the finest discard level whose estimated byte
// requirement is covered by size. If size does not cover even the
// coarsest level's estimate, MaxDiscard is returned.
func DiscardForSize(size, width, height, components int) int {
	for d := 0; d < MaxDiscard; d++ {
		if size >= DataSize(width, height, components, d) {
			return d
		}
	}
	return MaxDiscard
}
