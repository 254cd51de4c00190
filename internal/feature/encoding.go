package feature

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/onnwee/tripfeed/internal/vector"
)

// Encoding errors.
var (
	ErrInvalidEncoding = errors.New("invalid category encoding")
	ErrUnknownLevel    = errors.New("unknown category level")
)

// NoUnknownRow marks a codebook that maps unknown codes to an all-zero row.
const NoUnknownRow = -1

// Codebook maps the category codes of one hierarchy level to row indices.
type Codebook struct {
	Level int      `cbor:"level"`
	Codes []string `cbor:"codes"`
	// Unknown is the row set for non-empty codes absent from Codes,
	// or NoUnknownRow.
	Unknown int `cbor:"unknown"`

	index map[string]int
}

func (c *Codebook) build() {
	c.index = make(map[string]int, len(c.Codes))
	for i, code := range c.Codes {
		c.index[code] = i
	}
}

// CategoryEncoding turns a content's three category codes into the fixed
// one-hot category segment, and decodes segment indices back to codes.
type CategoryEncoding struct {
	Version int               `cbor:"version"`
	Levels  []*Codebook       `cbor:"levels"`
	Names   map[string]string `cbor:"names"`

	byLevel [3]*Codebook
}

// NewCategoryEncoding validates the codebooks against the vector layout and
// prepares lookup tables.
func NewCategoryEncoding(levels []*Codebook, names map[string]string) (*CategoryEncoding, error) {
	e := &CategoryEncoding{Version: 1, Levels: levels, Names: names}
	if err := e.init(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *CategoryEncoding) init() error {
	if e.Names == nil {
		e.Names = map[string]string{}
	}
	e.byLevel = [3]*Codebook{}
	for _, cb := range e.Levels {
		if cb == nil {
			return fmt.Errorf("%w: nil codebook", ErrInvalidEncoding)
		}
		r, ok := vector.LevelRange(cb.Level)
		if !ok {
			return fmt.Errorf("%w: level %d", ErrUnknownLevel, cb.Level)
		}
		if e.byLevel[cb.Level-1] != nil {
			return fmt.Errorf("%w: duplicate level %d", ErrInvalidEncoding, cb.Level)
		}
		if len(cb.Codes) > r.Len() {
			return fmt.Errorf("%w: level %d has %d codes, width is %d",
				ErrInvalidEncoding, cb.Level, len(cb.Codes), r.Len())
		}
		if cb.Unknown != NoUnknownRow && (cb.Unknown < 0 || cb.Unknown >= r.Len()) {
			return fmt.Errorf("%w: level %d unknown row %d out of range",
				ErrInvalidEncoding, cb.Level, cb.Unknown)
		}
		cb.build()
		e.byLevel[cb.Level-1] = cb
	}
	return nil
}

// Encode returns the CategoryDim-wide category segment for the given codes.
// Empty codes and levels without a codebook contribute zeros.
func (e *CategoryEncoding) Encode(c1, c2, c3 string) []float32 {
	out := make([]float32, vector.CategoryDim)
	for level, code := range []string{c1, c2, c3} {
		cb := e.byLevel[level]
		if cb == nil || code == "" {
			continue
		}
		row, ok := cb.index[code]
		if !ok {
			if cb.Unknown == NoUnknownRow {
				continue
			}
			row = cb.Unknown
		}
		r, _ := vector.LevelRange(level + 1)
		out[r.Start-vector.TextDim+row] = 1
	}
	return out
}

// Label decodes a row index within a level's sub-range back to its code.
// ok is false for the unknown row and for out-of-range indices.
func (e *CategoryEncoding) Label(level, index int) (string, bool) {
	if level < 1 || level > 3 {
		return "", false
	}
	cb := e.byLevel[level-1]
	if cb == nil || index < 0 || index >= len(cb.Codes) || index == cb.Unknown {
		return "", false
	}
	return cb.Codes[index], true
}

// Name returns the human-readable label for code, or code itself when unnamed.
func (e *CategoryEncoding) Name(code string) string {
	if name, ok := e.Names[code]; ok && name != "" {
		return name
	}
	return code
}

// DecodeEncoding parses a CBOR encoding artifact.
func DecodeEncoding(data []byte) (*CategoryEncoding, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty artifact", ErrInvalidEncoding)
	}
	var e CategoryEncoding
	if err := cbor.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if err := e.init(); err != nil {
		return nil, err
	}
	return &e, nil
}

// MarshalArtifact serializes the encoding as a CBOR artifact.
func (e *CategoryEncoding) MarshalArtifact() ([]byte, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(e)
}
