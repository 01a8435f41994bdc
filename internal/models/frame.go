package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrUnknownReadMode is returned for a READMODE value outside ReadModes
var ErrUnknownReadMode = errors.New("unknown readout mode")

// ReadMode is the detector readout scheme of a frame
type ReadMode string

const (
	ReadSingle ReadMode = "SINGLE"
	ReadCDS    ReadMode = "CDS"
	ReadFowler ReadMode = "FOWLER"
	ReadRamp   ReadMode = "RAMP"
)

// ReadModes lists every supported readout mode
var ReadModes = []ReadMode{ReadSingle, ReadCDS, ReadFowler, ReadRamp}

// ParseReadMode converts a header value to a ReadMode (case-insensitive)
func ParseReadMode(s string) (ReadMode, error) {
	m := ReadMode(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range ReadModes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownReadMode, s)
}

// Header keywords used by the reduction
const (
	KeyReadMode = "READMODE"
	KeyReadProc = "READPROC"
	KeyElapsed  = "ELAPSED"
	KeyReadSamp = "READSAMP"
	KeyFilename = "FILENAME"
)

// Card is one header entry. Value holds a string, bool, int64 or float64.
type Card struct {
	Key     string
	Value   interface{}
	Comment string
}

// Header is an ordered list of cards with case-insensitive lookup. A nil
// *Header reads as empty.
type Header struct {
	Cards []Card
}

// NewHeader returns an empty header
func NewHeader() *Header {
	return &Header{}
}

func (h *Header) index(key string) int {
	if h == nil {
		return -1
	}
	key = strings.ToUpper(key)
	for i := range h.Cards {
		if h.Cards[i].Key == key {
			return i
		}
	}
	return -1
}

// Set replaces the value of key or appends a new card
func (h *Header) Set(key string, value interface{}, comment string) {
	key = strings.ToUpper(key)
	if i := h.index(key); i >= 0 {
		h.Cards[i].Value = value
		if comment != "" {
			h.Cards[i].Comment = comment
		}
		return
	}
	h.Cards = append(h.Cards, Card{Key: key, Value: value, Comment: comment})
}

// Get returns the raw value of key
func (h *Header) Get(key string) (interface{}, bool) {
	if i := h.index(key); i >= 0 {
		return h.Cards[i].Value, true
	}
	return nil, false
}

// Has reports whether key is present
func (h *Header) Has(key string) bool { return h.index(key) >= 0 }

// String returns the value of key as a string
func (h *Header) String(key string) string {
	v, ok := h.Get(key)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Float returns the value of key as a float64
func (h *Header) Float(key string) (float64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns the value of key as an int
func (h *Header) Int(key string) (int, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case int64:
		return int(x), true
	case int:
		return x, true
	case float64:
		if x == float64(int(x)) {
			return int(x), true
		}
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		return i, err == nil
	}
	return 0, false
}

// Bool returns the value of key as a logical; missing keys are false
func (h *Header) Bool(key string) bool {
	v, ok := h.Get(key)
	if !ok {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		s := strings.ToUpper(strings.TrimSpace(x))
		return s == "T" || s == "TRUE"
	}
	return false
}

// Copy returns a deep copy of the header cards. A nil header copies to an
// empty one.
func (h *Header) Copy() *Header {
	if h == nil {
		return NewHeader()
	}
	out := &Header{Cards: make([]Card, len(h.Cards))}
	copy(out.Cards, h.Cards)
	return out
}

// Extension is a named ancillary image attached to a frame. Exactly one of
// Float, Int or Mask is set.
type Extension struct {
	Name  string
	Float *mat.Dense
	Int   *IntImage
	Mask  *MaskImage
}

// Frame is one exposure: the primary header with either raw reads (before
// reduction) or the reduced image and its extensions (after)
type Frame struct {
	Header *Header

	// Cube holds the raw reads; nil once the frame has been reduced
	Cube *Cube

	// Image is the reduced primary image
	Image *mat.Dense

	Extensions []Extension
}

// Processed reports whether READPROC is set
func (f *Frame) Processed() bool {
	return f.Header != nil && f.Header.Bool(KeyReadProc)
}

// Extension returns the extension called name (case-insensitive)
func (f *Frame) Extension(name string) (Extension, bool) {
	for _, ext := range f.Extensions {
		if strings.EqualFold(ext.Name, name) {
			return ext, true
		}
	}
	return Extension{}, false
}
