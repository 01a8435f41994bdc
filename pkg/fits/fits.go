// Package fits reads and writes the subset of the FITS standard used for
// detector frames: a primary HDU and IMAGE extensions with BITPIX 8, 16, 32,
// -32 or -64. Pixel values are big-endian on disk and converted to float64
// physical values (BSCALE/BZERO applied) in memory.
package fits

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"nirreduce/internal/models"
)

const (
	blockSize = 2880
	cardSize  = 80
)

// ErrUnsupportedBitpix is returned for a BITPIX outside 8, 16, 32, -32, -64
var ErrUnsupportedBitpix = errors.New("unsupported BITPIX")

// structural keywords are regenerated on write and never exposed in HDU.Header
var structural = map[string]bool{
	"SIMPLE": true, "XTENSION": true, "BITPIX": true, "NAXIS": true,
	"EXTEND": true, "PCOUNT": true, "GCOUNT": true, "BSCALE": true,
	"BZERO": true, "END": true,
}

// HDU is one header/data unit
type HDU struct {
	// Header holds the non-structural cards (EXTNAME included)
	Header *models.Header

	// Bitpix is the on-disk sample format
	Bitpix int

	// Naxis lists NAXIS1..NAXISn; NAXIS1 varies fastest in Data
	Naxis []int

	// Data holds physical pixel values
	Data []float64
}

// Name returns the EXTNAME of the HDU, or PRIMARY for an unnamed unit
func (h *HDU) Name() string {
	if h.Header != nil && h.Header.Has("EXTNAME") {
		return h.Header.String("EXTNAME")
	}
	return "PRIMARY"
}

// Len is the number of pixels described by Naxis
func (h *HDU) Len() int {
	if len(h.Naxis) == 0 {
		return 0
	}
	n := 1
	for _, a := range h.Naxis {
		n *= a
	}
	return n
}

// ReadFile reads every image HDU of a FITS file
func ReadFile(path string) ([]*HDU, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	defer f.Close()
	return Read(bufio.NewReader(f))
}

// Read reads every HDU from r. Extensions other than IMAGE are skipped.
func Read(r io.Reader) ([]*HDU, error) {
	var hdus []*HDU
	for first := true; ; first = false {
		raw, err := readHeader(r)
		if err != nil {
			if !first && errors.Is(err, io.EOF) {
				return hdus, nil
			}
			return nil, err
		}

		hdu, skip, size, err := parseHeader(raw, first)
		if err != nil {
			return nil, err
		}

		if skip {
			if _, err := io.CopyN(io.Discard, r, padded(size)); err != nil {
				return nil, fmt.Errorf("skipping extension data: %w", err)
			}
			continue
		}
		if err := readData(r, hdu, raw); err != nil {
			return nil, fmt.Errorf("reading %s data: %w", hdu.Name(), err)
		}
		hdus = append(hdus, hdu)
	}
}

// readHeader returns the raw cards up to and including END
func readHeader(r io.Reader) ([]string, error) {
	var cards []string
	block := make([]byte, blockSize)
	for {
		if _, err := io.ReadFull(r, block); err != nil {
			if errors.Is(err, io.EOF) && len(cards) == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading FITS header record: %w", err)
		}
		for i := 0; i < blockSize; i += cardSize {
			card := string(block[i : i+cardSize])
			cards = append(cards, card)
			if strings.TrimSpace(card[:8]) == "END" {
				return cards, nil
			}
		}
	}
}

func parseHeader(cards []string, primary bool) (*HDU, bool, int64, error) {
	hdu := &HDU{Header: models.NewHeader()}
	values := make(map[string]interface{})
	naxis := 0

	for _, card := range cards {
		key := strings.TrimSpace(card[:8])
		if key == "" || key == "END" {
			continue
		}
		if key == "COMMENT" || key == "HISTORY" || card[8:10] != "= " {
			hdu.Header.Cards = append(hdu.Header.Cards, models.Card{Key: key, Value: strings.TrimRight(card[8:], " ")})
			continue
		}
		value, comment := parseValue(card[10:])
		values[key] = value
		if structural[key] || strings.HasPrefix(key, "NAXIS") {
			continue
		}
		hdu.Header.Cards = append(hdu.Header.Cards, models.Card{Key: key, Value: value, Comment: comment})
	}

	if primary {
		if v, _ := values["SIMPLE"].(bool); !v {
			return nil, false, 0, fmt.Errorf("not a FITS file: SIMPLE card missing")
		}
	}

	bitpix, ok := values["BITPIX"].(int64)
	if !ok {
		return nil, false, 0, fmt.Errorf("missing BITPIX")
	}
	hdu.Bitpix = int(bitpix)
	if n, ok := values["NAXIS"].(int64); ok {
		naxis = int(n)
	}
	for i := 1; i <= naxis; i++ {
		n, ok := values["NAXIS"+strconv.Itoa(i)].(int64)
		if !ok {
			return nil, false, 0, fmt.Errorf("missing NAXIS%d", i)
		}
		hdu.Naxis = append(hdu.Naxis, int(n))
	}

	size := int64(hdu.Len()) * int64(abs(hdu.Bitpix)/8)
	if !primary {
		xt, _ := values["XTENSION"].(string)
		if strings.TrimSpace(xt) != "IMAGE" {
			pcount, _ := values["PCOUNT"].(int64)
			gcount, ok := values["GCOUNT"].(int64)
			if !ok {
				gcount = 1
			}
			size = int64(abs(hdu.Bitpix)/8) * gcount * (pcount + int64(hdu.Len()))
			return nil, true, size, nil
		}
	}
	return hdu, false, size, nil
}

func readData(r io.Reader, hdu *HDU, raw []string) error {
	n := hdu.Len()
	if n == 0 {
		return nil
	}

	bscale, bzero := 1.0, 0.0
	for _, card := range raw {
		switch strings.TrimSpace(card[:8]) {
		case "BSCALE":
			if v, _ := parseValue(card[10:]); v != nil {
				bscale = toFloat(v)
			}
		case "BZERO":
			if v, _ := parseValue(card[10:]); v != nil {
				bzero = toFloat(v)
			}
		}
	}

	width := abs(hdu.Bitpix) / 8
	if width == 0 {
		return fmt.Errorf("%w: %d", ErrUnsupportedBitpix, hdu.Bitpix)
	}
	buf := make([]byte, n*width)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	if _, err := io.CopyN(io.Discard, r, padded(int64(len(buf)))-int64(len(buf))); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	data := make([]float64, n)
	for i := range data {
		var v float64
		switch hdu.Bitpix {
		case 8:
			v = float64(buf[i])
		case 16:
			v = float64(int16(binary.BigEndian.Uint16(buf[i*2:])))
		case 32:
			v = float64(int32(binary.BigEndian.Uint32(buf[i*4:])))
		case -32:
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(buf[i*4:])))
		case -64:
			v = math.Float64frombits(binary.BigEndian.Uint64(buf[i*8:]))
		default:
			return fmt.Errorf("%w: %d", ErrUnsupportedBitpix, hdu.Bitpix)
		}
		data[i] = v*bscale + bzero
	}
	hdu.Data = data
	return nil
}

// parseValue splits the value field of a card into a typed value and the
// trailing comment
func parseValue(field string) (interface{}, string) {
	s := strings.TrimSpace(field)
	if strings.HasPrefix(s, "'") {
		var sb strings.Builder
		i := 1
		for i < len(s) {
			if s[i] == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					sb.WriteByte('\'')
					i += 2
					continue
				}
				break
			}
			sb.WriteByte(s[i])
			i++
		}
		rest := ""
		if i+1 < len(s) {
			rest = s[i+1:]
		}
		return strings.TrimRight(sb.String(), " "), comment(rest)
	}

	raw, rest := s, ""
	if idx := strings.Index(s, "/"); idx >= 0 {
		raw, rest = strings.TrimSpace(s[:idx]), s[idx:]
	}
	switch raw {
	case "":
		return nil, comment(rest)
	case "T":
		return true, comment(rest)
	case "F":
		return false, comment(rest)
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i, comment(rest)
	}
	if f, err := strconv.ParseFloat(strings.Replace(raw, "D", "E", 1), 64); err == nil {
		return f, comment(rest)
	}
	return raw, comment(rest)
}

func comment(rest string) string {
	rest = strings.TrimSpace(rest)
	return strings.TrimSpace(strings.TrimPrefix(rest, "/"))
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

func padded(n int64) int64 {
	return (n + blockSize - 1) / blockSize * blockSize
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
