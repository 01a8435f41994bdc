package fits

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// WriteFile writes hdus to path, replacing any existing file
func WriteFile(path string, hdus []*HDU) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating FITS file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := Write(w, hdus); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing FITS file: %w", err)
	}
	return f.Close()
}

// Write encodes hdus. The first HDU becomes the primary unit, the rest
// IMAGE extensions.
func Write(w io.Writer, hdus []*HDU) error {
	for i, hdu := range hdus {
		if err := writeHeader(w, hdu, i == 0, len(hdus) > 1); err != nil {
			return fmt.Errorf("writing %s header: %w", hdu.Name(), err)
		}
		if err := writeData(w, hdu); err != nil {
			return fmt.Errorf("writing %s data: %w", hdu.Name(), err)
		}
	}
	return nil
}

func writeHeader(w io.Writer, hdu *HDU, primary, extend bool) error {
	var cards []string
	if primary {
		cards = append(cards, formatCard("SIMPLE", true, "conforms to FITS standard"))
	} else {
		cards = append(cards, formatCard("XTENSION", "IMAGE", "image extension"))
	}
	cards = append(cards, formatCard("BITPIX", int64(hdu.Bitpix), "array data type"))
	cards = append(cards, formatCard("NAXIS", int64(len(hdu.Naxis)), "number of array dimensions"))
	for i, n := range hdu.Naxis {
		cards = append(cards, formatCard("NAXIS"+strconv.Itoa(i+1), int64(n), ""))
	}
	if primary {
		if extend {
			cards = append(cards, formatCard("EXTEND", true, ""))
		}
	} else {
		cards = append(cards, formatCard("PCOUNT", int64(0), ""), formatCard("GCOUNT", int64(1), ""))
	}
	if hdu.Header != nil {
		for _, c := range hdu.Header.Cards {
			if structural[c.Key] || strings.HasPrefix(c.Key, "NAXIS") {
				continue
			}
			if c.Key == "COMMENT" || c.Key == "HISTORY" {
				cards = append(cards, pad(fmt.Sprintf("%-8s%v", c.Key, c.Value)))
				continue
			}
			cards = append(cards, formatCard(c.Key, c.Value, c.Comment))
		}
	}
	cards = append(cards, pad("END"))

	var sb strings.Builder
	for _, c := range cards {
		sb.WriteString(c)
	}
	for sb.Len()%blockSize != 0 {
		sb.WriteByte(' ')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// formatCard renders a fixed-format keyword = value / comment card
func formatCard(key string, value interface{}, comment string) string {
	var v string
	switch x := value.(type) {
	case bool:
		v = fmt.Sprintf("%20s", map[bool]string{true: "T", false: "F"}[x])
	case int64:
		v = fmt.Sprintf("%20d", x)
	case int:
		v = fmt.Sprintf("%20d", x)
	case int32:
		v = fmt.Sprintf("%20d", x)
	case float64:
		v = fmt.Sprintf("%20s", formatFloat(x))
	case string:
		s := "'" + strings.ReplaceAll(x, "'", "''")
		for len(s) < 9 {
			s += " "
		}
		v = fmt.Sprintf("%-20s", s+"'")
	default:
		v = fmt.Sprintf("%-20s", fmt.Sprintf("'%v'", x))
	}
	card := fmt.Sprintf("%-8s= %s", strings.ToUpper(key), v)
	if comment != "" {
		card += " / " + comment
	}
	return pad(card)
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'G', -1, 64)
	if !strings.ContainsAny(s, ".EN") {
		s += ".0"
	}
	return s
}

func pad(card string) string {
	if len(card) > cardSize {
		return card[:cardSize]
	}
	return card + strings.Repeat(" ", cardSize-len(card))
}

func writeData(w io.Writer, hdu *HDU) error {
	n := hdu.Len()
	if n == 0 {
		return nil
	}
	if len(hdu.Data) != n {
		return fmt.Errorf("data has %d values, axes describe %d", len(hdu.Data), n)
	}

	width := abs(hdu.Bitpix) / 8
	buf := make([]byte, padded(int64(n*width)))
	for i, v := range hdu.Data {
		switch hdu.Bitpix {
		case 8:
			buf[i] = uint8(v)
		case 16:
			binary.BigEndian.PutUint16(buf[i*2:], uint16(int16(math.Round(v))))
		case 32:
			binary.BigEndian.PutUint32(buf[i*4:], uint32(int32(math.Round(v))))
		case -32:
			binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
		case -64:
			binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(v))
		default:
			return fmt.Errorf("%w: %d", ErrUnsupportedBitpix, hdu.Bitpix)
		}
	}
	_, err := w.Write(buf)
	return err
}
