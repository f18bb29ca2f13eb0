// Package iq reads and writes complex baseband captures.
package iq

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Format identifies a capture file layout.
type Format string

const (
	// FormatCSV is one complex literal per line in the first column, such as
	// (0.01+0.5j) or -1.2-3e-05j.
	FormatCSV Format = "csv"
	// FormatCF32 is interleaved little-endian float32 I/Q.
	FormatCF32 Format = "cf32"
	// FormatCU8 is interleaved unsigned 8-bit I/Q as written by rtl_sdr.
	FormatCU8 Format = "cu8"
)

// ErrEmptyCapture is returned when a capture holds no samples.
var ErrEmptyCapture = errors.New("capture contains no samples")

// cu8 samples are centred on 127.5 and scaled to roughly [-1, 1].
const cu8Center = 127.5

// ParseFormat parses a format name. Common aliases are accepted.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "csv", "txt":
		return FormatCSV, nil
	case "cf32", "fc32", "cfile", "raw":
		return FormatCF32, nil
	case "cu8", "bin", "dat":
		return FormatCU8, nil
	default:
		return "", fmt.Errorf("unknown capture format %q", s)
	}
}

// FormatFromPath guesses the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// ReadFile loads a capture. An empty format is inferred from the extension.
func ReadFile(path string, format Format) ([]complex128, error) {
	if format == "" {
		f, err := FormatFromPath(path)
		if err != nil {
			return nil, err
		}
		format = f
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	samples, err := Read(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}

// Read decodes a capture from r.
func Read(r io.Reader, format Format) ([]complex128, error) {
	var (
		samples []complex128
		err     error
	)
	switch format {
	case FormatCSV:
		samples, err = readCSV(r)
	case FormatCF32:
		samples, err = readCF32(r)
	case FormatCU8:
		samples, err = readCU8(r)
	default:
		return nil, fmt.Errorf("unknown capture format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrEmptyCapture
	}
	return samples, nil
}

func readCSV(r io.Reader) ([]complex128, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var samples []complex128
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		field := strings.TrimSpace(rec[0])
		if field == "" {
			continue
		}
		s, err := ParseComplex(field)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// ParseComplex parses a complex literal that uses either j or i as the
// imaginary unit, with or without surrounding parentheses.
func ParseComplex(s string) (complex128, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "j", "i")
	c, err := strconv.ParseComplex(s, 128)
	if err != nil {
		return 0, fmt.Errorf("parse complex %q: %w", s, err)
	}
	return c, nil
}

func readCF32(r io.Reader) ([]complex128, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cf32: %w", err)
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("cf32: %d bytes is not a whole number of samples", len(data))
	}
	samples := make([]complex128, len(data)/8)
	for i := range samples {
		re := math.Float32frombits(binary.LittleEndian.Uint32(data[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(data[i*8+4:]))
		samples[i] = complex(float64(re), float64(im))
	}
	return samples, nil
}

func readCU8(r io.Reader) ([]complex128, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cu8: %w", err)
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("cu8: odd byte count %d", len(data))
	}
	samples := make([]complex128, len(data)/2)
	for i := range samples {
		re := (float64(data[i*2]) - cu8Center) / cu8Center
		im := (float64(data[i*2+1]) - cu8Center) / cu8Center
		samples[i] = complex(re, im)
	}
	return samples, nil
}

// WriteFile stores samples in the given format, inferring it from the
// extension when format is empty.
func WriteFile(path string, samples []complex128, format Format) (err error) {
	if format == "" {
		if format, err = FormatFromPath(path); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create capture: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if err := Write(w, samples, format); err != nil {
		return err
	}
	return w.Flush()
}

// Write encodes samples to w.
func Write(w io.Writer, samples []complex128, format Format) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, samples)
	case FormatCF32:
		buf := make([]byte, 8)
		for _, s := range samples {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(real(s))))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(imag(s))))
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("cf32: %w", err)
			}
		}
		return nil
	case FormatCU8:
		buf := make([]byte, 2)
		for _, s := range samples {
			buf[0] = toU8(real(s))
			buf[1] = toU8(imag(s))
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("cu8: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown capture format %q", format)
	}
}

func toU8(v float64) byte {
	x := math.Round(v*cu8Center + cu8Center)
	return byte(max(0, min(255, x)))
}

func writeCSV(w io.Writer, samples []complex128) error {
	cw := csv.NewWriter(w)
	rec := make([]string, 1)
	for _, s := range samples {
		rec[0] = FormatComplex(s)
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatComplex renders s the way the CSV captures spell it: (re+imj).
func FormatComplex(s complex128) string {
	str := strconv.FormatComplex(s, 'g', -1, 128)
	return strings.Replace(str, "i)", "j)", 1)
}
