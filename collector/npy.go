package collector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

const (
	npyMagic     = "\x93NUMPY"
	npyAlignment = 64
)

var (
	ErrNPYFormat = errors.New("npy: invalid format")

	npyShapeRe = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// EncodeNPY writes data as a version 1.0 .npy array of uint8 ('|u1') in C
// order. The product of shape must equal len(data).
func EncodeNPY(w io.Writer, shape []int, data []byte) error {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return fmt.Errorf("npy: negative dimension %d", d)
		}
		n *= d
	}
	if n != len(data) {
		return fmt.Errorf("npy: shape %v holds %d values, got %d", shape, n, len(data))
	}

	header := fmt.Sprintf("{'descr': '|u1', 'fortran_order': False, 'shape': %s, }", shapeTuple(shape))
	// magic(6) + version(2) + header length(2) + header + '\n'
	pre := len(npyMagic) + 2 + 2
	pad := npyAlignment - (pre+len(header)+1)%npyAlignment
	if pad == npyAlignment {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"
	if len(header) > 0xffff {
		return fmt.Errorf("npy: header too long")
	}

	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("npy: write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("npy: write data: %w", err)
	}
	return nil
}

func shapeTuple(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	if len(shape) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// DecodeNPY reads a version 1.0 uint8 .npy array written by EncodeNPY and
// returns its shape and data.
func DecodeNPY(raw []byte) ([]int, []byte, error) {
	if len(raw) < 10 || string(raw[:6]) != npyMagic {
		return nil, nil, fmt.Errorf("%w: bad magic", ErrNPYFormat)
	}
	if raw[6] != 1 {
		return nil, nil, fmt.Errorf("%w: unsupported version %d.%d", ErrNPYFormat, raw[6], raw[7])
	}
	hlen := int(binary.LittleEndian.Uint16(raw[8:10]))
	if len(raw) < 10+hlen {
		return nil, nil, fmt.Errorf("%w: truncated header", ErrNPYFormat)
	}
	header := string(raw[10 : 10+hlen])
	if !strings.Contains(header, "'descr': '|u1'") {
		return nil, nil, fmt.Errorf("%w: dtype is not uint8", ErrNPYFormat)
	}
	m := npyShapeRe.FindStringSubmatch(header)
	if m == nil {
		return nil, nil, fmt.Errorf("%w: no shape", ErrNPYFormat)
	}

	var shape []int
	n := 1
	for _, f := range strings.Split(m[1], ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		d, err := strconv.Atoi(f)
		if err != nil || d < 0 {
			return nil, nil, fmt.Errorf("%w: shape %q", ErrNPYFormat, m[1])
		}
		shape = append(shape, d)
		n *= d
	}
	data := raw[10+hlen:]
	if len(data) != n {
		return nil, nil, fmt.Errorf("%w: shape %v wants %d bytes, have %d", ErrNPYFormat, shape, n, len(data))
	}
	return shape, data, nil
}
