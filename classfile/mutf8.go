package classfile

import (
	"fmt"
	"unicode/utf16"
)

// DecodeMUTF8 decodes the "modified UTF-8" used by Utf8 constants: NUL is
// two bytes (0xC0 0x80) and supplementary characters are surrogate pairs of
// three-byte sequences. The result is the UTF-16 code units decoded into a Go
// string; lone surrogates become U+FFFD.
func DecodeMUTF8(b []byte) (string, error) {
	units, err := DecodeMUTF8Units(b)
	if err != nil {
		return "", err
	}
	// ASCII fast path
	ascii := true
	for _, u := range units {
		if u >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		buf := make([]byte, len(units))
		for i, u := range units {
			buf[i] = byte(u)
		}
		return string(buf), nil
	}
	return string(utf16.Decode(units)), nil
}

// DecodeMUTF8Units decodes modified UTF-8 into UTF-16 code units.
func DecodeMUTF8Units(b []byte) ([]uint16, error) {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == 0:
			return nil, fmt.Errorf("%w: NUL byte in modified UTF-8 at %d", ErrBadConstant, i)
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return nil, fmt.Errorf("%w: bad 2-byte sequence at %d", ErrBadConstant, i)
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return nil, fmt.Errorf("%w: bad 3-byte sequence at %d", ErrBadConstant, i)
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return nil, fmt.Errorf("%w: invalid byte 0x%02X in modified UTF-8 at %d", ErrBadConstant, c, i)
		}
	}
	return units, nil
}

// EncodeMUTF8 encodes a Go string as modified UTF-8.
func EncodeMUTF8(s string) []byte {
	return EncodeMUTF8Units(utf16.Encode([]rune(s)))
}

// EncodeMUTF8Units encodes UTF-16 code units as modified UTF-8.
func EncodeMUTF8Units(units []uint16) []byte {
	out := make([]byte, 0, len(units))
	for _, u := range units {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, byte(0xC0|(u>>6)&0x1F), byte(0x80|u&0x3F))
		default:
			out = append(out, byte(0xE0|(u>>12)&0x0F), byte(0x80|(u>>6)&0x3F), byte(0x80|u&0x3F))
		}
	}
	return out
}
