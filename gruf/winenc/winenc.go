// Package winenc bridges between Go strings and the Windows-1252 byte
// strings GRF and THOR archives store file paths and integrity manifests in.
package winenc

import (
	"golang.org/x/text/encoding/charmap"

	"github.com/l1nkz/rpatchur/gruf"
)

// Decode strictly decodes a Windows-1252 byte string, failing if it contains
// a byte with no mapping in the target charset.
func Decode(b []byte) (string, error) {
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return "", gruf.ParsingError("decode windows-1252: %w", err)
	}
	return string(out), nil
}

// Encode strictly encodes s as Windows-1252, failing if s contains a
// character with no representation in the target charset.
func Encode(s string) ([]byte, error) {
	out, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, gruf.EncodingError("encode windows-1252: %w", err)
	}
	return out, nil
}

// EncodeCString encodes s as Windows-1252 and appends a NUL terminator, the
// convention GRF archives use for variable-length strings.
func EncodeCString(s string) ([]byte, error) {
	b, err := Encode(s)
	if err != nil {
		return nil, err
	}
	return append(b, 0), nil
}
