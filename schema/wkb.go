package schema

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WKB geometry type codes, ISO and EWKB flavours.
const (
	wkbPoint              = 1
	wkbGeometryCollection = 7
	ewkbZ                 = 0x80000000
	ewkbM                 = 0x40000000
	ewkbSRID              = 0x20000000
)

// ValidateWKB checks that b begins with a well-formed WKB header: a byte
// order marker followed by a known geometry type code. The payload body is
// not parsed.
func ValidateWKB(b []byte) error {
	if len(b) < 5 {
		return errors.New("wkb: payload shorter than header")
	}
	var order binary.ByteOrder
	switch b[0] {
	case 0:
		order = binary.BigEndian
	case 1:
		order = binary.LittleEndian
	default:
		return fmt.Errorf("wkb: invalid byte order %d", b[0])
	}
	code := order.Uint32(b[1:5])
	hasSRID := code&ewkbSRID != 0
	code &^= ewkbZ | ewkbM | ewkbSRID
	// ISO Z/M/ZM variants add 1000/2000/3000.
	base := code % 1000
	if code >= 4000 || base < wkbPoint || base > wkbGeometryCollection {
		return fmt.Errorf("wkb: unknown geometry type %d", code)
	}
	if hasSRID && len(b) < 9 {
		return errors.New("wkb: truncated srid")
	}
	return nil
}
