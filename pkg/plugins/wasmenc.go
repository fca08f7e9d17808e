package plugins

import (
	"bytes"
	"fmt"
)

// wasmMagic is the binary preamble every module starts with: magic + version 1.
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

const customSectionID = 0x00

// appendUleb appends v in unsigned LEB128 encoding.
func appendUleb(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// readUleb decodes an unsigned LEB128 value and returns it with the number
// of bytes consumed.
func readUleb(src []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i, b := range src {
		if shift >= 64 {
			return 0, 0, fmt.Errorf("uleb128 value overflows 64 bits")
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("truncated uleb128 value")
}

// AppendCustomSection returns a copy of binary with a custom section of the
// given name and payload appended. Custom sections may appear anywhere after
// the preamble, so appending keeps the module valid.
func AppendCustomSection(wasm []byte, name string, payload []byte) ([]byte, error) {
	if !bytes.HasPrefix(wasm, wasmMagic) {
		return nil, fmt.Errorf("not a wasm module: bad preamble")
	}

	body := appendUleb(nil, uint64(len(name)))
	body = append(body, name...)
	body = append(body, payload...)

	out := make([]byte, 0, len(wasm)+len(body)+8)
	out = append(out, wasm...)
	out = append(out, customSectionID)
	out = appendUleb(out, uint64(len(body)))
	out = append(out, body...)
	return out, nil
}

// CustomSection returns the payload of the first custom section with the
// given name, or nil if the module carries none.
func CustomSection(wasm []byte, name string) []byte {
	if !bytes.HasPrefix(wasm, wasmMagic) {
		return nil
	}
	rest := wasm[len(wasmMagic):]
	for len(rest) > 0 {
		id := rest[0]
		size, n, err := readUleb(rest[1:])
		if err != nil {
			return nil
		}
		rest = rest[1+n:]
		if size > uint64(len(rest)) {
			return nil
		}
		section := rest[:size]
		rest = rest[size:]

		if id != customSectionID {
			continue
		}
		nameLen, n, err := readUleb(section)
		if err != nil || nameLen > uint64(len(section)-n) {
			return nil
		}
		if string(section[n:n+int(nameLen)]) == name {
			return section[n+int(nameLen):]
		}
	}
	return nil
}

// HasCustomSection reports whether the module carries a custom section with
// the given name.
func HasCustomSection(wasm []byte, name string) bool {
	return CustomSection(wasm, name) != nil
}
