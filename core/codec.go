package core

// codec.go implements the canonical byte form used for content addressing
// and signing (identity documents, signed-refs manifests) plus the binary
// wire-framing flavor used for request/response exchange.

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/vmihailenco/msgpack/v4"
)

// CanonicalEncode produces the deterministic JSON byte form required for
// content addressing and signing: object members sorted by raw key bytes,
// no insignificant whitespace, control characters escaped as \uXXXX in
// lowercase hex, integers only (fractional or non-finite numbers fail),
// and null values preserved rather than dropped.
func CanonicalEncode(v interface{}) ([]byte, error) {
	generic, err := toCanonicalValue(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toCanonicalValue round-trips v through encoding/json to obtain a generic
// tree (map[string]interface{}, []interface{}, string, json.Number, bool, nil)
// that writeCanonical can walk deterministically.
func toCanonicalValue(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, Fail(KindMalformed, "codec.encode", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, Fail(KindMalformed, "codec.encode", err)
	}
	return generic, nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return writeCanonicalNumber(buf, t)
	case string:
		writeCanonicalString(buf, t)
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return Fail(KindMalformed, "codec.encode", fmt.Errorf("unsupported value type %T", v))
	}
}

func writeCanonicalNumber(buf *bytes.Buffer, n json.Number) error {
	f, err := n.Float64()
	if err != nil {
		return Fail(KindMalformed, "codec.encode", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Fail(KindMalformed, "codec.encode", fmt.Errorf("non-finite number"))
	}
	i, err := n.Int64()
	if err != nil {
		return Fail(KindMalformed, "codec.encode", fmt.Errorf("fractional number not permitted: %s", n.String()))
	}
	fmt.Fprintf(buf, "%d", i)
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(buf, `\u%04x`, r)
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}

// CanonicalDecode parses canonical JSON into v (a pointer), rejecting
// malformed input and unknown fields with *Malformed*. Duplicate object
// keys are not detected: the last occurrence wins.
func CanonicalDecode(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return Fail(KindMalformed, "codec.decode", err)
	}
	return nil
}

// --- binary wire framing -----------------------------------------------
//
// Wire-level request/response framing wants length-prefixed, deterministically
// ordered binary records. vmihailenco/msgpack carries this (the same role it
// plays for make-os-kit's signed push-note records); maps are re-sorted by
// key before encoding so the byte form stays deterministic.

// EncodeFrame canonically encodes v to deterministic JSON (so key order
// never varies across peers), wraps the result as a msgpack binary blob,
// and prefixes it with a big-endian uint32 length. Determinism comes from
// the canonical-JSON step; msgpack only supplies the compact binary
// envelope the wire protocol expects.
func EncodeFrame(v interface{}) ([]byte, error) {
	canon, err := CanonicalEncode(v)
	if err != nil {
		return nil, err
	}
	body, err := msgpack.Marshal(canon)
	if err != nil {
		return nil, Fail(KindMalformed, "codec.encodeFrame", err)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// DecodeFrame reads one length-prefixed msgpack frame from data, decodes
// the enclosed canonical-JSON blob into v, and returns the number of bytes
// consumed from data.
func DecodeFrame(data []byte, v interface{}) (int, error) {
	if len(data) < 4 {
		return 0, Fail(KindMalformed, "codec.decodeFrame", fmt.Errorf("short frame header"))
	}
	n := int(binary.BigEndian.Uint32(data[:4]))
	if len(data) < 4+n {
		return 0, Fail(KindMalformed, "codec.decodeFrame", fmt.Errorf("short frame body"))
	}
	var canon []byte
	if err := msgpack.Unmarshal(data[4:4+n], &canon); err != nil {
		return 0, Fail(KindMalformed, "codec.decodeFrame", err)
	}
	if err := CanonicalDecode(canon, v); err != nil {
		return 0, err
	}
	return 4 + n, nil
}
