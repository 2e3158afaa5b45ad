// Package codec builds and parses the index keys of the triple store.
//
// A key is the lowercase index tag followed by the encoded fields in that
// index's order, every component terminated by Delimiter:
//
//	spo 00 <subject> 00 <predicate> 00 <object> 00
//
// An encoded field is a one byte type tag followed by its payload. String
// payloads are escaped so they never contain Delimiter; numbers and booleans
// use a fixed-width hex form that cannot contain reserved bytes and is left
// unescaped. Delimiter is the smallest byte value, so comparing two keys
// byte-wise compares the tuples of their encoded fields, and Sentinel (0xFF)
// never appears in valid UTF-8, so [prefix, prefix+Sentinel) holds exactly the
// keys that start with prefix.
package codec

import (
	"bytes"
	"encoding/hex"
	"math"
	"unicode/utf8"

	"github.com/wbrown/janus-triples/triples"
	terr "github.com/wbrown/janus-triples/triples/errors"
)

const (
	Delimiter byte = 0x00
	Escape    byte = 0x01
	Sentinel  byte = 0xFF
)

// EncodeField returns the encoded (escaped) form of a single value.
func EncodeField(v triples.Value) ([]byte, error) {
	return AppendField(nil, v)
}

// AppendField appends the encoded form of v to dst.
func AppendField(dst []byte, v triples.Value) ([]byte, error) {
	switch val := v.(type) {
	case string:
		if !utf8.ValidString(val) {
			return nil, terr.New(terr.CodeCodecFieldInvalid,
				"string field is not valid UTF-8 or contains the sentinel byte",
				terr.Field("value", val))
		}
		dst = append(dst, byte(triples.TypeString))
		return appendEscaped(dst, val), nil
	case int64:
		dst = append(dst, byte(triples.TypeInt))
		return appendHex64(dst, uint64(val)^(1<<63)), nil
	case float64:
		if math.IsNaN(val) {
			return nil, terr.New(terr.CodeCodecFieldInvalid, "NaN cannot be encoded")
		}
		dst = append(dst, byte(triples.TypeFloat))
		return appendHex64(dst, orderedFloatBits(val)), nil
	case bool:
		dst = append(dst, byte(triples.TypeBool))
		if val {
			return append(dst, '1'), nil
		}
		return append(dst, '0'), nil
	case nil:
		return nil, terr.New(terr.CodeCodecFieldInvalid, "cannot encode an absent field")
	default:
		return nil, terr.Errorf(terr.CodeCodecFieldInvalid, "unsupported field type %T", v)
	}
}

// DecodeField decodes a single encoded field (without its delimiter).
func DecodeField(b []byte) (triples.Value, error) {
	if len(b) == 0 {
		return nil, terr.New(terr.CodeCodecFieldInvalid, "empty encoded field")
	}
	payload := b[1:]
	switch triples.ValueType(b[0]) {
	case triples.TypeString:
		return unescape(payload)
	case triples.TypeInt:
		u, err := parseHex64(payload)
		if err != nil {
			return nil, err
		}
		return int64(u ^ (1 << 63)), nil
	case triples.TypeFloat:
		u, err := parseHex64(payload)
		if err != nil {
			return nil, err
		}
		return floatFromOrderedBits(u), nil
	case triples.TypeBool:
		if len(payload) != 1 || (payload[0] != '0' && payload[0] != '1') {
			return nil, terr.Errorf(terr.CodeCodecFieldInvalid, "bad bool payload %q", payload)
		}
		return payload[0] == '1', nil
	default:
		return nil, terr.Errorf(terr.CodeCodecFieldInvalid, "unknown field type tag 0x%02x", b[0])
	}
}

// BuildKey builds the key of t under idx. Fields are taken in the index's
// order up to the first absent (nil) field, so a partially bound triple
// yields a scan prefix.
func BuildKey(idx triples.Index, t triples.Triple) ([]byte, error) {
	if !idx.Valid() {
		return nil, terr.Errorf(terr.CodeQueryPatternInvalid, "unknown index %d", uint8(idx))
	}
	key := make([]byte, 0, 48)
	key = append(key, idx.Tag()...)
	key = append(key, Delimiter)
	for _, f := range idx.Fields() {
		v := t.Get(f)
		if v == nil {
			break
		}
		var err error
		key, err = AppendField(key, v)
		if err != nil {
			return nil, terr.Wrapf(err, terr.CodeCodecFieldInvalid, "%s", f)
		}
		key = append(key, Delimiter)
	}
	return key, nil
}

// BuildAllKeys returns the six index keys of a complete triple, in
// triples.Indexes order.
func BuildAllKeys(t triples.Triple) ([6][]byte, error) {
	var keys [6][]byte
	if !t.Complete() {
		return keys, terr.New(terr.CodeCodecFieldInvalid, "triple has absent fields",
			terr.Field("triple", t.String()))
	}
	for i, idx := range triples.Indexes {
		k, err := BuildKey(idx, t)
		if err != nil {
			return keys, err
		}
		keys[i] = k
	}
	return keys, nil
}

// DecodeKey splits a key back into its index and fields. Fields missing from
// a prefix key are nil in the returned triple.
func DecodeKey(key []byte) (triples.Index, triples.Triple, error) {
	var t triples.Triple
	tagEnd := bytes.IndexByte(key, Delimiter)
	if tagEnd < 0 {
		return 0, t, terr.New(terr.CodeCodecFieldInvalid, "key has no index tag")
	}
	idx, err := triples.ParseIndex(string(key[:tagEnd]))
	if err != nil {
		return 0, t, terr.Wrap(err, terr.CodeCodecFieldInvalid, "bad index tag")
	}
	fields, err := splitFields(key[tagEnd+1:])
	if err != nil {
		return 0, t, err
	}
	if len(fields) > 3 {
		return 0, t, terr.Errorf(terr.CodeCodecFieldInvalid, "key has %d fields", len(fields))
	}
	order := idx.Fields()
	for i, raw := range fields {
		v, err := DecodeField(raw)
		if err != nil {
			return 0, t, err
		}
		t = t.With(order[i], v)
	}
	return idx, t, nil
}

// EncodeTriple serializes a complete triple as the stored value of its index
// entries: the three fields in subject, predicate, object order.
func EncodeTriple(t triples.Triple) ([]byte, error) {
	if !t.Complete() {
		return nil, terr.New(terr.CodeCodecFieldInvalid, "triple has absent fields",
			terr.Field("triple", t.String()))
	}
	buf := make([]byte, 0, 32)
	for _, f := range triples.Fields {
		var err error
		buf, err = AppendField(buf, t.Get(f))
		if err != nil {
			return nil, err
		}
		buf = append(buf, Delimiter)
	}
	return buf, nil
}

// DecodeTriple parses a stored value produced by EncodeTriple.
func DecodeTriple(b []byte) (triples.Triple, error) {
	var t triples.Triple
	fields, err := splitFields(b)
	if err != nil {
		return t, err
	}
	if len(fields) != 3 {
		return t, terr.Errorf(terr.CodeCodecFieldInvalid, "stored triple has %d fields", len(fields))
	}
	for i, raw := range fields {
		v, err := DecodeField(raw)
		if err != nil {
			return t, err
		}
		t = t.With(triples.Fields[i], v)
	}
	return t, nil
}

// PrefixRange returns the [start, end) range of every key beginning with
// prefix.
func PrefixRange(prefix []byte) (start, end []byte) {
	start = append([]byte(nil), prefix...)
	end = make([]byte, len(prefix)+1)
	copy(end, prefix)
	end[len(prefix)] = Sentinel
	return start, end
}

// splitFields cuts delimiter-terminated fields. Escaped content never
// contains Delimiter, so every Delimiter ends a field.
func splitFields(b []byte) ([][]byte, error) {
	var fields [][]byte
	for len(b) > 0 {
		i := bytes.IndexByte(b, Delimiter)
		if i < 0 {
			return nil, terr.New(terr.CodeCodecFieldInvalid, "unterminated field")
		}
		fields = append(fields, b[:i])
		b = b[i+1:]
	}
	return fields, nil
}

func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case Delimiter:
			dst = append(dst, Escape, 0x01)
		case Escape:
			dst = append(dst, Escape, 0x02)
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

func unescape(b []byte) (string, error) {
	if bytes.IndexByte(b, Escape) < 0 {
		return string(b), nil
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != Escape {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			return "", terr.New(terr.CodeCodecFieldInvalid, "dangling escape byte")
		}
		i++
		switch b[i] {
		case 0x01:
			out = append(out, Delimiter)
		case 0x02:
			out = append(out, Escape)
		default:
			return "", terr.Errorf(terr.CodeCodecFieldInvalid, "bad escape sequence 0x01 0x%02x", b[i])
		}
	}
	return string(out), nil
}

func appendHex64(dst []byte, u uint64) []byte {
	var raw [8]byte
	for i := 7; i >= 0; i-- {
		raw[i] = byte(u)
		u >>= 8
	}
	n := len(dst)
	dst = append(dst, make([]byte, 16)...)
	hex.Encode(dst[n:], raw[:])
	return dst
}

func parseHex64(b []byte) (uint64, error) {
	if len(b) != 16 {
		return 0, terr.Errorf(terr.CodeCodecFieldInvalid, "numeric payload has %d bytes, want 16", len(b))
	}
	var raw [8]byte
	if _, err := hex.Decode(raw[:], b); err != nil {
		return 0, terr.Wrap(err, terr.CodeCodecFieldInvalid, "bad numeric payload")
	}
	var u uint64
	for _, c := range raw {
		u = u<<8 | uint64(c)
	}
	return u, nil
}

// orderedFloatBits maps a float to bits whose unsigned order matches the
// numeric order.
func orderedFloatBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		return bits ^ (1 << 63)
	}
	return ^bits
}

func floatFromOrderedBits(u uint64) float64 {
	if u&(1<<63) != 0 {
		return math.Float64frombits(u ^ (1 << 63))
	}
	return math.Float64frombits(^u)
}
