package tamper

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"sort"
)

// Canonicalize produces deterministic JSON bytes for event: sorted keys,
// compact separators, UTF-8, excluding any pre-existing "integrity" field.
// Grounded on canonical.py's canonicalize.
func Canonicalize(event map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(event))
	for k := range event {
		if k == "integrity" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := marshalCompactNoEscape(event[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalCompactNoEscape marshals v without HTML-escaping (matching
// json.dumps's ensure_ascii=False / non-HTML-escaped output).
func marshalCompactNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; trim it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// B64URLEncode encodes data using RFC 4648 base64url without padding.
func B64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// B64URLDecode decodes an RFC 4648 base64url string, tolerating absent
// padding.
func B64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
