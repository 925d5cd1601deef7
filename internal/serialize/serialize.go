// Package serialize implements canonical and fast envelope serialization
// (C13): canonical JSON with sorted keys and compact separators for the
// tamper subsystem, and a fast zero-copy-oriented JSON encoder for the
// sink write path.
//
// Grounded on original_source's core/serialization.py
// (serialize_mapping_to_json_bytes, SerializedView) for the fast path's
// shape, and fapilog_tamper/canonical.py for the canonical path's exact
// semantics (sorted keys, compact separators, excludes "integrity").
package serialize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/joeycumines/chainlog/internal/sink"
)

// Canonical produces deterministic JSON bytes for v: sorted keys, compact
// separators (no spaces), UTF-8, and (matching the tamper subsystem's
// canonicalize) excludes any pre-existing "integrity" key.
func Canonical(v map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(v))
	for k := range v {
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
		buf.Write(appendJSONString(nil, k))
		buf.WriteByte(':')
		if err := encodeValue(&buf, v[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FastSerializer adapts Fast to the pipeline package's Serializer
// interface.
type FastSerializer struct{}

func (FastSerializer) Serialize(e sink.Event) (sink.SerializedView, error) { return Fast(e) }

// Fast serializes a sink.Event to a SerializedView, optimized to avoid
// an intermediate string allocation; unlike Canonical, it writes the fixed
// envelope fields first in a fixed order, then the metadata keys sorted,
// and includes every field (an "integrity" metadata key too).
func Fast(e sink.Event) (sink.SerializedView, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"timestamp":`)
	fmt.Fprintf(&buf, "%g", e.Timestamp)
	buf.WriteString(`,"level":`)
	buf.Write(appendJSONString(nil, e.Level))
	buf.WriteString(`,"message":`)
	buf.Write(appendJSONString(nil, e.Message))
	buf.WriteString(`,"logger":`)
	buf.Write(appendJSONString(nil, e.Logger))
	buf.WriteString(`,"correlation_id":`)
	buf.Write(appendJSONString(nil, e.CorrelationID))

	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf.WriteByte(',')
			buf.Write(appendJSONString(nil, k))
			buf.WriteByte(':')
			if err := encodeValue(&buf, e.Metadata[k]); err != nil {
				return sink.SerializedView{}, err
			}
		}
	}
	buf.WriteByte('}')
	return sink.SerializedView{Data: buf.Bytes()}, nil
}

// encodeValue writes v's JSON encoding to buf, using the fast string path
// for string values and falling back to encoding/json for everything
// else (numbers, bools, nested maps/slices, nil).
func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case string:
		buf.Write(appendJSONString(nil, val))
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	default:
		enc, err := marshalNoEscape(val)
		if err != nil {
			return err
		}
		buf.Write(enc)
		return nil
	}
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
