// internal/models/object.go
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
)

var errNotObject = errors.New("record must be a JSON object")

// splitObject decodes a JSON object into its raw members.
func splitObject(data []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	return fields, nil
}

// objectWriter assembles a JSON object with a caller-controlled key order.
type objectWriter struct {
	buf  bytes.Buffer
	seen map[string]bool
	err  error
}

func newObjectWriter() *objectWriter {
	ow := &objectWriter{seen: make(map[string]bool)}
	ow.buf.WriteByte('{')
	return ow
}

func (ow *objectWriter) field(key string, value interface{}) {
	if ow.err != nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		ow.err = err
		return
	}
	ow.raw(key, data)
}

func (ow *objectWriter) raw(key string, value json.RawMessage) {
	if ow.err != nil || ow.seen[key] {
		return
	}
	keyData, err := json.Marshal(key)
	if err != nil {
		ow.err = err
		return
	}
	if len(ow.seen) > 0 {
		ow.buf.WriteByte(',')
	}
	ow.seen[key] = true
	ow.buf.Write(keyData)
	ow.buf.WriteByte(':')
	ow.buf.Write(value)
}

// extras appends preserved fields in key order.
func (ow *objectWriter) extras(extra map[string]json.RawMessage) {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ow.raw(k, extra[k])
	}
}

func (ow *objectWriter) bytes() ([]byte, error) {
	if ow.err != nil {
		return nil, ow.err
	}
	ow.buf.WriteByte('}')
	return ow.buf.Bytes(), nil
}
