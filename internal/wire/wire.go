// Package wire is the layout of one persisted cache document:
//
//	{"value":…,"createdAt":ms,"ttl":ms,"accessCount":n,"lastAccessedAt":ms,"sizeBytes":n}
//
// value holds the payload verbatim when it is itself valid JSON; any other
// payload is base64 encoded and flagged with "encoding":"base64".
// Timestamps are Unix milliseconds, ttl is milliseconds (0 => no expiry).
package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/unkn0wn-root/swrcache/store"
)

const encBase64 = "base64"

var ErrCorrupt = errors.New("swrcache: corrupt document")

type document struct {
	Value          json.RawMessage `json:"value"`
	Encoding       string          `json:"encoding,omitempty"`
	CreatedAt      int64           `json:"createdAt"`
	TTL            int64           `json:"ttl"`
	AccessCount    int64           `json:"accessCount"`
	LastAccessedAt int64           `json:"lastAccessedAt"`
	SizeBytes      int64           `json:"sizeBytes"`
}

// Encode renders e as a persisted document.
func Encode(e store.Entry) ([]byte, error) {
	d := document{
		CreatedAt:      e.CreatedAt.UnixMilli(),
		TTL:            e.TTL.Milliseconds(),
		AccessCount:    e.AccessCount,
		LastAccessedAt: e.LastAccessedAt.UnixMilli(),
		SizeBytes:      e.SizeBytes,
	}
	if len(e.Value) > 0 && json.Valid(e.Value) {
		d.Value = e.Value
	} else {
		d.Encoding = encBase64
		d.Value = json.RawMessage(`"` + base64.StdEncoding.EncodeToString(e.Value) + `"`)
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %q: %w", e.Key, err)
	}
	return b, nil
}

// Decode parses a document stored under key. Unknown fields, trailing data and
// inconsistent metadata are reported as ErrCorrupt.
func Decode(key string, b []byte) (store.Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var d document
	if err := dec.Decode(&d); err != nil {
		return store.Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return store.Entry{}, fmt.Errorf("%w: trailing data", ErrCorrupt)
	}
	if len(d.Value) == 0 || d.TTL < 0 || d.AccessCount < 1 {
		return store.Entry{}, fmt.Errorf("%w: invalid metadata", ErrCorrupt)
	}

	var value []byte
	switch d.Encoding {
	case "":
		value = []byte(d.Value)
	case encBase64:
		var s string
		if err := json.Unmarshal(d.Value, &s); err != nil {
			return store.Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		v, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return store.Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		value = v
	default:
		return store.Entry{}, fmt.Errorf("%w: unknown encoding %q", ErrCorrupt, d.Encoding)
	}
	if got := store.SizeOf(key, value); got != d.SizeBytes {
		return store.Entry{}, fmt.Errorf("%w: size %d, document says %d", ErrCorrupt, got, d.SizeBytes)
	}

	created := time.UnixMilli(d.CreatedAt)
	ttl := time.Duration(d.TTL) * time.Millisecond
	e := store.Entry{
		Key:            key,
		Value:          value,
		CreatedAt:      created,
		TTL:            ttl,
		AccessCount:    d.AccessCount,
		LastAccessedAt: time.UnixMilli(d.LastAccessedAt),
		SizeBytes:      d.SizeBytes,
	}
	if ttl > 0 {
		e.ExpiresAt = created.Add(ttl)
	}
	return e, nil
}
