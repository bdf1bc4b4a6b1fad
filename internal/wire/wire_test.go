package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/swrcache/store"
)

func entry(key string, value []byte) store.Entry {
	created := time.UnixMilli(1_700_000_000_123)
	return store.Entry{
		Key:            key,
		Value:          value,
		CreatedAt:      created,
		TTL:            5 * time.Minute,
		ExpiresAt:      created.Add(5 * time.Minute),
		AccessCount:    3,
		LastAccessedAt: created.Add(time.Second),
		SizeBytes:      store.SizeOf(key, value),
	}
}

func mustDecode(t *testing.T, key string, b []byte) store.Entry {
	t.Helper()
	e, err := Decode(key, b)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return e
}

func TestJSONValueStoredVerbatim(t *testing.T) {
	in := entry("api:/devices", []byte(`{"devices":[1,2]}`))
	enc, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Contains(enc, []byte(`"value":{"devices":[1,2]}`)) || bytes.Contains(enc, []byte("encoding")) {
		t.Fatalf("JSON payload should be embedded as-is: %s", enc)
	}
	got := mustDecode(t, in.Key, enc)
	if !bytes.Equal(got.Value, in.Value) || !got.CreatedAt.Equal(in.CreatedAt) ||
		!got.ExpiresAt.Equal(in.ExpiresAt) || got.AccessCount != 3 || got.TTL != in.TTL {
		t.Fatalf("round trip mismatch: got=%+v want=%+v", got, in)
	}
}

func TestBinaryValueBase64(t *testing.T) {
	in := entry("bin", []byte{0xff, 0x00, 0x01})
	enc, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Contains(enc, []byte(`"encoding":"base64"`)) {
		t.Fatalf("binary payload should be flagged base64: %s", enc)
	}
	if got := mustDecode(t, in.Key, enc); !bytes.Equal(got.Value, in.Value) {
		t.Fatalf("payload mismatch: %x", got.Value)
	}
}

func TestDocumentFieldNames(t *testing.T) {
	enc, _ := Encode(entry("k", []byte(`1`)))
	var m map[string]any
	if err := json.Unmarshal(enc, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, f := range []string{"value", "createdAt", "ttl", "accessCount", "lastAccessedAt", "sizeBytes"} {
		if _, ok := m[f]; !ok {
			t.Fatalf("missing field %q in %s", f, enc)
		}
	}
}

func TestDecodeRejectsCorruptDocuments(t *testing.T) {
	good, _ := Encode(entry("k", []byte(`"x"`)))
	cases := map[string][]byte{
		"not json":      []byte("not-a-document"),
		"trailing":      append(append([]byte(nil), good...), []byte(` {}`)...),
		"unknown field": []byte(strings.Replace(string(good), `"ttl"`, `"bogus":1,"ttl"`, 1)),
		"size mismatch": []byte(strings.Replace(string(good), `"sizeBytes":4`, `"sizeBytes":99`, 1)),
		"no value":      []byte(`{"createdAt":1,"ttl":0,"accessCount":1,"lastAccessedAt":1,"sizeBytes":1}`),
		"zero accesses": []byte(strings.Replace(string(good), `"accessCount":3`, `"accessCount":0`, 1)),
		"bad encoding":  []byte(strings.Replace(string(good), `"value"`, `"encoding":"rot13","value"`, 1)),
	}
	for name, b := range cases {
		if _, err := Decode("k", b); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("%s: expected ErrCorrupt, got %v", name, err)
		}
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	in := entry("k", []byte(`true`))
	in.TTL, in.ExpiresAt = 0, time.Time{}
	enc, _ := Encode(in)
	got := mustDecode(t, "k", enc)
	if !got.ExpiresAt.IsZero() || got.Expired(time.Now().Add(1000*time.Hour)) {
		t.Fatalf("zero TTL should never expire: %+v", got)
	}
}
