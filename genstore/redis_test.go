package genstore

import "testing"

func TestParseGen(t *testing.T) {
	cases := []struct {
		in   any
		want uint64
	}{
		{nil, 0},
		{"7", 7},
		{[]byte("12"), 12},
		{int64(3), 3},
	}
	for _, tc := range cases {
		got, err := parseGen(tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("parseGen(%v)=%d,%v want %d", tc.in, got, err, tc.want)
		}
	}
	if _, err := parseGen("nope"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRedisKeyNamespacing(t *testing.T) {
	s := NewRedisGenStore(nil, "swr")
	if got := s.key("api:/devices"); got != "gen:swr:api:/devices" {
		t.Fatalf("key=%q", got)
	}
}
