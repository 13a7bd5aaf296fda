package pagination

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" {
		t.Fatalf("expected empty page token got %q", params.PageToken)
	}
	if !reflect.DeepEqual(params.Cursor, Cursor{}) {
		t.Fatalf("expected zero cursor, got %#v", params.Cursor)
	}
}

func TestParsePageSize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		opts Options
		want int
	}{
		{name: "explicit value", raw: "25", want: 25},
		{name: "caps at default max", raw: "5000", want: DefaultMaxPageSize},
		{name: "caps at custom max", raw: "80", opts: Options{MaxPageSize: 40}, want: 40},
		{name: "blank uses handler default", raw: "", opts: Options{DefaultPageSize: 20}, want: 20},
		{name: "handler default clamped to max", raw: "", opts: Options{DefaultPageSize: 60, MaxPageSize: 30}, want: 30},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			values := url.Values{}
			if tc.raw != "" {
				values.Set("page_size", tc.raw)
			}
			params, err := Parse(values, tc.opts)
			if err != nil {
				t.Fatalf("Parse returned error: %v", err)
			}
			if params.PageSize != tc.want {
				t.Fatalf("expected page size %d got %d", tc.want, params.PageSize)
			}
		})
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-5", "1.5"} {
		values := url.Values{"page_size": []string{raw}}
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("expected ErrInvalidPageSize for %q, got %v", raw, err)
		}
	}
}

func TestParsePageToken(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAfter: []any{"2026-03-01T00:00:00Z", "ord_01"}})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}

	values := url.Values{"page_token": []string{token}}
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageToken != token {
		t.Fatalf("expected token round-trip, got %q", params.PageToken)
	}
	if len(params.Cursor.StartAfter) != 2 {
		t.Fatalf("expected two cursor values, got %#v", params.Cursor.StartAfter)
	}
}

func TestParseInvalidPageToken(t *testing.T) {
	values := url.Values{"page_token": []string{"%%%not-base64%%%"}}
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/orders?page_size=15", nil)
	params, err := FromRequest(req, Options{DefaultPageSize: 20, MaxPageSize: 100})
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if params.PageSize != 15 {
		t.Fatalf("expected page size 15 got %d", params.PageSize)
	}

	if _, err := FromRequest(nil, Options{}); err == nil {
		t.Fatalf("expected error for nil request")
	}
}

func TestEncodeDecodeToken(t *testing.T) {
	cursor := Cursor{StartAfter: []any{"2026-01-15T09:30:00Z", "ord_42"}}
	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}

	decoded, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if len(decoded.StartAfter) != 2 || decoded.StartAfter[1] != "ord_42" {
		t.Fatalf("unexpected cursor: %#v", decoded)
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token for empty cursor, got %q", token)
	}
}

func TestDecodeTokenInvalid(t *testing.T) {
	if _, err := DecodeToken("!!!"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
	// Valid base64 carrying something that is not a cursor document.
	if _, err := DecodeToken("bm90LWpzb24"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for non-JSON payload, got %v", err)
	}
}
