package pagination

import (
	"errors"
	"testing"
)

func TestParsePageSizeDefaults(t *testing.T) {
	size, err := ParsePageSize("", 25, 100)
	if err != nil {
		t.Fatalf("ParsePageSize returned error: %v", err)
	}
	if size != 25 {
		t.Fatalf("expected default 25, got %d", size)
	}
}

func TestParsePageSizeClampsToMax(t *testing.T) {
	size, err := ParsePageSize("500", 25, 100)
	if err != nil {
		t.Fatalf("ParsePageSize returned error: %v", err)
	}
	if size != 100 {
		t.Fatalf("expected clamp to 100, got %d", size)
	}
}

func TestParsePageSizeRejectsInvalidValues(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3", "1.5"} {
		if _, err := ParsePageSize(raw, 25, 100); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("expected ErrInvalidPageSize for %q, got %v", raw, err)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	encoded, err := EncodeToken(Cursor{StartAfter: []any{"2024-06-01T10:00:00Z", "mov_1"}})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	if encoded == "" {
		t.Fatalf("expected non-empty token")
	}

	cursor, err := DecodeToken(encoded)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if len(cursor.StartAfter) != 2 || cursor.StartAfter[1] != "mov_1" {
		t.Fatalf("unexpected cursor: %#v", cursor)
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	encoded, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	if encoded != "" {
		t.Fatalf("expected empty token for empty cursor, got %q", encoded)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	if _, err := DecodeToken("!!!not-base64!!!"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}
