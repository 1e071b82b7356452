package codegen

import (
	"errors"
	"strings"
	"testing"
)

func TestRandomCode_LengthAndAlphabet(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := RandomCode()
		if err != nil {
			t.Fatalf("RandomCode returned error: %v", err)
		}
		if len(code) != CodeLength {
			t.Fatalf("expected %d characters, got %q", CodeLength, code)
		}
		if !ValidCode(code) {
			t.Fatalf("code %q contains characters outside the alphabet", code)
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Fatal("expected distinct codes across draws")
	}
}

func TestValidCode(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"ABCDE", true},
		{"a1B2c", true},
		{"abcd", false},
		{"abcdef", false},
		{"ab-de", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidCode(tc.code); got != tc.want {
			t.Errorf("ValidCode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestNormalizeURL_Canonical(t *testing.T) {
	got, err := NormalizeURL("  https://EX.com/a?x=1#frag ")
	if err != nil {
		t.Fatalf("NormalizeURL returned error: %v", err)
	}
	if got != "https://ex.com/a?x=1" {
		t.Fatalf("unexpected canonical form: %q", got)
	}

	again, err := NormalizeURL(got)
	if err != nil {
		t.Fatalf("re-normalization returned error: %v", err)
	}
	if again != got {
		t.Fatalf("normalization is not idempotent: %q -> %q", got, again)
	}
}

func TestNormalizeURL_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", "   "},
		{"too long", "https://ex.com/" + strings.Repeat("a", 2048)},
		{"crlf", "https://ex.com/a\r\nSet-Cookie: x"},
		{"bad scheme", "ftp://ex.com/file"},
		{"no host", "https:///path"},
		{"unparseable", "http://ex .com/%zz"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NormalizeURL(tc.raw); !errors.Is(err, ErrInvalidURL) {
				t.Fatalf("expected ErrInvalidURL, got %v", err)
			}
		})
	}
}
