// Package codegen produces short codes and canonicalizes target URLs.
package codegen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
)

const (
	alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	CodeLength = 5

	maxURLLength = 2048
)

// ErrInvalidURL signals that the submitted URL failed normalization.
var ErrInvalidURL = errors.New("invalid url")

// RandomCode returns a CodeLength-character code drawn uniformly from the
// 62-symbol alphabet. Codes double as access tokens in some deployments,
// so the source must be crypto/rand.
func RandomCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)
	size := big.NewInt(int64(len(alphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("codegen: read random: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// ValidCode reports whether code has the exact length and alphabet of a
// generated short code.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' {
			continue
		}
		return false
	}
	return true
}

// NormalizeURL canonicalizes a raw target URL. The fragment is dropped and
// the result is rebuilt from scheme/userinfo/host/port/path/query, so
// normalizing an already-normalized URL is a no-op.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: url is empty", ErrInvalidURL)
	}
	if len(trimmed) > maxURLLength {
		return "", fmt.Errorf("%w: url exceeds %d characters", ErrInvalidURL, maxURLLength)
	}
	// CR/LF would allow response-header injection through the Location header.
	if strings.ContainsAny(trimmed, "\r\n") {
		return "", fmt.Errorf("%w: url contains control characters", ErrInvalidURL)
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: url has no host", ErrInvalidURL)
	}

	canonical := url.URL{
		Scheme:   scheme,
		User:     parsed.User,
		Host:     strings.ToLower(parsed.Host),
		Path:     parsed.Path,
		RawQuery: parsed.RawQuery,
	}
	return canonical.String(), nil
}
