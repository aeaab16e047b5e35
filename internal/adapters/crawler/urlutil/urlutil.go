// Package urlutil нормализует ссылки постов для дедупликации.
package urlutil

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Canonicalize приводит URL к канонической форме: убирает фрагмент и
// трекинговые параметры utm_*. Непарсящийся URL возвращается как есть.
func Canonicalize(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	parsed.Fragment = ""

	query := parsed.Query()
	changed := false
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
			changed = true
		}
	}
	if changed || parsed.RawQuery != "" {
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

// Hash строит стабильный отпечаток канонического URL.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
