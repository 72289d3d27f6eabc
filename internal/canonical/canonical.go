// Package canonical reduces raw URLs to the identity key used for deduplication.
package canonical

import (
	"net/url"
	"strings"
)

var trackingParams = map[string]struct{}{
	"fbclid":      {},
	"gclid":       {},
	"dclid":       {},
	"msclkid":     {},
	"mc_cid":      {},
	"mc_eid":      {},
	"ref":         {},
	"source":      {},
	"campaign_id": {},
	"_hsenc":      {},
	"_hsmi":       {},
}

// Canonicalize lower-cases scheme and host, drops tracking parameters and
// fragments and strips trailing slashes. It never fails: input that cannot be
// parsed is normalized on a best-effort basis. Scheme-less input that starts
// with a host is normalized the same way and returned without a scheme.
func Canonicalize(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return fallback(raw)
	}
	if u.Opaque == "" && u.Scheme != "" && u.Host != "" {
		return normalize(u).String()
	}
	if u.Scheme == "" && startsWithHost(raw) {
		if withScheme, err := url.Parse("https://" + raw); err == nil && withScheme.Host != "" {
			return strings.TrimPrefix(normalize(withScheme).String(), "https://")
		}
	}
	return fallback(raw)
}

func normalize(u *url.URL) *url.URL {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = stripTracking(u.RawQuery)
	u.ForceQuery = false

	escaped := strings.TrimRight(u.EscapedPath(), "/")
	switch path, err := url.PathUnescape(escaped); {
	case escaped == "":
		u.Path, u.RawPath = "/", ""
	case err == nil:
		u.Path, u.RawPath = path, escaped
	default:
		u.Path, u.RawPath = strings.TrimRight(u.Path, "/"), ""
	}
	return u
}

// startsWithHost reports whether the first path segment of a scheme-less
// reference looks like a dotted host name.
func startsWithHost(raw string) bool {
	if raw == "" || strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, ".") {
		return false
	}
	head := raw
	if i := strings.IndexAny(head, "/?#"); i >= 0 {
		head = head[:i]
	}
	return strings.Contains(head, ".") && !strings.HasSuffix(head, ".")
}

// Domain returns the lower-cased host of raw without its port, or "".
func Domain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	kept := make([]string, 0, 4)
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key, _, _ := strings.Cut(part, "=")
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if isTracking(key) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

func isTracking(key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	_, ok := trackingParams[key]
	return ok
}

func fallback(raw string) string {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	trimmed := strings.TrimRight(raw, "/")
	if trimmed == "" && raw != "" {
		return "/"
	}
	return trimmed
}
