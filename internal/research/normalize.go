package research

import (
	"net/url"
	"strings"
)

// trackingParams are query parameters that carry no identity information
// for the purposes of deduplication and are stripped during canonicalization.
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term",
	"fbclid", "gclid", "msclkid", "ref", "source", "mc_cid", "mc_eid",
}

// NormalizeURL canonicalizes a raw URL for deduplication and ranking:
// lowercases scheme/host, strips default ports, strips the fragment and
// tracking query parameters, collapses duplicate slashes, trims a trailing
// slash (unless the path is just "/"), and percent-decodes unreserved
// characters. Invalid URLs return ("", false).
func NormalizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Host = stripDefaultPort(u.Host, scheme)
	u.Fragment = ""

	q := u.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()

	path := collapseSlashes(u.Path)
	path = percentDecodeUnreserved(path)
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		path = "/"
	}
	u.Path = path

	return u.String(), true
}

func stripDefaultPort(host, scheme string) string {
	suffix := ""
	switch scheme {
	case "http":
		suffix = ":80"
	case "https":
		suffix = ":443"
	}
	if suffix != "" && strings.HasSuffix(host, suffix) {
		return strings.TrimSuffix(host, suffix)
	}
	return host
}

func collapseSlashes(path string) string {
	var b strings.Builder
	prevSlash := false
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// percentDecodeUnreserved decodes %XX sequences that encode RFC 3986
// unreserved characters (letters, digits, '-', '.', '_', '~'), leaving any
// other percent-encoding untouched so reserved/semantic characters aren't
// accidentally unescaped.
func percentDecodeUnreserved(path string) string {
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		if path[i] == '%' && i+2 < len(path) {
			if hi, ok := hexVal(path[i+1]); ok {
				if lo, ok := hexVal(path[i+2]); ok {
					c := byte(hi<<4 | lo)
					if isUnreserved(c) {
						b.WriteByte(c)
						i += 2
						continue
					}
				}
			}
		}
		b.WriteByte(path[i])
	}
	return b.String()
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}

// Hostname returns the lowercase host component of a normalized URL, or ""
// if the URL cannot be parsed.
func Hostname(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
