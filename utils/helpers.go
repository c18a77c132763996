package utils

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

const (
	DirectAccessLabel = "Acesso Direto / Navegação Interna"
	referrerPrefix    = "Veio de: "
)

// IsValidInterval reports whether interval names a supported stats bucket.
func IsValidInterval(interval string) bool {
	switch interval {
	case "Minute", "Hour", "Day", "Week", "Month", "Quarter", "Year":
		return true
	default:
		return false
	}
}

// ClientIP returns the first X-Forwarded-For entry when present, else the
// peer address of the connection.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ReferrerLabel describes where a click came from. Empty referrers and the
// site's own pages count as direct access.
func ReferrerLabel(referer, hostURL string) string {
	if referer == "" {
		return DirectAccessLabel
	}
	if host, err := url.Parse(hostURL); err == nil && host.Host != "" {
		if ref, err := url.Parse(referer); err == nil && strings.EqualFold(ref.Host, host.Host) {
			return DirectAccessLabel
		}
	}
	return referrerPrefix + referer
}

// DefaultString returns s trimmed, or def when s is blank.
func DefaultString(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
