package common

import (
	"net"
	"net/http"
	"net/netip"
)

// ClientIP returns the address of the caller as seen in r.RemoteAddr. Behind a
// proxy, chi's middleware.RealIP must run first to move X-Forwarded-For or
// X-Real-IP into RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().WithZone("").String()
	}
	return host
}
