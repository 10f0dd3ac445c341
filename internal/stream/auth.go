package stream

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Authorizer remembers hosts the viewer allowed streaming from
type Authorizer interface {
	HostAuthorized(host string) bool
	RememberHost(host string)
}

// authHost returns the host requiring LAN authorization, or "" when none is
// needed. Unparsable URLs never require authorization.
func authHost(rawURL string, needAuth bool, backendHost string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	if needAuth {
		return u.Host
	}
	ip := net.ParseIP(u.Hostname())
	if ip == nil {
		return ""
	}
	if !(ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()) {
		return ""
	}
	if strings.EqualFold(u.Host, backendHost) {
		return ""
	}
	return u.Host
}

// cacheBust appends _auth=<unix-ms> so the retry bypasses cached failures
func cacheBust(rawURL string, now time.Time) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("_auth", strconv.FormatInt(now.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}
