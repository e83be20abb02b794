// Package origin implements the Origin Validator from SPEC_FULL §4.9. It
// is grounded on the teacher's host-resolution helpers in
// transport/server/http/common/origin.go (stripPort, localhost detection)
// and on golang.org/x/net/publicsuffix, reused here the way the teacher's
// streamable/option.go CookieUseTopDomain does — resolving a host's eTLD+1
// so an allow-list entry can name a registrable domain and match every
// subdomain of it, not just one exact origin string.
package origin

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Config configures a Validator per spec.md §6: origin validation can be
// switched off entirely, or restricted to an explicit allow-list;
// otherwise only localhost and 127.0.0.1 are accepted. An allow-list entry
// is either a full origin ("https://app.example.com") matched exactly, or
// a bare registrable domain ("example.com") matched against every
// origin's eTLD+1, so one entry covers every subdomain.
type Config struct {
	Enabled        bool
	AllowedOrigins []string
}

// Validator checks an HTTP request's Origin header against the configured
// policy.
type Validator struct {
	enabled        bool
	allowed        map[string]struct{}
	allowedDomains map[string]struct{}
}

// NewValidator constructs a Validator from cfg.
func NewValidator(cfg Config) *Validator {
	v := &Validator{allowed: map[string]struct{}{}, allowedDomains: map[string]struct{}{}, enabled: cfg.Enabled}
	for _, o := range cfg.AllowedOrigins {
		if strings.Contains(o, "://") {
			v.allowed[strings.ToLower(o)] = struct{}{}
		} else {
			v.allowedDomains[strings.ToLower(o)] = struct{}{}
		}
	}
	return v
}

// Validate reports whether origin is acceptable. An empty origin (no header
// sent) is always accepted, since Origin is only present on cross-origin
// browser requests. When validation is disabled, every origin is accepted.
func (v *Validator) Validate(origin string) bool {
	if !v.enabled || origin == "" {
		return true
	}
	if len(v.allowed) > 0 || len(v.allowedDomains) > 0 {
		if _, ok := v.allowed[strings.ToLower(origin)]; ok {
			return true
		}
		if len(v.allowedDomains) > 0 {
			if domain := registrableDomain(origin); domain != "" {
				_, ok := v.allowedDomains[strings.ToLower(domain)]
				return ok
			}
		}
		return false
	}
	return isLocalOrigin(origin)
}

// isLocalOrigin reports whether origin is http(s)://localhost or
// http(s)://127.0.0.1, with or without a port, the default allow-list per
// spec.md §6.
func isLocalOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := stripPort(u.Host)
	return strings.EqualFold(host, "localhost") || host == "127.0.0.1"
}

func isLoopbackIP(h string) bool {
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func isLocalhost(h string) bool {
	h = strings.ToLower(h)
	return h == "localhost" || strings.HasSuffix(h, ".localhost")
}

func stripPort(h string) string {
	if i := strings.LastIndexByte(h, ':'); i > -1 && !strings.Contains(h[i+1:], "]") {
		return strings.Trim(h[:i], "[]")
	}
	return strings.Trim(h, "[]")
}

// registrableDomain returns the domain an allow-list entry should be
// compared against: TopDomain's eTLD+1 when origin's host has a
// subdomain, or the host itself when the host is already its own eTLD+1
// (TopDomain returns "" in that case, matching the teacher's
// leave-Domain-unset cookie semantics). Local/IP hosts yield "".
func registrableDomain(origin string) string {
	domain, err := TopDomain(origin)
	if err != nil {
		return ""
	}
	if domain != "" {
		return domain
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	host := stripPort(u.Host)
	if host == "" || isLocalhost(host) || isLoopbackIP(host) {
		return ""
	}
	return host
}

// TopDomain resolves the eTLD+1 for an allow-listed non-local origin, for
// deployments that want to allow-list a registrable domain rather than an
// exact origin string. Returns "" for localhost and loopback-IP hosts,
// matching the teacher's TopDomain behavior; other IP hosts are passed to
// publicsuffix like any other host.
func TopDomain(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	host := stripPort(u.Host)
	if host == "" || isLocalhost(host) || isLoopbackIP(host) {
		return "", nil
	}
	e, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", err
	}
	if e == host {
		return "", nil
	}
	return e, nil
}
