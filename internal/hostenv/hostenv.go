// Package hostenv resolves, once at startup, whether the client runs embedded
// in the production WordPress host or on a local/preview origin. Every
// redirect URL and cookie domain decision reads from the resolved value
// instead of sniffing the hostname again.
package hostenv

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gcsewala/authbridge/internal/urlutil"
)

// Defaults matching the production deployment.
const (
	DefaultProductionDomain = "gcseanki.co.uk"
	DefaultDashboardPath    = "/dashboard"
)

// HostConfig is the static description of the production host.
type HostConfig struct {
	ProductionDomain string
	DashboardURL     string // absolute dashboard URL on the production host
	DashboardPath    string // dashboard path on any other origin
}

// Environment is the resolved host environment.
type Environment struct {
	EmbeddedHost     bool
	Origin           string
	HostDashboardURL string
	DashboardPath    string
	CookieDomain     string
}

// Resolve derives the Environment for a page served from hostname/origin.
func Resolve(hostname, origin string, cfg HostConfig) (Environment, error) {
	domain := strings.ToLower(strings.TrimPrefix(cfg.ProductionDomain, "."))
	if domain == "" {
		domain = DefaultProductionDomain
	}
	dashboardPath := cfg.DashboardPath
	if dashboardPath == "" {
		dashboardPath = DefaultDashboardPath
	}
	if !strings.HasPrefix(dashboardPath, "/") {
		dashboardPath = "/" + dashboardPath
	}
	hostDashboard := cfg.DashboardURL
	if hostDashboard == "" {
		hostDashboard = "https://" + domain + dashboardPath
	}
	if _, err := url.Parse(hostDashboard); err != nil {
		return Environment{}, fmt.Errorf("invalid dashboard URL: %w", err)
	}

	env := Environment{
		EmbeddedHost:     MatchesDomain(hostname, domain),
		Origin:           strings.TrimSuffix(origin, "/"),
		HostDashboardURL: hostDashboard,
		DashboardPath:    dashboardPath,
	}
	if env.EmbeddedHost {
		env.CookieDomain = "." + domain
	}
	return env, nil
}

// MatchesDomain reports whether hostname is domain or one of its subdomains.
func MatchesDomain(hostname, domain string) bool {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	if hostname == "" || domain == "" {
		return false
	}
	return hostname == domain || strings.HasSuffix(hostname, "."+domain)
}

// RedirectURL is the URL handed to the upstream auth service for email
// confirmation, password reset and OAuth callbacks.
func (e Environment) RedirectURL() string {
	if e.EmbeddedHost {
		return e.HostDashboardURL
	}
	joined, err := urlutil.JoinPath(e.Origin, e.DashboardPath)
	if err != nil {
		return e.Origin + e.DashboardPath
	}
	return joined
}

// DashboardTarget is where a first-time sign-in navigates to: the absolute
// host dashboard when embedded, the relative dashboard path otherwise.
func (e Environment) DashboardTarget() string {
	if e.EmbeddedHost {
		return e.HostDashboardURL
	}
	return e.DashboardPath
}
