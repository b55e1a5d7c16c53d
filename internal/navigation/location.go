// Package navigation models the page location the session bridge runs on:
// reading the OAuth callback fragment, scrubbing it with a history
// replacement, and navigating to the dashboard.
package navigation

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gcsewala/authbridge/internal/log"
)

// Location is the subset of window.location/history the bridge relies on.
type Location interface {
	Href() string
	Hostname() string
	Origin() string
	// Fragment returns the raw fragment without the leading '#'.
	Fragment() string
	// StripFragment drops the fragment in place, without adding history.
	StripFragment()
	// Assign navigates to target, resolved against the current URL.
	Assign(target string) error
}

// URLLocation is an in-process Location with a history log. The fragment is
// kept verbatim, as a browser does, so a malformed escape in it does not make
// the page URL unparseable.
type URLLocation struct {
	mu       sync.Mutex
	current  *url.URL
	fragment string
	history  []string
}

var _ Location = (*URLLocation)(nil)

// NewURLLocation parses href as the initial page URL.
func NewURLLocation(href string) (*URLLocation, error) {
	u, fragment, err := parseHref(href)
	if err != nil {
		return nil, fmt.Errorf("parsing location: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("location must be absolute: %s", href)
	}
	l := &URLLocation{current: u, fragment: fragment}
	l.history = []string{l.hrefLocked()}
	return l, nil
}

func parseHref(href string) (*url.URL, string, error) {
	base, fragment, _ := strings.Cut(href, "#")
	u, err := url.Parse(base)
	if err != nil {
		return nil, "", err
	}
	return u, fragment, nil
}

func (l *URLLocation) hrefLocked() string {
	if l.fragment == "" {
		return l.current.String()
	}
	return l.current.String() + "#" + l.fragment
}

func (l *URLLocation) Href() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hrefLocked()
}

func (l *URLLocation) Hostname() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Hostname()
}

func (l *URLLocation) Origin() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Scheme + "://" + l.current.Host
}

func (l *URLLocation) Fragment() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fragment
}

// StripFragment replaces the current history entry with the same URL minus
// its fragment, so tokens carried in it do not linger in history.
func (l *URLLocation) StripFragment() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fragment = ""
	l.history[len(l.history)-1] = l.hrefLocked()
}

func (l *URLLocation) Assign(target string) error {
	ref, fragment, err := parseHref(target)
	if err != nil {
		return fmt.Errorf("parsing navigation target: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = l.current.ResolveReference(ref)
	l.fragment = fragment
	l.history = append(l.history, l.hrefLocked())
	return nil
}

// History returns every URL the location has held, oldest first.
func (l *URLLocation) History() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.history))
	copy(out, l.history)
	return out
}

// FragmentParams parses a fragment of the form "a=1&b=2". Malformed pairs
// are skipped; the rest are kept.
func FragmentParams(fragment string) url.Values {
	values, err := url.ParseQuery(fragment)
	if err != nil {
		log.LogDebugWithFields("navigation", "Skipped malformed fragment parameters", map[string]any{
			"error": err.Error(),
		})
	}
	return values
}

// HasAccessToken reports whether the fragment carries an OAuth access token.
func HasAccessToken(fragment string) bool {
	return FragmentParams(fragment).Get("access_token") != ""
}
