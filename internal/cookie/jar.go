package cookie

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gcsewala/authbridge/internal/hostenv"
)

// Jar is the cookie surface a page sees: a header to read and a way to
// apply Set-Cookie style writes.
type Jar interface {
	Header() string
	Write(c *http.Cookie)
}

type jarKey struct {
	name   string
	domain string
	path   string
}

type jarEntry struct {
	cookie http.Cookie
	seq    uint64
}

// DocumentJar is an in-memory, browser-like cookie jar for a single host.
// Writes to a foreign domain are ignored and expired cookies are hidden.
type DocumentJar struct {
	mu      sync.Mutex
	host    string
	now     func() time.Time
	entries map[jarKey]jarEntry
	seq     uint64
}

var _ Jar = (*DocumentJar)(nil)

// NewDocumentJar returns an empty jar for pages served from host.
func NewDocumentJar(host string, now func() time.Time) *DocumentJar {
	if now == nil {
		now = time.Now
	}
	return &DocumentJar{
		host:    strings.ToLower(host),
		now:     now,
		entries: make(map[jarKey]jarEntry),
	}
}

func (j *DocumentJar) Write(c *http.Cookie) {
	domain := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
	if domain != "" && !hostenv.MatchesDomain(j.host, domain) {
		return
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	key := jarKey{name: c.Name, domain: domain, path: path}

	j.mu.Lock()
	defer j.mu.Unlock()

	if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(j.now())) {
		delete(j.entries, key)
		return
	}

	stored := *c
	stored.Domain = domain
	stored.Path = path
	if prev, ok := j.entries[key]; ok {
		j.entries[key] = jarEntry{cookie: stored, seq: prev.seq}
		return
	}
	j.seq++
	j.entries[key] = jarEntry{cookie: stored, seq: j.seq}
}

func (j *DocumentJar) Header() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	visible := make([]jarEntry, 0, len(j.entries))
	for _, e := range j.entries {
		if !e.cookie.Expires.IsZero() && !e.cookie.Expires.After(now) {
			continue
		}
		visible = append(visible, e)
	}
	sort.Slice(visible, func(a, b int) bool { return visible[a].seq < visible[b].seq })

	parts := make([]string, len(visible))
	for i, e := range visible {
		parts[i] = e.cookie.Name + "=" + e.cookie.Value
	}
	return strings.Join(parts, "; ")
}

type persistedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain,omitempty"`
	Path    string    `json:"path"`
	Expires time.Time `json:"expires,omitempty"`
	Seq     uint64    `json:"seq"`
}

// Save writes the jar contents as JSON.
func (j *DocumentJar) Save(w io.Writer) error {
	j.mu.Lock()
	out := make([]persistedCookie, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, persistedCookie{
			Name:    e.cookie.Name,
			Value:   e.cookie.Value,
			Domain:  e.cookie.Domain,
			Path:    e.cookie.Path,
			Expires: e.cookie.Expires,
			Seq:     e.seq,
		})
	}
	j.mu.Unlock()

	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding cookie jar: %w", err)
	}
	return nil
}

// Load replaces the jar contents with JSON written by Save. Cookies that
// expired in the meantime are dropped.
func (j *DocumentJar) Load(r io.Reader) error {
	var in []persistedCookie
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return fmt.Errorf("decoding cookie jar: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = make(map[jarKey]jarEntry, len(in))
	j.seq = 0
	now := j.now()
	for _, p := range in {
		if !p.Expires.IsZero() && !p.Expires.After(now) {
			continue
		}
		j.entries[jarKey{name: p.Name, domain: p.Domain, path: p.Path}] = jarEntry{
			cookie: http.Cookie{Name: p.Name, Value: p.Value, Domain: p.Domain, Path: p.Path, Expires: p.Expires},
			seq:    p.Seq,
		}
		if p.Seq > j.seq {
			j.seq = p.Seq
		}
	}
	return nil
}

// HTTPJar adapts a server request/response pair: reads come from the
// request's Cookie header, writes become Set-Cookie headers and are
// reflected in later reads within the same request.
type HTTPJar struct {
	mu      sync.Mutex
	r       *http.Request
	w       http.ResponseWriter
	written map[string]*http.Cookie
}

var _ Jar = (*HTTPJar)(nil)

// NewHTTPJar binds a jar to one request.
func NewHTTPJar(w http.ResponseWriter, r *http.Request) *HTTPJar {
	return &HTTPJar{r: r, w: w, written: make(map[string]*http.Cookie)}
}

func (j *HTTPJar) Write(c *http.Cookie) {
	http.SetCookie(j.w, c)

	j.mu.Lock()
	defer j.mu.Unlock()
	if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(time.Now())) {
		j.written[c.Name] = nil
		return
	}
	stored := *c
	j.written[c.Name] = &stored
}

func (j *HTTPJar) Header() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	seen := make(map[string]bool, len(j.written))
	var parts []string
	for _, c := range j.r.Cookies() {
		if w, ok := j.written[c.Name]; ok {
			if !seen[c.Name] && w != nil {
				parts = append(parts, w.Name+"="+w.Value)
			}
			seen[c.Name] = true
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	names := make([]string, 0, len(j.written))
	for name := range j.written {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if w := j.written[name]; w != nil && !seen[name] {
			parts = append(parts, w.Name+"="+w.Value)
		}
	}
	return strings.Join(parts, "; ")
}
