package cookie

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gcsewala/authbridge/internal/envutil"
	"github.com/gcsewala/authbridge/internal/hostenv"
	"github.com/gcsewala/authbridge/internal/log"
)

// Cookie names shared with the WordPress host.
const (
	TokenCookie = "supabase_token"
	UserCookie  = "supabase_user"
)

// MirrorDays is the lifetime of the token and user mirrors.
const MirrorDays = 7

// ErrNotFound is returned when the named cookie is not visible.
var ErrNotFound = errors.New("cookie not found")

// UserInfo is the JSON payload of the user mirror cookie.
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Store reads and writes plain, domain-scoped cookies. It is a transport
// between origins, not a security boundary: values are neither signed nor
// encrypted.
type Store struct {
	jar    Jar
	domain string
	secure bool
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry computation.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a Store writing through jar with the domain policy of env.
func NewStore(jar Jar, env hostenv.Environment, opts ...Option) *Store {
	s := &Store{
		jar:    jar,
		domain: env.CookieDomain,
		secure: strings.HasPrefix(env.Origin, "https://") && !envutil.IsDev(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set writes name=value expiring days from now.
func (s *Store) Set(name, value string, days int) {
	expires := s.now().Add(time.Duration(days) * 24 * time.Hour).UTC()
	s.jar.Write(&http.Cookie{
		Name:     name,
		Value:    url.QueryEscape(value),
		Path:     "/",
		Domain:   s.domain,
		Expires:  expires,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	log.LogTraceWithFields("cookie", "Cookie set", map[string]any{
		"name":    name,
		"domain":  s.domain,
		"expires": expires.Format(time.RFC1123),
	})
}

// Get scans the visible cookie header for name and returns its decoded value.
func (s *Store) Get(name string) (string, error) {
	prefix := name + "="
	for _, part := range strings.Split(s.jar.Header(), ";") {
		c := strings.TrimLeft(part, " ")
		if !strings.HasPrefix(c, prefix) {
			continue
		}
		raw := c[len(prefix):]
		value, err := url.QueryUnescape(raw)
		if err != nil {
			return raw, nil
		}
		return value, nil
	}
	return "", ErrNotFound
}

// Delete expires name using the same domain and path it was written with.
func (s *Store) Delete(name string) {
	s.jar.Write(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   s.domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	log.LogTraceWithFields("cookie", "Cookie deleted", map[string]any{
		"name":   name,
		"domain": s.domain,
	})
}

// SetMirror writes the user mirror before the token mirror so a token is
// never visible without its user.
func (s *Store) SetMirror(token string, user UserInfo) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encoding user cookie: %w", err)
	}
	s.Set(UserCookie, string(payload), MirrorDays)
	s.Set(TokenCookie, token, MirrorDays)
	return nil
}

// ClearMirror removes the token mirror, then the user mirror.
func (s *Store) ClearMirror() {
	s.Delete(TokenCookie)
	s.Delete(UserCookie)
}

// Mirror returns the mirrored token and user, if both are present.
func (s *Store) Mirror() (string, UserInfo, error) {
	token, err := s.Get(TokenCookie)
	if err != nil {
		return "", UserInfo{}, err
	}
	raw, err := s.Get(UserCookie)
	if err != nil {
		return "", UserInfo{}, err
	}
	var user UserInfo
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return "", UserInfo{}, fmt.Errorf("decoding user cookie: %w", err)
	}
	return token, user, nil
}
