// Package gotrue implements the upstream auth contract against a GoTrue
// (Supabase Auth) REST API.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gcsewala/authbridge/internal/log"
	"github.com/gcsewala/authbridge/internal/navigation"
	"github.com/gcsewala/authbridge/internal/upstream"
	"github.com/gcsewala/authbridge/internal/urlutil"
	"golang.org/x/oauth2"
)

const authPrefix = "/auth/v1"

// Options configure a Client.
type Options struct {
	// URL is the project URL, e.g. https://abc.supabase.co.
	URL     string
	AnonKey string

	HTTPClient *http.Client
	// Storage persists the session across runs. Optional.
	Storage SessionStorage
	// Location is consulted for an OAuth callback fragment on GetSession
	// and navigated by SignInWithOAuth. Optional.
	Location navigation.Location
	Now      func() time.Time
}

// Client talks to GoTrue and owns the single current session.
type Client struct {
	baseURL  string
	anonKey  string
	hc       *http.Client
	storage  SessionStorage
	location navigation.Location
	now      func() time.Time

	mu              sync.Mutex
	session         *upstream.Session
	fragmentChecked bool
	listeners       map[int]upstream.StateChangeFunc
	nextListener    int
}

var _ upstream.Client = (*Client)(nil)

// New builds a client and restores any persisted session.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("upstream url is required")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	c := &Client{
		baseURL:   opts.URL,
		anonKey:   opts.AnonKey,
		hc:        opts.HTTPClient,
		storage:   opts.Storage,
		location:  opts.Location,
		now:       opts.Now,
		listeners: make(map[int]upstream.StateChangeFunc),
	}
	if c.hc == nil {
		c.hc = http.DefaultClient
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.storage != nil {
		session, err := c.storage.Load()
		if err != nil {
			log.LogWarnWithFields("gotrue", "Ignoring unreadable stored session", map[string]any{
				"error": err.Error(),
			})
		}
		c.session = session
	}
	return c, nil
}

type subscription struct {
	c  *Client
	id int
}

func (s *subscription) Unsubscribe() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	delete(s.c.listeners, s.id)
}

// OnAuthStateChange registers fn and immediately delivers INITIAL_SESSION
// with the session currently held.
func (c *Client) OnAuthStateChange(fn upstream.StateChangeFunc) upstream.Subscription {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	current := c.session
	c.mu.Unlock()

	fn(upstream.EventInitialSession, current)
	return &subscription{c: c, id: id}
}

func (c *Client) emit(event upstream.Event, session *upstream.Session) {
	c.mu.Lock()
	fns := make([]upstream.StateChangeFunc, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	log.LogDebugWithFields("gotrue", "Auth state changed", map[string]any{
		"event":     string(event),
		"listeners": len(fns),
	})
	for _, fn := range fns {
		fn(event, session)
	}
}

// setSession replaces the held session, persists it and notifies listeners.
func (c *Client) setSession(event upstream.Event, session *upstream.Session) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	if c.storage != nil {
		var err error
		if session == nil {
			err = c.storage.Clear()
		} else {
			err = c.storage.Save(session)
		}
		if err != nil {
			log.LogWarnWithFields("gotrue", "Failed to persist session", map[string]any{
				"error": err.Error(),
			})
		}
	}
	c.emit(event, session)
}

func (c *Client) current() *upstream.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// GetSession returns the current session. The first call consumes an OAuth
// callback fragment if the location carries one; an expired session is
// refreshed when a refresh token is available.
func (c *Client) GetSession(ctx context.Context) (*upstream.Session, error) {
	if session, ok, err := c.sessionFromFragment(ctx); ok {
		return session, err
	}

	session := c.current()
	if session == nil {
		return nil, nil
	}
	if session.Expired(c.now()) {
		if session.RefreshToken == "" {
			c.setSession(upstream.EventSignedOut, nil)
			return nil, nil
		}
		return c.refresh(ctx, session.RefreshToken)
	}
	return session, nil
}

func (c *Client) sessionFromFragment(ctx context.Context) (*upstream.Session, bool, error) {
	if c.location == nil {
		return nil, false, nil
	}
	c.mu.Lock()
	if c.fragmentChecked {
		c.mu.Unlock()
		return nil, false, nil
	}
	c.fragmentChecked = true
	c.mu.Unlock()

	params := navigation.FragmentParams(c.location.Fragment())
	if desc := params.Get("error_description"); desc != "" {
		return nil, true, &upstream.AuthError{Code: params.Get("error_code"), Message: desc}
	}
	token := params.Get("access_token")
	if token == "" {
		return nil, false, nil
	}

	user, err := c.getUser(ctx, token)
	if err != nil {
		return nil, true, err
	}
	tr := tokenResponse{
		AccessToken:  token,
		RefreshToken: params.Get("refresh_token"),
		TokenType:    params.Get("token_type"),
		User:         *user,
	}
	tr.ExpiresIn, _ = strconv.ParseInt(params.Get("expires_in"), 10, 64)
	tr.ExpiresAt, _ = strconv.ParseInt(params.Get("expires_at"), 10, 64)

	session := tr.session(c.now())
	c.setSession(upstream.EventSignedIn, session)
	return session, true, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*upstream.Session, error) {
	var tr tokenResponse
	err := c.do(ctx, http.MethodPost, "token", url.Values{"grant_type": {"refresh_token"}},
		map[string]string{"refresh_token": refreshToken}, "", &tr)
	if err != nil {
		var authErr *upstream.AuthError
		if errors.As(err, &authErr) && authErr.Status >= 400 && authErr.Status < 500 {
			c.setSession(upstream.EventSignedOut, nil)
		}
		return nil, fmt.Errorf("refreshing session: %w", err)
	}
	session := tr.session(c.now())
	c.setSession(upstream.EventTokenRefreshed, session)
	return session, nil
}

func (c *Client) SignUp(ctx context.Context, params upstream.SignUpParams) (*upstream.SignUpResult, error) {
	body := map[string]any{
		"email":    params.Email,
		"password": params.Password,
	}
	if len(params.Data) > 0 {
		body["data"] = params.Data
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "signup", url.Values{"redirect_to": {params.EmailRedirectTo}}, body, "", &raw); err != nil {
		return nil, err
	}

	// With autoconfirm the response is a session; otherwise it is the bare user.
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("decoding sign-up response: %w", err)
	}
	if tr.AccessToken != "" {
		session := tr.session(c.now())
		c.setSession(upstream.EventSignedIn, session)
		user := session.User
		return &upstream.SignUpResult{User: &user, Session: session}, nil
	}

	var user upstream.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decoding sign-up user: %w", err)
	}
	return &upstream.SignUpResult{User: &user}, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*upstream.Session, error) {
	var tr tokenResponse
	err := c.do(ctx, http.MethodPost, "token", url.Values{"grant_type": {"password"}},
		map[string]string{"email": email, "password": password}, "", &tr)
	if err != nil {
		return nil, err
	}
	session := tr.session(c.now())
	c.setSession(upstream.EventSignedIn, session)
	return session, nil
}

// SignInWithOAuth builds the provider authorization URL and, when a
// Location is configured, navigates to it.
func (c *Client) SignInWithOAuth(ctx context.Context, params upstream.OAuthParams) (*upstream.OAuthResult, error) {
	if params.Provider == "" {
		return nil, fmt.Errorf("oauth provider is required")
	}
	authURL, err := urlutil.JoinPath(c.baseURL, authPrefix, "authorize")
	if err != nil {
		return nil, fmt.Errorf("building authorize url: %w", err)
	}

	cfg := oauth2.Config{Endpoint: oauth2.Endpoint{AuthURL: authURL}}
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("provider", params.Provider)}
	if params.RedirectTo != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_to", params.RedirectTo))
	}
	for k, v := range params.QueryParams {
		if k == "access_type" && v == "offline" {
			opts = append(opts, oauth2.AccessTypeOffline)
			continue
		}
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	// GoTrue issues its own provider state, so none is sent here.
	target := cfg.AuthCodeURL("", opts...)

	if c.location != nil {
		if err := c.location.Assign(target); err != nil {
			return nil, fmt.Errorf("navigating to provider: %w", err)
		}
	}
	return &upstream.OAuthResult{Provider: params.Provider, URL: target}, nil
}

// SignOut revokes the session server-side and drops it locally. Without a
// session it returns upstream.ErrSessionMissing after clearing local state.
func (c *Client) SignOut(ctx context.Context) error {
	session := c.current()
	if session == nil {
		c.setSession(upstream.EventSignedOut, nil)
		return upstream.ErrSessionMissing
	}

	err := c.do(ctx, http.MethodPost, "logout", url.Values{"scope": {"global"}}, nil, session.AccessToken, nil)
	if err != nil {
		var authErr *upstream.AuthError
		if !errors.As(err, &authErr) || !sessionGone(authErr) {
			return err
		}
	}
	c.setSession(upstream.EventSignedOut, nil)
	return nil
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return c.do(ctx, http.MethodPost, "recover", url.Values{"redirect_to": {redirectTo}},
		map[string]string{"email": email}, "", nil)
}

func (c *Client) getUser(ctx context.Context, accessToken string) (*upstream.User, error) {
	var user upstream.User
	if err := c.do(ctx, http.MethodGet, "user", nil, nil, accessToken, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// do performs one API call. Non-2xx responses become *upstream.AuthError.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any, bearer string, out any) error {
	target, err := urlutil.Endpoint(c.baseURL, authPrefix+"/"+endpoint, query)
	if err != nil {
		return fmt.Errorf("building request url: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	log.LogTraceWithFields("gotrue", "Calling auth API", map[string]any{
		"method":   method,
		"endpoint": endpoint,
	})
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("calling auth API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding auth API response: %w", err)
	}
	return nil
}

// tokenResponse is the GoTrue session wire format.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	User         upstream.User `json:"user"`
}

func (t tokenResponse) session(now time.Time) *upstream.Session {
	s := &upstream.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		User:         t.User,
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0).UTC()
	case t.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	}
	return s
}
