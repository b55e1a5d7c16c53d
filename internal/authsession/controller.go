// Package authsession owns the browser-side session: it tracks upstream auth
// transitions, mirrors the session into cookies the WordPress host can read,
// notifies the relay and applies the first-visit dashboard redirect.
package authsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gcsewala/authbridge/internal/cookie"
	"github.com/gcsewala/authbridge/internal/emailutil"
	"github.com/gcsewala/authbridge/internal/hostenv"
	"github.com/gcsewala/authbridge/internal/log"
	"github.com/gcsewala/authbridge/internal/navigation"
	"github.com/gcsewala/authbridge/internal/relay"
	"github.com/gcsewala/authbridge/internal/upstream"
	"github.com/gcsewala/authbridge/internal/visit"
)

// DefaultRedirectDelay is the pause before the first-visit dashboard redirect.
const DefaultRedirectDelay = 100 * time.Millisecond

// GoogleProvider is the OAuth provider used by SignInWithGoogle.
const GoogleProvider = "google"

var (
	// ErrUnexpected wraps transport failures and recovered panics.
	ErrUnexpected = errors.New("unexpected error")

	ErrAlreadyInitialized = errors.New("controller already initialized")
)

// Config wires a Controller to its collaborators.
type Config struct {
	Upstream upstream.Client
	Cookies  *cookie.Store
	Visits   *visit.Tracker
	// Relay receives set_token/clear_token notifications. Defaults to
	// relay.Discard.
	Relay    relay.Notifier
	Location navigation.Location
	Env      hostenv.Environment
	// Presenter defaults to discarding notices.
	Presenter Presenter
	// RedirectDelay before the first-visit navigation. Zero navigates
	// synchronously.
	RedirectDelay time.Duration
}

// Controller is the canonical session holder for one page.
type Controller struct {
	upstream  upstream.Client
	cookies   *cookie.Store
	visits    *visit.Tracker
	relay     relay.Notifier
	location  navigation.Location
	env       hostenv.Environment
	presenter Presenter
	delay     time.Duration

	mu            sync.Mutex
	status        Status
	session       *upstream.Session
	loading       int
	disposed      bool
	sub           upstream.Subscription
	redirectTimer *time.Timer
	listeners     map[int]func(State)
	nextListener  int
}

func New(cfg Config) (*Controller, error) {
	if cfg.Upstream == nil {
		return nil, fmt.Errorf("upstream client is required")
	}
	if cfg.Cookies == nil {
		return nil, fmt.Errorf("cookie store is required")
	}
	if cfg.Location == nil {
		return nil, fmt.Errorf("location is required")
	}
	c := &Controller{
		upstream:  cfg.Upstream,
		cookies:   cfg.Cookies,
		visits:    cfg.Visits,
		relay:     cfg.Relay,
		location:  cfg.Location,
		env:       cfg.Env,
		presenter: cfg.Presenter,
		delay:     cfg.RedirectDelay,
		listeners: make(map[int]func(State)),
	}
	if c.visits == nil {
		c.visits = visit.NewTracker(cfg.Cookies)
	}
	if c.relay == nil {
		c.relay = relay.Discard{}
	}
	if c.presenter == nil {
		c.presenter = discardPresenter{}
	}
	return c, nil
}

// Init bootstraps the session. The subscription is registered before the
// explicit session check so no transition between the two is missed.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusUninitialized || c.disposed {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.status = StatusInitializing
	c.mu.Unlock()

	done := c.begin()
	defer done()

	callback := navigation.HasAccessToken(c.location.Fragment())

	sub := c.upstream.OnAuthStateChange(c.handleAuthEvent)
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	if callback {
		log.LogDebugWithFields("authsession", "OAuth callback detected", nil)
		session, err := c.getSession(ctx)
		if err == nil && session != nil {
			c.location.StripFragment()
		} else if err != nil {
			log.LogWarnWithFields("authsession", "OAuth callback did not yield a session", map[string]any{
				"error": err.Error(),
			})
		}
	}

	session, err := c.getSession(ctx)
	if err != nil {
		log.LogErrorWithFields("authsession", "Error getting session", map[string]any{
			"error": err.Error(),
		})
		c.mu.Lock()
		anonymous := c.status == StatusInitializing
		if anonymous {
			c.status = StatusAnonymous
		}
		c.mu.Unlock()
		if anonymous {
			c.cookies.ClearMirror()
		}
		c.broadcast()
		return nil
	}

	c.mu.Lock()
	c.session = session
	c.status = statusFor(session)
	c.mu.Unlock()

	if hasToken(session) {
		c.mirror(session)
	}
	log.LogDebugWithFields("authsession", "Initial session check", map[string]any{
		"authenticated": hasToken(session),
	})
	c.broadcast()
	return nil
}

// handleAuthEvent applies one upstream transition.
func (c *Controller) handleAuthEvent(event upstream.Event, session *upstream.Session) {
	defer func() {
		if r := recover(); r != nil {
			log.LogErrorWithFields("authsession", "Recovered from panic in auth state handler", map[string]any{
				"event": string(event),
				"panic": fmt.Sprint(r),
			})
		}
	}()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	previous := c.session
	c.session = session
	c.status = statusFor(session)
	c.mu.Unlock()

	log.LogDebugWithFields("authsession", "Auth state changed", map[string]any{
		"event": string(event),
		"email": sessionEmail(session),
	})

	if hasToken(session) {
		c.mirror(session)
		c.relay.Notify(relay.SetToken(session.AccessToken, userInfo(session)))
	} else {
		c.cookies.ClearMirror()
		if event == upstream.EventSignedOut && hasToken(previous) {
			c.relay.Notify(relay.ClearToken(previous.AccessToken))
		}
	}

	if event == upstream.EventSignedIn && session != nil {
		c.applyFirstVisit(session.User.ID)
	}
	c.broadcast()
}

func (c *Controller) applyFirstVisit(userID string) {
	if !c.visits.IsFirstTime(userID) {
		log.LogDebugWithFields("authsession", "Returning user, staying on current page", nil)
		return
	}
	log.LogInfoWithFields("authsession", "First sign-in on this browser, redirecting to dashboard", map[string]any{
		"user_id": userID,
	})
	c.visits.MarkVisited(userID)
	c.redirectToDashboard()
}

func (c *Controller) redirectToDashboard() {
	if c.location.Fragment() != "" {
		c.location.StripFragment()
	}
	target := c.env.DashboardTarget()
	navigate := func() {
		if err := c.location.Assign(target); err != nil {
			log.LogWarnWithFields("authsession", "Dashboard redirect failed", map[string]any{
				"target": target,
				"error":  err.Error(),
			})
		}
	}
	if c.delay <= 0 {
		navigate()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	if c.redirectTimer != nil {
		c.redirectTimer.Stop()
	}
	c.redirectTimer = time.AfterFunc(c.delay, navigate)
}

// SignUp registers a new account. The result distinguishes a created but
// unconfirmed account (no session) from one that is signed in immediately.
func (c *Controller) SignUp(ctx context.Context, email, password, name string) (*upstream.SignUpResult, error) {
	done := c.begin()
	defer done()

	params := upstream.SignUpParams{
		Email:           email,
		Password:        password,
		EmailRedirectTo: c.env.RedirectURL(),
	}
	if name != "" {
		params.Data = map[string]any{"full_name": name}
	}

	var result *upstream.SignUpResult
	err := guard(func() error {
		var err error
		result, err = c.upstream.SignUp(ctx, params)
		return err
	})
	if err != nil {
		c.fail("Sign Up Error", "sign up", email, err)
		return nil, err
	}

	if result.NeedsConfirmation() {
		c.presenter.Present(noticeConfirmEmail)
	} else {
		c.presenter.Present(noticeWelcome)
	}
	return result, nil
}

func (c *Controller) SignIn(ctx context.Context, email, password string) (*upstream.Session, error) {
	done := c.begin()
	defer done()

	var session *upstream.Session
	err := guard(func() error {
		var err error
		session, err = c.upstream.SignInWithPassword(ctx, email, password)
		return err
	})
	if err != nil {
		c.fail("Sign In Error", "sign in", email, err)
		return nil, err
	}

	c.presenter.Present(noticeWelcomeBack)
	return session, nil
}

// SignOut always leaves the controller signed out with both cookie mirrors
// removed, and always returns nil: a missing session or a failed upstream
// call is indistinguishable from being signed out.
func (c *Controller) SignOut(ctx context.Context) error {
	done := c.begin()
	defer done()

	c.mu.Lock()
	previous := c.session
	c.session = nil
	if c.status != StatusUninitialized {
		c.status = StatusAnonymous
	}
	c.mu.Unlock()

	c.cookies.ClearMirror()
	token := ""
	if previous != nil {
		token = previous.AccessToken
	}
	c.relay.Notify(relay.ClearToken(token))

	err := guard(func() error { return c.upstream.SignOut(ctx) })
	switch {
	case err == nil:
	case errors.Is(err, upstream.ErrSessionMissing):
		log.LogDebugWithFields("authsession", "Sign out without a session", nil)
	default:
		log.LogWarnWithFields("authsession", "Upstream sign out failed, signed out locally", map[string]any{
			"error": err.Error(),
		})
	}

	// A late upstream event may have re-mirrored a session; sign-out wins.
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	c.cookies.ClearMirror()

	c.broadcast()
	c.presenter.Present(noticeSignedOut)
	return nil
}

// ResetPassword requests a reset email. Success is reported the same way
// whether or not the address has an account.
func (c *Controller) ResetPassword(ctx context.Context, email string) error {
	done := c.begin()
	defer done()

	err := guard(func() error {
		return c.upstream.ResetPasswordForEmail(ctx, email, c.env.RedirectURL())
	})
	if err != nil {
		c.fail("Password Reset Error", "password reset", email, err)
		return err
	}
	c.presenter.Present(noticeResetSent)
	return nil
}

// SignInWithGoogle starts the OAuth redirect. The callback is consumed by
// Init on the page the provider returns to.
func (c *Controller) SignInWithGoogle(ctx context.Context) (*upstream.OAuthResult, error) {
	done := c.begin()
	defer done()

	var result *upstream.OAuthResult
	err := guard(func() error {
		var err error
		result, err = c.upstream.SignInWithOAuth(ctx, upstream.OAuthParams{
			Provider:    GoogleProvider,
			RedirectTo:  c.env.RedirectURL(),
			QueryParams: map[string]string{"access_type": "offline"},
		})
		return err
	})
	if err != nil {
		c.fail("Google Sign In Error", "google sign in", "", err)
		return nil, err
	}
	return result, nil
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	st := State{Status: c.status, Session: c.session, Loading: c.loading > 0}
	if c.session != nil {
		user := c.session.User
		st.User = &user
	}
	return st
}

// Subscribe registers fn for state changes. fn is called without the
// controller lock held.
func (c *Controller) Subscribe(fn func(State)) (cancel func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Dispose unsubscribes from upstream and cancels a pending redirect.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	sub := c.sub
	c.sub = nil
	if c.redirectTimer != nil {
		c.redirectTimer.Stop()
	}
	c.listeners = make(map[int]func(State))
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// begin marks an operation in flight; the returned func must be deferred.
func (c *Controller) begin() func() {
	c.mu.Lock()
	c.loading++
	c.mu.Unlock()
	c.broadcast()

	return func() {
		c.mu.Lock()
		c.loading--
		c.mu.Unlock()
		c.broadcast()
	}
}

func (c *Controller) broadcast() {
	c.mu.Lock()
	st := c.snapshotLocked()
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (c *Controller) getSession(ctx context.Context) (*upstream.Session, error) {
	var session *upstream.Session
	err := guard(func() error {
		var err error
		session, err = c.upstream.GetSession(ctx)
		return err
	})
	return session, err
}

func (c *Controller) mirror(session *upstream.Session) {
	if err := c.cookies.SetMirror(session.AccessToken, userInfo(session)); err != nil {
		log.LogWarnWithFields("authsession", "Failed to mirror session into cookies", map[string]any{
			"error": err.Error(),
		})
	}
}

// fail logs err and presents it; expected rejections are shown verbatim.
func (c *Controller) fail(title, op, email string, err error) {
	log.LogErrorWithFields("authsession", "Operation failed", map[string]any{
		"operation": op,
		"email":     emailutil.Mask(email),
		"error":     err.Error(),
	})
	description := unexpectedMessage
	var authErr *upstream.AuthError
	if errors.As(err, &authErr) {
		description = authErr.Message
	}
	c.presenter.Present(Notice{Title: title, Description: description, Variant: VariantDestructive})
}

// guard runs fn, converting panics and non-auth errors into ErrUnexpected.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrUnexpected, r)
		}
	}()
	err = fn()
	if err == nil {
		return nil
	}
	var authErr *upstream.AuthError
	if errors.As(err, &authErr) || errors.Is(err, upstream.ErrSessionMissing) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnexpected, err)
}

func statusFor(session *upstream.Session) Status {
	if hasToken(session) {
		return StatusAuthenticated
	}
	return StatusAnonymous
}

func hasToken(session *upstream.Session) bool {
	return session != nil && session.AccessToken != ""
}

func userInfo(session *upstream.Session) cookie.UserInfo {
	return cookie.UserInfo{
		ID:    session.User.ID,
		Email: session.User.Email,
		Name:  session.User.DisplayName(),
	}
}

func sessionEmail(session *upstream.Session) string {
	if session == nil {
		return ""
	}
	return emailutil.Mask(session.User.Email)
}
