package authsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gcsewala/authbridge/internal/cookie"
	"github.com/gcsewala/authbridge/internal/hostenv"
	"github.com/gcsewala/authbridge/internal/navigation"
	"github.com/gcsewala/authbridge/internal/testutil"
	"github.com/gcsewala/authbridge/internal/upstream"
	"github.com/gcsewala/authbridge/internal/visit"
	"github.com/stretchr/testify/require"
)

// fakeUpstream is an in-memory auth service with scripted failures.
type fakeUpstream struct {
	mu        sync.Mutex
	session   *upstream.Session
	listeners map[int]upstream.StateChangeFunc
	nextID    int
	calls     []string

	// callback is returned (and announced as SIGNED_IN) by the next
	// GetSession, as when a client consumes an OAuth fragment.
	callback *upstream.Session

	getSessionErr error
	signInErr     error
	signUpResult  *upstream.SignUpResult
	signUpErr     error
	signOutErr    error
	resetErr      error
	oauthErr      error
	panicOn       string

	signUpParams []upstream.SignUpParams
	resetTargets []string
	oauthParams  []upstream.OAuthParams
	onSignIn     func()
}

var _ upstream.Client = (*fakeUpstream)(nil)

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{listeners: make(map[int]upstream.StateChangeFunc)}
}

func testSession(token, id, email string) *upstream.Session {
	return &upstream.Session{
		AccessToken: token,
		ExpiresAt:   time.Now().Add(time.Hour),
		User: upstream.User{
			ID:           id,
			Email:        email,
			UserMetadata: map[string]any{"full_name": "Ada Lovelace"},
		},
	}
}

func (f *fakeUpstream) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	panicOn := f.panicOn
	f.mu.Unlock()
	if panicOn == call {
		panic("boom in " + call)
	}
}

func (f *fakeUpstream) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeUpstream) emit(event upstream.Event, session *upstream.Session) {
	f.mu.Lock()
	fns := make([]upstream.StateChangeFunc, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(event, session)
	}
}

func (f *fakeUpstream) set(event upstream.Event, session *upstream.Session) {
	f.mu.Lock()
	f.session = session
	f.mu.Unlock()
	f.emit(event, session)
}

type fakeSub struct {
	f  *fakeUpstream
	id int
}

func (s fakeSub) Unsubscribe() {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	delete(s.f.listeners, s.id)
}

func (f *fakeUpstream) OnAuthStateChange(fn upstream.StateChangeFunc) upstream.Subscription {
	f.record("subscribe")
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	current := f.session
	f.mu.Unlock()
	fn(upstream.EventInitialSession, current)
	return fakeSub{f: f, id: id}
}

func (f *fakeUpstream) GetSession(ctx context.Context) (*upstream.Session, error) {
	f.record("get_session")
	f.mu.Lock()
	if cb := f.callback; cb != nil {
		f.callback = nil
		f.mu.Unlock()
		f.set(upstream.EventSignedIn, cb)
		return cb, nil
	}
	session, err := f.session, f.getSessionErr
	f.mu.Unlock()
	return session, err
}

func (f *fakeUpstream) SignUp(ctx context.Context, params upstream.SignUpParams) (*upstream.SignUpResult, error) {
	f.record("sign_up")
	f.mu.Lock()
	f.signUpParams = append(f.signUpParams, params)
	result, err := f.signUpResult, f.signUpErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if result.Session != nil {
		f.set(upstream.EventSignedIn, result.Session)
	}
	return result, nil
}

func (f *fakeUpstream) SignInWithPassword(ctx context.Context, email, password string) (*upstream.Session, error) {
	f.record("sign_in")
	f.mu.Lock()
	err, hook := f.signInErr, f.onSignIn
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	session := testSession("tok-"+email, "id-"+email, email)
	f.set(upstream.EventSignedIn, session)
	return session, nil
}

func (f *fakeUpstream) SignInWithOAuth(ctx context.Context, params upstream.OAuthParams) (*upstream.OAuthResult, error) {
	f.record("oauth")
	f.mu.Lock()
	f.oauthParams = append(f.oauthParams, params)
	err := f.oauthErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &upstream.OAuthResult{Provider: params.Provider, URL: "https://abc.supabase.co/auth/v1/authorize?provider=" + params.Provider}, nil
}

func (f *fakeUpstream) SignOut(ctx context.Context) error {
	f.record("sign_out")
	f.mu.Lock()
	session, err := f.session, f.signOutErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.set(upstream.EventSignedOut, nil)
	if session == nil {
		return upstream.ErrSessionMissing
	}
	return nil
}

func (f *fakeUpstream) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	f.record("reset")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetTargets = append(f.resetTargets, redirectTo)
	return f.resetErr
}

type recordingPresenter struct {
	mu      sync.Mutex
	notices []Notice
}

func (p *recordingPresenter) Present(n Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, n)
}

func (p *recordingPresenter) Titles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.notices))
	for i, n := range p.notices {
		out[i] = n.Title
	}
	return out
}

func (p *recordingPresenter) Last() Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.notices) == 0 {
		return Notice{}
	}
	return p.notices[len(p.notices)-1]
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	ctrl      *Controller
	upstream  *fakeUpstream
	location  *navigation.URLLocation
	cookies   *cookie.Store
	visits    *visit.Tracker
	relay     *testutil.RecordingNotifier
	presenter *recordingPresenter
	clock     *testClock
	env       hostenv.Environment
}

func newFixture(t *testing.T, href string) *fixture {
	t.Helper()
	return newFixtureWith(t, href, newFakeUpstream())
}

func newFixtureWith(t *testing.T, href string, up upstream.Client) *fixture {
	t.Helper()
	loc, err := navigation.NewURLLocation(href)
	require.NoError(t, err)
	env, err := hostenv.Resolve(loc.Hostname(), loc.Origin(), hostenv.HostConfig{})
	require.NoError(t, err)

	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	jar := cookie.NewDocumentJar(loc.Hostname(), clock.Now)
	cookies := cookie.NewStore(jar, env, cookie.WithClock(clock.Now))
	visits := visit.NewTracker(cookies)
	notifier := &testutil.RecordingNotifier{}
	presenter := &recordingPresenter{}

	ctrl, err := New(Config{
		Upstream:  up,
		Cookies:   cookies,
		Visits:    visits,
		Relay:     notifier,
		Location:  loc,
		Env:       env,
		Presenter: presenter,
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Dispose)

	fake, _ := up.(*fakeUpstream)
	return &fixture{
		ctrl:      ctrl,
		upstream:  fake,
		location:  loc,
		cookies:   cookies,
		visits:    visits,
		relay:     notifier,
		presenter: presenter,
		clock:     clock,
		env:       env,
	}
}
