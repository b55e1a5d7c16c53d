package authsession

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gcsewala/authbridge/internal/cookie"
	"github.com/gcsewala/authbridge/internal/relay"
	"github.com/gcsewala/authbridge/internal/upstream"
	"github.com/gcsewala/authbridge/internal/visit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestInitSubscribesBeforeCheckingSession(t *testing.T) {
	f := newFixture(t, "https://gcseanki.co.uk/")
	require.NoError(t, f.ctrl.Init(ctx))

	assert.Equal(t, []string{"subscribe", "get_session"}, f.upstream.Calls())
	st := f.ctrl.Snapshot()
	assert.Equal(t, StatusAnonymous, st.Status)
	assert.False(t, st.Loading)

	assert.ErrorIs(t, f.ctrl.Init(ctx), ErrAlreadyInitialized)
}

func TestInitRestoresExistingSession(t *testing.T) {
	up := newFakeUpstream()
	up.session = testSession("tok-existing", "user-1", "ada@example.com")
	f := newFixtureWith(t, "https://gcseanki.co.uk/", up)

	require.NoError(t, f.ctrl.Init(ctx))

	st := f.ctrl.Snapshot()
	assert.Equal(t, StatusAuthenticated, st.Status)
	require.NotNil(t, st.User)
	assert.Equal(t, "user-1", st.User.ID)

	token, user, err := f.cookies.Mirror()
	require.NoError(t, err)
	assert.Equal(t, "tok-existing", token)
	assert.Equal(t, cookie.UserInfo{ID: "user-1", Email: "ada@example.com", Name: "Ada Lovelace"}, user)

	// INITIAL_SESSION with a token pushes it to the relay; no redirect for it.
	assert.Equal(t, []relay.Action{relay.ActionSetToken}, f.relay.Actions())
	assert.Len(t, f.location.History(), 1)
}

func TestInitSurvivesSessionError(t *testing.T) {
	up := newFakeUpstream()
	up.getSessionErr = errors.New("network down")
	f := newFixtureWith(t, "http://localhost:8080/", up)

	require.NoError(t, f.ctrl.Init(ctx))
	st := f.ctrl.Snapshot()
	assert.Equal(t, StatusAnonymous, st.Status)
	assert.False(t, st.Loading)
}

func TestInitSessionErrorClearsStaleMirror(t *testing.T) {
	up := newFakeUpstream()
	up.getSessionErr = errors.New("network down")
	f := newFixtureWith(t, "https://gcseanki.co.uk/courses", up)
	require.NoError(t, f.cookies.SetMirror("stale-token", cookie.UserInfo{ID: "user-1", Email: "ada@example.com"}))

	require.NoError(t, f.ctrl.Init(ctx))

	assert.Equal(t, StatusAnonymous, f.ctrl.Snapshot().Status)
	_, err := f.cookies.Get(cookie.TokenCookie)
	assert.ErrorIs(t, err, cookie.ErrNotFound)
	_, err = f.cookies.Get(cookie.UserCookie)
	assert.ErrorIs(t, err, cookie.ErrNotFound)
}

func TestSignInRoundTrip(t *testing.T) {
	f := newFixture(t, "https://gcseanki.co.uk/courses")
	require.NoError(t, f.ctrl.Init(ctx))

	session, err := f.ctrl.SignIn(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
	require.NotNil(t, session)

	got, err := f.cookies.Get(cookie.TokenCookie)
	require.NoError(t, err)
	assert.Equal(t, session.AccessToken, got)

	raw, err := f.cookies.Get(cookie.UserCookie)
	require.NoError(t, err)
	var user cookie.UserInfo
	require.NoError(t, json.Unmarshal([]byte(raw), &user))
	assert.Equal(t, session.User.ID, user.ID)

	assert.Equal(t, "Welcome back!", f.presenter.Last().Title)
	assert.Equal(t, StatusAuthenticated, f.ctrl.Snapshot().Status)

	require.NoError(t, f.ctrl.SignOut(ctx))
	_, err = f.cookies.Get(cookie.TokenCookie)
	assert.ErrorIs(t, err, cookie.ErrNotFound)
	_, err = f.cookies.Get(cookie.UserCookie)
	assert.ErrorIs(t, err, cookie.ErrNotFound)
	assert.Equal(t, StatusAnonymous, f.ctrl.Snapshot().Status)

	requests := f.relay.Requests()
	require.NotEmpty(t, requests)
	assert.Equal(t, relay.ActionSetToken, requests[0].Action)
	assert.Equal(t, session.AccessToken, requests[0].Token)
	last := requests[len(requests)-1]
	assert.Equal(t, relay.ActionClearToken, last.Action)
	assert.Equal(t, session.AccessToken, last.Token, "clear_token names the session being revoked")
}

func TestSignOutIsIdempotent(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fakeUpstream)
	}{
		{"no session", func(f *fakeUpstream) {}},
		{"session missing", func(f *fakeUpstream) { f.signOutErr = upstream.ErrSessionMissing }},
		{"transport error", func(f *fakeUpstream) { f.signOutErr = errors.New("connection reset") }},
		{"upstream rejection", func(f *fakeUpstream) {
			f.signOutErr = &upstream.AuthError{Status: 500, Message: "database error"}
		}},
		{"panic", func(f *fakeUpstream) { f.panicOn = "sign_out" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "https://gcseanki.co.uk/")
			require.NoError(t, f.ctrl.Init(ctx))
			_, err := f.ctrl.SignIn(ctx, "ada@example.com", "pw")
			require.NoError(t, err)
			tt.setup(f.upstream)

			for i := 0; i < 2; i++ {
				assert.NoError(t, f.ctrl.SignOut(ctx))
				_, err := f.cookies.Get(cookie.TokenCookie)
				assert.ErrorIs(t, err, cookie.ErrNotFound)
				_, err = f.cookies.Get(cookie.UserCookie)
				assert.ErrorIs(t, err, cookie.ErrNotFound)

				st := f.ctrl.Snapshot()
				assert.Nil(t, st.Session)
				assert.False(t, st.Loading)
				assert.Equal(t, "Signed Out", f.presenter.Last().Title)
			}
		})
	}
}

func TestSignOutBeforeInit(t *testing.T) {
	f := newFixture(t, "http://localhost:8080/")
	assert.NoError(t, f.ctrl.SignOut(ctx))
	assert.NoError(t, f.ctrl.SignOut(ctx))
}

func TestFirstVisitRedirectOnce(t *testing.T) {
	f := newFixture(t, "https://gcseanki.co.uk/courses")
	require.NoError(t, f.ctrl.Init(ctx))

	userID := "id-ada@example.com"
	assert.True(t, f.visits.IsFirstTime(userID))

	_, err := f.ctrl.SignIn(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
	assert.False(t, f.visits.IsFirstTime(userID))
	assert.Equal(t, "https://gcseanki.co.uk/dashboard", f.location.Href())

	require.NoError(t, f.ctrl.SignOut(ctx))
	require.NoError(t, f.location.Assign("/courses"))

	f.clock.Advance(visit.MarkerTTLDays*24*time.Hour - time.Second)
	_, err = f.ctrl.SignIn(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "https://gcseanki.co.uk/courses", f.location.Href(), "returning users stay put")

	f.clock.Advance(time.Second)
	assert.True(t, f.visits.IsFirstTime(userID), "marker lapses after thirty days")
}

func TestFirstVisitRedirectOnLocalhostIsRelative(t *testing.T) {
	f := newFixture(t, "http://localhost:8080/")
	require.NoError(t, f.ctrl.Init(ctx))

	_, err := f.ctrl.SignIn(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/dashboard", f.location.Href())
}

func TestRedirectDelay(t *testing.T) {
	f := newFixture(t, "http://localhost:8080/")
	f.ctrl.delay = 20 * time.Millisecond
	require.NoError(t, f.ctrl.Init(ctx))

	_, err := f.ctrl.SignIn(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/", f.location.Href(), "navigation is deferred")

	assert.Eventually(t, func() bool {
		return f.location.Href() == "http://localhost:8080/dashboard"
	}, time.Second, 5*time.Millisecond)
}

func TestDisposeCancelsPendingRedirect(t *testing.T) {
	f := newFixture(t, "http://localhost:8080/")
	f.ctrl.delay = 50 * time.Millisecond
	require.NoError(t, f.ctrl.Init(ctx))

	_, err := f.ctrl.SignIn(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
	f.ctrl.Dispose()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "http://localhost:8080/", f.location.Href())
}

func TestOAuthFragmentHygiene(t *testing.T) {
	up := newFakeUpstream()
	up.callback = testSession("oauth-token", "user-g", "grace@example.com")
	f := newFixtureWith(t, "https://gcseanki.co.uk/dashboard#access_token=oauth-token&refresh_token=r&expires_in=3600", up)

	require.NoError(t, f.ctrl.Init(ctx))

	assert.NotContains(t, f.location.Href(), "access_token")
	for _, entry := range f.location.History() {
		assert.NotContains(t, entry, "oauth-token", "token must not linger in history")
	}
	assert.Equal(t, StatusAuthenticated, f.ctrl.Snapshot().Status)

	got, err := f.cookies.Get(cookie.TokenCookie)
	require.NoError(t, err)
	assert.Equal(t, "oauth-token", got)

	// The OAuth SIGNED_IN is seen by the subscription, so the first-visit
	// policy applies to it.
	assert.False(t, f.visits.IsFirstTime("user-g"))
	assert.Equal(t, "https://gcseanki.co.uk/dashboard", f.location.Href())
}

func TestOAuthFragmentWithMalformedPairIsStripped(t *testing.T) {
	up := newFakeUpstream()
	up.callback = testSession("oauth-token", "user-g", "grace@example.com")
	f := newFixtureWith(t, "https://gcseanki.co.uk/courses#access_token=oauth-token&state=%zz", up)

	require.NoError(t, f.ctrl.Init(ctx))

	assert.Equal(t, StatusAuthenticated, f.ctrl.Snapshot().Status)
	for _, entry := range f.location.History() {
		assert.NotContains(t, entry, "oauth-token")
	}
}

func TestFragmentKeptWhenCallbackFails(t *testing.T) {
	up := newFakeUpstream()
	up.getSessionErr = &upstream.AuthError{Message: "invalid token"}
	f := newFixtureWith(t, "https://gcseanki.co.uk/#access_token=bad", up)

	require.NoError(t, f.ctrl.Init(ctx))
	assert.Equal(t, StatusAnonymous, f.ctrl.Snapshot().Status)
	assert.Contains(t, f.location.Href(), "access_token=bad")
}

func TestHostSensitiveRedirects(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"https://gcseanki.co.uk/", "https://gcseanki.co.uk/dashboard"},
		{"https://www.gcseanki.co.uk/pricing", "https://gcseanki.co.uk/dashboard"},
		{"http://localhost:8080/", "http://localhost:8080/dashboard"},
		{"https://preview-123.example.app/", "https://preview-123.example.app/dashboard"},
	}

	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			f := newFixture(t, tt.href)
			f.upstream.signUpResult = &upstream.SignUpResult{User: &upstream.User{ID: "u"}}

			require.NoError(t, f.ctrl.ResetPassword(ctx, "ada@example.com"))
			_, err := f.ctrl.SignUp(ctx, "ada@example.com", "pw", "")
			require.NoError(t, err)
			_, err = f.ctrl.SignInWithGoogle(ctx)
			require.NoError(t, err)

			assert.Equal(t, []string{tt.want}, f.upstream.resetTargets)
			require.Len(t, f.upstream.signUpParams, 1)
			assert.Equal(t, tt.want, f.upstream.signUpParams[0].EmailRedirectTo)
			require.Len(t, f.upstream.oauthParams, 1)
			assert.Equal(t, tt.want, f.upstream.oauthParams[0].RedirectTo)
		})
	}
}

func TestSignUpWelcomeScenario(t *testing.T) {
	f := newFixture(t, "https://gcseanki.co.uk/")
	require.NoError(t, f.ctrl.Init(ctx))
	f.upstream.signUpResult = &upstream.SignUpResult{
		User:    &upstream.User{ID: "new-user", Email: "a@b.com"},
		Session: testSession("fresh", "new-user", "a@b.com"),
	}

	result, err := f.ctrl.SignUp(ctx, "a@b.com", "x", "")
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.Nil(t, f.upstream.signUpParams[0].Data, "no name means no metadata")

	assert.Contains(t, f.presenter.Titles(), "Welcome!")
	assert.NotContains(t, f.presenter.Titles(), "Check Your Email")
}

func TestSignUpNeedsConfirmation(t *testing.T) {
	f := newFixture(t, "https://gcseanki.co.uk/")
	f.upstream.signUpResult = &upstream.SignUpResult{User: &upstream.User{ID: "new-user"}}

	result, err := f.ctrl.SignUp(ctx, "a@b.com", "x", "Ada")
	require.NoError(t, err)
	assert.True(t, result.NeedsConfirmation())
	assert.Equal(t, map[string]any{"full_name": "Ada"}, f.upstream.signUpParams[0].Data)
	assert.Equal(t, "Check Your Email", f.presenter.Last().Title)
}

func TestExpectedRejectionsSurfaceVerbatim(t *testing.T) {
	f := newFixture(t, "https://gcseanki.co.uk/")
	reject := &upstream.AuthError{Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}
	f.upstream.signInErr = reject

	_, err := f.ctrl.SignIn(ctx, "ada@example.com", "bad")
	assert.ErrorIs(t, err, reject)
	assert.NotErrorIs(t, err, ErrUnexpected)

	n := f.presenter.Last()
	assert.Equal(t, "Sign In Error", n.Title)
	assert.Equal(t, "Invalid login credentials", n.Description)
	assert.Equal(t, VariantDestructive, n.Variant)
}

func TestUnexpectedFailuresAreNormalised(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fakeUpstream)
		run   func(c *Controller) error
		title string
	}{
		{
			name:  "sign in transport error",
			setup: func(f *fakeUpstream) { f.signInErr = errors.New("dial tcp: connection refused") },
			run: func(c *Controller) error {
				_, err := c.SignIn(ctx, "a@b.com", "x")
				return err
			},
			title: "Sign In Error",
		},
		{
			name:  "sign up panic",
			setup: func(f *fakeUpstream) { f.panicOn = "sign_up" },
			run: func(c *Controller) error {
				_, err := c.SignUp(ctx, "a@b.com", "x", "")
				return err
			},
			title: "Sign Up Error",
		},
		{
			name:  "reset transport error",
			setup: func(f *fakeUpstream) { f.resetErr = errors.New("timeout") },
			run:   func(c *Controller) error { return c.ResetPassword(ctx, "a@b.com") },
			title: "Password Reset Error",
		},
		{
			name:  "google panic",
			setup: func(f *fakeUpstream) { f.panicOn = "oauth" },
			run: func(c *Controller) error {
				_, err := c.SignInWithGoogle(ctx)
				return err
			},
			title: "Google Sign In Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "https://gcseanki.co.uk/")
			tt.setup(f.upstream)

			err := tt.run(f.ctrl)
			assert.ErrorIs(t, err, ErrUnexpected)
			assert.False(t, f.ctrl.Snapshot().Loading, "loading is cleared after a failure")

			n := f.presenter.Last()
			assert.Equal(t, tt.title, n.Title)
			assert.Equal(t, unexpectedMessage, n.Description)
		})
	}
}

func TestLoadingDuringOperation(t *testing.T) {
	f := newFixture(t, "https://gcseanki.co.uk/")
	var sawLoading atomic.Bool
	f.upstream.onSignIn = func() { sawLoading.Store(f.ctrl.Snapshot().Loading) }

	_, err := f.ctrl.SignIn(ctx, "a@b.com", "x")
	require.NoError(t, err)
	assert.True(t, sawLoading.Load())
	assert.False(t, f.ctrl.Snapshot().Loading)
}

func TestResetPasswordIsNeutral(t *testing.T) {
	f := newFixture(t, "https://gcseanki.co.uk/")
	require.NoError(t, f.ctrl.ResetPassword(ctx, "nobody@example.com"))
	n := f.presenter.Last()
	assert.Equal(t, "Check Your Email", n.Title)
	assert.False(t, strings.Contains(n.Description, "nobody"))
}

func TestSignInWithGoogleRequestsOfflineAccess(t *testing.T) {
	f := newFixture(t, "https://gcseanki.co.uk/")
	res, err := f.ctrl.SignInWithGoogle(ctx)
	require.NoError(t, err)
	assert.Equal(t, GoogleProvider, res.Provider)

	require.Len(t, f.upstream.oauthParams, 1)
	assert.Equal(t, "google", f.upstream.oauthParams[0].Provider)
	assert.Equal(t, map[string]string{"access_type": "offline"}, f.upstream.oauthParams[0].QueryParams)
}

func TestUpstreamSignOutEventClearsMirror(t *testing.T) {
	f := newFixture(t, "https://gcseanki.co.uk/")
	require.NoError(t, f.ctrl.Init(ctx))
	session, err := f.ctrl.SignIn(ctx, "a@b.com", "x")
	require.NoError(t, err)

	// e.g. a rejected refresh inside the upstream client
	f.upstream.set(upstream.EventSignedOut, nil)

	_, err = f.cookies.Get(cookie.TokenCookie)
	assert.ErrorIs(t, err, cookie.ErrNotFound)
	requests := f.relay.Requests()
	last := requests[len(requests)-1]
	assert.Equal(t, relay.ClearToken(session.AccessToken), last)
}

func TestTokenRefreshRemirrors(t *testing.T) {
	f := newFixture(t, "https://gcseanki.co.uk/")
	require.NoError(t, f.ctrl.Init(ctx))
	_, err := f.ctrl.SignIn(ctx, "a@b.com", "x")
	require.NoError(t, err)

	refreshed := testSession("tok-refreshed", "id-a@b.com", "a@b.com")
	f.upstream.set(upstream.EventTokenRefreshed, refreshed)

	got, err := f.cookies.Get(cookie.TokenCookie)
	require.NoError(t, err)
	assert.Equal(t, "tok-refreshed", got)
	assert.Equal(t, "tok-refreshed", f.ctrl.Snapshot().Session.AccessToken)
}

func TestSubscribeAndDispose(t *testing.T) {
	f := newFixture(t, "https://gcseanki.co.uk/")
	var states []State
	cancel := f.ctrl.Subscribe(func(s State) { states = append(states, s) })
	require.NoError(t, f.ctrl.Init(ctx))
	require.NotEmpty(t, states)
	assert.True(t, states[0].Loading)
	assert.False(t, states[len(states)-1].Loading)

	cancel()
	n := len(states)
	_, err := f.ctrl.SignIn(ctx, "a@b.com", "x")
	require.NoError(t, err)
	assert.Len(t, states, n, "cancelled subscribers are not called")

	f.ctrl.Dispose()
	f.upstream.set(upstream.EventSignedOut, nil)
	assert.Equal(t, StatusAuthenticated, f.ctrl.Snapshot().Status, "events after Dispose are ignored")
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "authenticated", StatusAuthenticated.String())
	assert.Equal(t, "unknown", Status(42).String())
}
