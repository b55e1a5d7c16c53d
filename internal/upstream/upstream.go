// Package upstream defines the hosted auth service as the session bridge
// consumes it. The service owns identities and sessions; the bridge only
// reads them and reacts to their transitions.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSessionMissing is returned when an operation needs a session and none
// is active.
var ErrSessionMissing = errors.New("auth session missing")

// AuthError is an expected rejection from the auth service (bad
// credentials, duplicate email, rate limit, ...).
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// User is a read-only projection of the upstream identity.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	CreatedAt    time.Time      `json:"created_at"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// DisplayName is the user's full name from metadata, falling back to email.
func (u User) DisplayName() string {
	if name, ok := u.UserMetadata["full_name"].(string); ok && name != "" {
		return name
	}
	return u.Email
}

// Session is an authenticated upstream session.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Event names an auth state transition.
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// StateChangeFunc observes transitions. session is nil when signed out.
type StateChangeFunc func(event Event, session *Session)

// Subscription is a registered StateChangeFunc.
type Subscription interface {
	Unsubscribe()
}

// SignUpParams are the inputs of a password sign-up.
type SignUpParams struct {
	Email           string
	Password        string
	EmailRedirectTo string
	Data            map[string]any
}

// SignUpResult carries the created user and, when the service does not
// require email confirmation, the new session.
type SignUpResult struct {
	User    *User
	Session *Session
}

// NeedsConfirmation reports the "created but unconfirmed" outcome.
func (r *SignUpResult) NeedsConfirmation() bool {
	return r != nil && r.User != nil && r.Session == nil
}

// OAuthParams start an OAuth authorization redirect.
type OAuthParams struct {
	Provider    string
	RedirectTo  string
	QueryParams map[string]string
}

// OAuthResult is the authorization URL the browser was sent to.
type OAuthResult struct {
	Provider string
	URL      string
}

// Client is the auth service contract.
type Client interface {
	GetSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(fn StateChangeFunc) Subscription
	SignUp(ctx context.Context, params SignUpParams) (*SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignInWithOAuth(ctx context.Context, params OAuthParams) (*OAuthResult, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
}
