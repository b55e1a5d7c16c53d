// Package relay is the side channel that pushes the client's session to the
// WordPress host. The client half is best-effort and fire-and-forget; the
// server half records which tokens the host may treat as signed in.
package relay

import "github.com/gcsewala/authbridge/internal/cookie"

// Action selects what the relay does with a token.
type Action string

const (
	ActionSetToken   Action = "set_token"
	ActionClearToken Action = "clear_token"
)

// User is the identity pushed alongside a token.
type User = cookie.UserInfo

// Request is the relay payload.
type Request struct {
	Action Action `json:"action"`
	Token  string `json:"token,omitempty"`
	User   *User  `json:"user,omitempty"`
}

// Response is the relay acknowledgement.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SetToken builds a set_token request.
func SetToken(token string, user User) Request {
	return Request{Action: ActionSetToken, Token: token, User: &user}
}

// ClearToken builds a clear_token request. token may be empty when the
// client no longer knows which session it held.
func ClearToken(token string) Request {
	return Request{Action: ActionClearToken, Token: token}
}
