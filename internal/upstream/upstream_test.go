package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", User{Email: "a@b.com", UserMetadata: map[string]any{"full_name": "Ada Lovelace"}}.DisplayName())
	assert.Equal(t, "a@b.com", User{Email: "a@b.com"}.DisplayName())
	assert.Equal(t, "a@b.com", User{Email: "a@b.com", UserMetadata: map[string]any{"full_name": ""}}.DisplayName())
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, (&Session{}).Expired(now), "zero expiry never expires")
	assert.False(t, (&Session{ExpiresAt: now.Add(time.Minute)}).Expired(now))
	assert.True(t, (&Session{ExpiresAt: now}).Expired(now))
}

func TestSignUpResultNeedsConfirmation(t *testing.T) {
	var nilResult *SignUpResult
	assert.False(t, nilResult.NeedsConfirmation())
	assert.True(t, (&SignUpResult{User: &User{ID: "u"}}).NeedsConfirmation())
	assert.False(t, (&SignUpResult{User: &User{ID: "u"}, Session: &Session{AccessToken: "t"}}).NeedsConfirmation())
}

func TestAuthErrorMessage(t *testing.T) {
	assert.Equal(t, "Invalid login credentials (invalid_credentials)", (&AuthError{Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}).Error())
	assert.Equal(t, "boom", (&AuthError{Message: "boom"}).Error())
}
