package authsession

import "github.com/gcsewala/authbridge/internal/upstream"

// Status is the controller lifecycle state.
type Status int

const (
	StatusUninitialized Status = iota
	StatusInitializing
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitializing:
		return "initializing"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	}
	return "unknown"
}

// State is a point-in-time view of the controller.
type State struct {
	Status  Status
	Session *upstream.Session
	User    *upstream.User
	// Loading is true while any operation, including Init, is in flight.
	Loading bool
}

// Variant selects how a notice is styled.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notice is a user-facing outcome message.
type Notice struct {
	Title       string
	Description string
	Variant     Variant
}

// Presenter shows notices to the user.
type Presenter interface {
	Present(n Notice)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(Notice)

func (f PresenterFunc) Present(n Notice) { f(n) }

type discardPresenter struct{}

func (discardPresenter) Present(Notice) {}

const unexpectedMessage = "An unexpected error occurred. Please try again."

var (
	noticeConfirmEmail = Notice{
		Title:       "Check Your Email",
		Description: "Please check your email for a confirmation link to complete your registration.",
		Variant:     VariantDefault,
	}
	noticeWelcome = Notice{
		Title:       "Welcome!",
		Description: "Your account has been created successfully.",
		Variant:     VariantDefault,
	}
	noticeWelcomeBack = Notice{
		Title:       "Welcome back!",
		Description: "You have been signed in successfully.",
		Variant:     VariantDefault,
	}
	noticeSignedOut = Notice{
		Title:       "Signed Out",
		Description: "You have been signed out successfully.",
		Variant:     VariantDefault,
	}
	noticeResetSent = Notice{
		Title:       "Check Your Email",
		Description: "Password reset instructions have been sent to your email.",
		Variant:     VariantDefault,
	}
)
