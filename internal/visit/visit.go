// Package visit tells a user's first sign-in on this browser apart from a
// returning one, using a per-user marker cookie. Clearing cookies or
// switching browsers resets the marker, so detection is approximate.
package visit

import (
	"errors"

	"github.com/gcsewala/authbridge/internal/cookie"
)

// MarkerTTLDays is how long a visit marker lives.
const MarkerTTLDays = 30

// Tracker reads and writes visit markers through a cookie store.
type Tracker struct {
	cookies *cookie.Store
}

func NewTracker(cookies *cookie.Store) *Tracker {
	return &Tracker{cookies: cookies}
}

// MarkerName is the cookie name of userID's visit marker.
func MarkerName(userID string) string {
	return "user_visited_" + userID
}

// IsFirstTime reports whether no marker exists for userID.
func (t *Tracker) IsFirstTime(userID string) bool {
	_, err := t.cookies.Get(MarkerName(userID))
	return errors.Is(err, cookie.ErrNotFound)
}

// MarkVisited writes userID's marker with a fresh 30-day lifetime.
func (t *Tracker) MarkVisited(userID string) {
	t.cookies.Set(MarkerName(userID), "true", MarkerTTLDays)
}

// Forget removes userID's marker.
func (t *Tracker) Forget(userID string) {
	t.cookies.Delete(MarkerName(userID))
}
