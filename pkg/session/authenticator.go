package session

import "sync"

type AuthenticationResultFunc func(conn *Connection, authenticated bool)

// Authenticator decides whether a remote connection is admitted.
//
// InitializeOnce is called exactly once, before the manager processes its first
// connection. OnRemoteConnection is called exactly once per connection while it is
// Authenticating; it may send broadcasts that do not require authentication (a challenge,
// say) and must eventually fire the result through the subscribers registered with
// OnAuthenticationResult, either synchronously or later from any goroutine.
//
// An authenticator never removes connections itself. The manager disconnects rejected
// connections and ignores results for connections that are no longer Authenticating.
type Authenticator interface {
	InitializeOnce(m *Manager)
	OnRemoteConnection(conn *Connection)
	OnAuthenticationResult(fn AuthenticationResultFunc)
}

// AuthenticationEvent implements the subscription half of Authenticator. Embed it and
// call Fire once a verdict is reached.
type AuthenticationEvent struct {
	mut_subscribers sync.RWMutex
	subscribers     []AuthenticationResultFunc
}

func (e *AuthenticationEvent) OnAuthenticationResult(fn AuthenticationResultFunc) {
	e.mut_subscribers.Lock()
	defer e.mut_subscribers.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

func (e *AuthenticationEvent) Fire(conn *Connection, authenticated bool) {
	e.mut_subscribers.RLock()
	subscribers := make([]AuthenticationResultFunc, len(e.subscribers))
	copy(subscribers, e.subscribers)
	e.mut_subscribers.RUnlock()

	for _, fn := range subscribers {
		fn(conn, authenticated)
	}
}
