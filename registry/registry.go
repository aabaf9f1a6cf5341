package registry

import (
	"errors"
	"sync"

	"tinychat/protocol"
)

var (
	ErrAlreadyExists    = errors.New("account already exists")
	ErrNotFound         = errors.New("account not found")
	ErrPresentElsewhere = errors.New("account is present on another connection")
)

// session holds everything the server tracks for one account: whether the
// user is currently here, plus the two delivery queues. Messages routed
// while the user is present go to the immediate queue and are pushed on the
// owning connection's next delivery cycle; messages routed while the user
// is away accumulate in the deferred queue until explicitly requested.
//
// The session mutex makes the present-check-and-append in Route and the
// queue drains atomic. The presence check is made once per routed message;
// if presence flips right after, the message still sits in exactly one
// queue and is delivered, just possibly later than the sender expects.
type session struct {
	mu        sync.Mutex
	present   bool
	immediate []protocol.ChatMessage
	deferred  []protocol.ChatMessage
}

// Registry is the server-wide directory of known usernames. It is shared by
// every connection handler; structural changes (create, delete) are
// serialized by the registry lock, and presence flips are check-and-set
// under the session lock so two connections cannot both claim the same
// user.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	order    []string // usernames in insertion order
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]*session),
	}
}

// Create registers a new account, not present. It fails with
// ErrAlreadyExists if the username is already taken.
func (r *Registry) Create(username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[username]; ok {
		return ErrAlreadyExists
	}
	r.sessions[username] = &session{}
	r.order = append(r.order, username)
	return nil
}

// Delete removes the account and both of its queues unconditionally.
// Pending deferred messages are lost.
func (r *Registry) Delete(username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[username]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, username)
	for i, u := range r.order {
		if u == username {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Login marks the user present. It fails with ErrPresentElsewhere if
// another connection already holds the user; the check and the flip are a
// single atomic step, so concurrent logins cannot both succeed.
func (r *Registry) Login(username string) error {
	s, ok := r.lookup(username)
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.present {
		return ErrPresentElsewhere
	}
	s.present = true
	return nil
}

// Logout marks the user not present. The registry entry survives:
// presence is not existence.
func (r *Registry) Logout(username string) error {
	s, ok := r.lookup(username)
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.present = false
	return nil
}

// Present reports whether the user is currently here.
func (r *Registry) Present(username string) (bool, error) {
	s, ok := r.lookup(username)
	if !ok {
		return false, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present, nil
}

// Route appends (sender, body) to the recipient's immediate queue if they
// are present at this instant, else to the deferred queue. The decision is
// made once and not revisited.
func (r *Registry) Route(recipient, sender, body string) error {
	s, ok := r.lookup(recipient)
	if !ok {
		return ErrNotFound
	}

	msg := protocol.ChatMessage{Sender: sender, Body: body}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.present {
		s.immediate = append(s.immediate, msg)
	} else {
		s.deferred = append(s.deferred, msg)
	}
	return nil
}

// DrainImmediate atomically empties and returns the immediate queue.
func (r *Registry) DrainImmediate(username string) ([]protocol.ChatMessage, error) {
	s, ok := r.lookup(username)
	if !ok {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.immediate
	s.immediate = nil
	return msgs, nil
}

// DrainDeferred atomically empties and returns the deferred queue.
func (r *Registry) DrainDeferred(username string) ([]protocol.ChatMessage, error) {
	s, ok := r.lookup(username)
	if !ok {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.deferred
	s.deferred = nil
	return msgs, nil
}

// ListUsernames returns a snapshot of all registered usernames in
// insertion order.
func (r *Registry) ListUsernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, len(r.order))
	copy(users, r.order)
	return users
}

// Count returns the number of registered accounts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) lookup(username string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[username]
	return s, ok
}
