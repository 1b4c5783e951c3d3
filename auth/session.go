package auth

import (
	"context"
	"sync"
)

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticating
	stateAuthenticated
	stateSubmitting
)

// Session is one client's view of the gate. A granted code authorizes exactly
// one queued submission; after it the session is unauthenticated again.
type Session struct {
	gate *Gate

	mu      sync.Mutex
	state   sessionState
	grantID string
}

// NewSession starts an unauthenticated session on the gate.
func (g *Gate) NewSession() *Session {
	return &Session{gate: g}
}

// Authenticate presents a code. An already authenticated session returns its
// current grant without consuming another code. While one Authenticate call
// is in flight, concurrent calls are denied with ReasonInProgress and their
// codes are left untouched.
func (s *Session) Authenticate(ctx context.Context, code string) (Decision, error) {
	s.mu.Lock()
	switch s.state {
	case stateUnauthenticated:
		s.state = stateAuthenticating
	case stateAuthenticating:
		s.mu.Unlock()
		return Decision{Outcome: Denied, Reason: ReasonInProgress}, nil
	default:
		grantID := s.grantID
		s.mu.Unlock()
		return Decision{Outcome: Granted, GrantID: grantID}, nil
	}
	s.mu.Unlock()

	decision, err := s.gate.Submit(ctx, code)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || !decision.Granted() {
		s.state = stateUnauthenticated
		return decision, err
	}
	s.state = stateAuthenticated
	s.grantID = decision.GrantID
	return decision, nil
}

// Authenticated reports whether the session holds an unspent grant.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateAuthenticated
}

// GrantID is empty while unauthenticated.
func (s *Session) GrantID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grantID
}

// Acquire reserves the session's single send. It fails when the session is
// unauthenticated or another send is in flight. The returned func must be
// called once: queued=true ends the session, false hands the send back.
func (s *Session) Acquire() (func(queued bool), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateAuthenticated {
		return nil, false
	}
	s.state = stateSubmitting

	var once sync.Once
	return func(queued bool) {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if queued {
				s.state = stateUnauthenticated
				s.grantID = ""
				return
			}
			s.state = stateAuthenticated
		})
	}, true
}

// End drops any grant without sending.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateUnauthenticated
	s.grantID = ""
}
