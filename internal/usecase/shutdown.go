package usecase

import "sync/atomic"

// Shutdown is the cooperative stop signal shared by all runs of a process.
// Raising it never interrupts in-flight work: runs check it before they start
// and between candidates. A nil *Shutdown is never raised.
type Shutdown struct {
	raised atomic.Bool
}

// NewShutdown returns a lowered signal.
func NewShutdown() *Shutdown {
	return &Shutdown{}
}

// Raise requests a stop. It is safe to call more than once.
func (s *Shutdown) Raise() {
	if s != nil {
		s.raised.Store(true)
	}
}

// Raised reports whether a stop was requested.
func (s *Shutdown) Raised() bool {
	return s != nil && s.raised.Load()
}
