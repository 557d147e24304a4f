package supervise

import "sync/atomic"

// StopSignal is the continue flag polled by a server run loop. It starts out
// true (keep running) and is flipped to false by the controller.
//
// Get is called on every iteration of the accept loop, so it must stay a
// single atomic load.
type StopSignal struct {
	cont atomic.Bool
}

// NewStopSignal returns a signal that reports true until Set(false).
func NewStopSignal() *StopSignal {
	s := &StopSignal{}
	s.cont.Store(true)
	return s
}

// Set stores the continue flag. The last write wins.
func (s *StopSignal) Set(cont bool) {
	s.cont.Store(cont)
}

// Get reports whether the run loop should keep going.
func (s *StopSignal) Get() bool {
	return s.cont.Load()
}
