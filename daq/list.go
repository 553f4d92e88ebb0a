package daq

import (
	"sync/atomic"

	"github.com/shaunagostinho/xcp-lite-server/registry"
)

// List is one DAQ list: an ordered sequence of ODTs bound to exactly one
// event.
type List struct {
	state   atomic.Int32 // State, read lock-free by Trigger
	eventID registry.EventID
	hasEvt  bool
	mode    Mode
	odts    []*ODT

	// configuration cursor set by SET_DAQ_PTR, advanced by WRITE_DAQ
	cursorOdt   int
	cursorEntry int
	cursorValid bool
}

func newList() *List {
	l := &List{}
	l.state.Store(int32(StateStopped))
	return l
}

// State returns the list's current state. Safe to call from any thread
// without locking.
func (l *List) State() State {
	return State(l.state.Load())
}

// EventID returns the event this list is bound to and whether it has been
// set via SET_DAQ_LIST_MODE.
func (l *List) EventID() (registry.EventID, bool) {
	return l.eventID, l.hasEvt
}

// Mode returns the list's mode bitset.
func (l *List) Mode() Mode {
	return l.mode
}

// ODTCount returns the number of ODTs allocated to this list.
func (l *List) ODTCount() int {
	return len(l.odts)
}
