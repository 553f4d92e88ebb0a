package daq

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shaunagostinho/xcp-lite-server/calseg"
	"github.com/shaunagostinho/xcp-lite-server/queue"
	"github.com/shaunagostinho/xcp-lite-server/registry"
)

// ListID identifies a DAQ list within an Engine.
type ListID uint16

// Clock is the minimal monotonic timestamp source the engine needs.
type Clock interface {
	NowNs() uint64
}

// Engine owns the DAQ list table, samples application memory on event
// triggers, and serializes DTO packets into the outgoing queue.
//
// Configuration methods (the ALLOC_*/SET_*/WRITE_DAQ cluster) all take mu
// and are rejected with ErrDaqActive while any list is RUNNING, per the
// protocol's "DAQ list tables are mutated only while all lists are STOPPED"
// rule. Trigger reads list state lock-free via atomic loads, so sampling
// never contends with configuration.
type Engine struct {
	mu sync.Mutex

	lists   []*List
	byEvent atomic.Pointer[map[registry.EventID][]*List] // published wholesale, read lock-free by Trigger

	reg   registry.View
	segs  calseg.Store
	q     *queue.Queue
	clock Clock
}

// NewEngine creates a DAQ engine bound to a registry snapshot, a
// calibration segment store (for ExtSegmentRelative resolution), the
// outgoing packet queue, and a monotonic clock.
func NewEngine(reg registry.View, segs calseg.Store, q *queue.Queue, clock Clock) *Engine {
	e := &Engine{
		reg:   reg,
		segs:  segs,
		q:     q,
		clock: clock,
	}
	empty := make(map[registry.EventID][]*List)
	e.byEvent.Store(&empty)
	return e
}

func (e *Engine) anyRunningLocked() bool {
	for _, l := range e.lists {
		if l.State() == StateRunning {
			return true
		}
	}
	return false
}

func (e *Engine) listLocked(id ListID) (*List, error) {
	if int(id) < 0 || int(id) >= len(e.lists) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchList, id)
	}
	return e.lists[id], nil
}

// AllocDaq reallocates the list table to hold count empty DAQ lists,
// discarding any previous configuration. Rejected with ErrDaqActive if any
// existing list is RUNNING.
func (e *Engine) AllocDaq(count uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.anyRunningLocked() {
		return ErrDaqActive
	}

	e.lists = make([]*List, count)
	for i := range e.lists {
		e.lists[i] = newList()
	}
	empty := make(map[registry.EventID][]*List)
	e.byEvent.Store(&empty)
	return nil
}

// AllocOdt appends count empty ODTs to list id.
func (e *Engine) AllocOdt(id ListID, count uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.anyRunningLocked() {
		return ErrDaqActive
	}
	l, err := e.listLocked(id)
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		l.odts = append(l.odts, &ODT{PID: uint8(len(l.odts))})
	}
	return nil
}

// AllocOdtEntry appends count empty entries to ODT odtID of list id.
func (e *Engine) AllocOdtEntry(id ListID, odtID uint8, count uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.anyRunningLocked() {
		return ErrDaqActive
	}
	l, err := e.listLocked(id)
	if err != nil {
		return err
	}
	if int(odtID) >= len(l.odts) {
		return fmt.Errorf("%w: %d", ErrNoSuchOdt, odtID)
	}
	odt := l.odts[odtID]
	for i := 0; i < int(count); i++ {
		odt.Entries = append(odt.Entries, &Entry{})
	}
	return nil
}

// SetDaqPtr positions the write cursor used by subsequent WriteDaqEntry
// calls.
func (e *Engine) SetDaqPtr(id ListID, odtID, entryID uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.anyRunningLocked() {
		return ErrDaqActive
	}
	l, err := e.listLocked(id)
	if err != nil {
		return err
	}
	if int(odtID) >= len(l.odts) {
		return fmt.Errorf("%w: %d", ErrNoSuchOdt, odtID)
	}
	if int(entryID) >= len(l.odts[odtID].Entries) {
		return fmt.Errorf("%w: %d", ErrNoSuchEntry, entryID)
	}
	l.cursorOdt = int(odtID)
	l.cursorEntry = int(entryID)
	l.cursorValid = true
	return nil
}

// WriteDaqEntry configures the entry at the current cursor position and
// advances the cursor to the next entry. Validates the address/extension
// at configuration time so that sampling never faults: out-of-range
// offsets are rejected with ErrOutOfRange, per spec.
func (e *Engine) WriteDaqEntry(id ListID, ext Ext, addr uint32, segIndex registry.SegIndex, offset int32, dynOffset uint16, size uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.anyRunningLocked() {
		return ErrDaqActive
	}
	l, err := e.listLocked(id)
	if err != nil {
		return err
	}
	if !l.cursorValid {
		return ErrBadCursor
	}
	if !validSize(size) {
		return ErrBadSize
	}

	entry := l.odts[l.cursorOdt].Entries[l.cursorEntry]

	switch ext {
	case ExtAbsolute:
		if addr%uint32(size) != 0 {
			return fmt.Errorf("%w: address %#x not aligned to size %d", ErrOutOfRange, addr, size)
		}
	case ExtSegmentRelative:
		seg, err := e.segs.Segment(uint8(segIndex))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOutOfRange, err)
		}
		if offset < 0 || int(offset)+int(size) > int(seg.Size()) {
			return fmt.Errorf("%w: segment %d offset %d size %d exceeds bounds", ErrOutOfRange, segIndex, offset, size)
		}
		if offset%int32(size) != 0 {
			return fmt.Errorf("%w: offset %d not aligned to size %d", ErrOutOfRange, offset, size)
		}
	case ExtEventRelative:
		if offset%int32(size) != 0 {
			return fmt.Errorf("%w: offset %d not aligned to size %d", ErrOutOfRange, offset, size)
		}
	case ExtEventDynamic:
		if dynOffset%uint16(size) != 0 {
			return fmt.Errorf("%w: dynamic offset %d not aligned to size %d", ErrOutOfRange, dynOffset, size)
		}
	default:
		return fmt.Errorf("%w: unknown extension %d", ErrOutOfRange, ext)
	}

	entry.Ext = ext
	entry.Addr = addr
	entry.SegIndex = segIndex
	entry.Offset = offset
	entry.DynOffset = dynOffset
	entry.Size = size

	odt := l.odts[l.cursorOdt]
	entry.RelOffset = recomputeRelOffset(odt, l.cursorEntry)

	l.cursorEntry++
	if l.cursorEntry >= len(odt.Entries) {
		l.cursorValid = false
	}
	return nil
}

func recomputeRelOffset(odt *ODT, idx int) uint16 {
	off := uint16(0)
	for i := 0; i < idx; i++ {
		off += uint16(odt.Entries[i].Size)
	}
	return off
}

// SetDaqListMode configures a list's mode bitset and binds it to eventID.
func (e *Engine) SetDaqListMode(id ListID, mode Mode, eventID registry.EventID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.anyRunningLocked() {
		return ErrDaqActive
	}
	l, err := e.listLocked(id)
	if err != nil {
		return err
	}
	if _, ok := e.reg.EventByID(eventID); !ok {
		return fmt.Errorf("%w: event %d not registered", ErrOutOfRange, eventID)
	}
	l.mode = mode
	l.eventID = eventID
	l.hasEvt = true
	return nil
}

// Start transitions list id from PREPARED/STOPPED to RUNNING and rebuilds
// the event-to-lists index used by Trigger.
func (e *Engine) Start(id ListID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, err := e.listLocked(id)
	if err != nil {
		return err
	}
	if !l.hasEvt {
		return fmt.Errorf("%w: list %d has no bound event", ErrOutOfRange, id)
	}
	l.state.Store(int32(StateRunning))
	e.rebuildIndexLocked()
	return nil
}

// StartSelected starts every list in ids atomically with respect to the
// event index rebuild.
func (e *Engine) StartSelected(ids []ListID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range ids {
		l, err := e.listLocked(id)
		if err != nil {
			return err
		}
		if !l.hasEvt {
			return fmt.Errorf("%w: list %d has no bound event", ErrOutOfRange, id)
		}
	}
	for _, id := range ids {
		e.lists[id].state.Store(int32(StateRunning))
	}
	e.rebuildIndexLocked()
	return nil
}

// StopAll transitions every DAQ list to STOPPED, clears the event index,
// and drops the packet queue's pending contents.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, l := range e.lists {
		l.state.Store(int32(StateStopped))
	}
	empty := make(map[registry.EventID][]*List)
	e.byEvent.Store(&empty)
	e.q.Clear()
}

func (e *Engine) rebuildIndexLocked() {
	idx := make(map[registry.EventID][]*List)
	for _, l := range e.lists {
		if l.State() == StateRunning && l.hasEvt {
			idx[l.eventID] = append(idx[l.eventID], l)
		}
	}
	e.byEvent.Store(&idx)
}

// Lists returns a snapshot slice of all allocated lists, for status
// reporting (e.g. the monitor package).
func (e *Engine) Lists() []*List {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*List, len(e.lists))
	copy(out, e.lists)
	return out
}
