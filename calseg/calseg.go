// Package calseg implements the calibration segment engine: double-buffered
// RAM/FLASH pages with copy-on-write semantics, so application threads read
// calibration parameters without synchronization while the protocol engine
// mutates them consistently.
package calseg

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Role selects whose page-mapping a read/write applies to: the ECU
// (application) side or the XCP tool side. Each can independently select
// RAM or FLASH as its active page.
type Role int

const (
	RoleECU Role = iota
	RoleXCP
)

// Page identifies which physical page a role is mapped to.
type Page int

const (
	PageRAM Page = iota
	PageFlash
)

// Persister is the delegated persistence collaborator for FREEZE_CAL; file
// layout is entirely its concern.
type Persister interface {
	Persist(segName string, workingPage []byte) error
}

// page is the immutable snapshot swapped in atomically by Sync.
type page struct {
	bytes []byte
}

// Segment is a named, fixed-size, typed chunk of calibration memory. The
// zero value is not usable; use New.
type Segment struct {
	name string
	size uint16

	flash atomic.Pointer[page] // reference page, published wholesale by FreezeCal

	ram atomic.Pointer[page] // current working page, read by application threads

	writeMu sync.Mutex // serializes DOWNLOAD/INIT_CAL/FREEZE_CAL against each other
	pending []byte     // shadow copy mutated by DOWNLOAD, swapped in on Sync

	ecuPage atomic.Int32 // Page, selected independently per role
	xcpPage atomic.Int32
}

// New creates a calibration segment named name with the given reference
// (flash) page. The initial working page is a copy of the reference page.
func New(name string, flashDefault []byte) *Segment {
	flash := make([]byte, len(flashDefault))
	copy(flash, flashDefault)

	ram := make([]byte, len(flash))
	copy(ram, flash)

	pending := make([]byte, len(flash))
	copy(pending, flash)

	s := &Segment{
		name:    name,
		size:    uint16(len(flash)),
		pending: pending,
	}
	s.flash.Store(&page{bytes: flash})
	s.ram.Store(&page{bytes: ram})
	return s
}

// Name returns the segment's registered name.
func (s *Segment) Name() string { return s.name }

// Size returns the segment's size in bytes.
func (s *Segment) Size() uint16 { return s.size }

// SelectPage sets the active page for role. Independent per role, per
// spec: a master can switch its own view without affecting the ECU's.
func (s *Segment) SelectPage(role Role, p Page) {
	switch role {
	case RoleECU:
		s.ecuPage.Store(int32(p))
	case RoleXCP:
		s.xcpPage.Store(int32(p))
	}
}

// ActivePage returns the page currently selected for role.
func (s *Segment) ActivePage(role Role) Page {
	switch role {
	case RoleECU:
		return Page(s.ecuPage.Load())
	default:
		return Page(s.xcpPage.Load())
	}
}

// ReadAt returns a copy of length bytes at offset from the page currently
// selected for role. Wait-free: reads the atomically-published working
// page pointer, never blocks on the writer.
func (s *Segment) ReadAt(role Role, offset, length uint16) ([]byte, error) {
	if err := s.checkBounds(offset, length); err != nil {
		return nil, err
	}

	var src []byte
	if s.ActivePage(role) == PageFlash {
		src = s.flash.Load().bytes
	} else {
		src = s.ram.Load().bytes
	}

	out := make([]byte, length)
	copy(out, src[offset:int(offset)+int(length)])
	return out, nil
}

func (s *Segment) checkBounds(offset, length uint16) error {
	if int(offset)+int(length) > int(s.size) {
		return fmt.Errorf("calseg %q: offset %d length %d exceeds segment size %d", s.name, offset, length, s.size)
	}
	return nil
}

// WriteShadow writes data into the shadow (pending) buffer at offset. Takes
// the segment's writer lock; never blocks an application reader, since
// readers only ever touch the published ram page.
func (s *Segment) WriteShadow(offset uint16, data []byte) error {
	if err := s.checkBounds(offset, uint16(len(data))); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	copy(s.pending[offset:int(offset)+len(data)], data)
	return nil
}

// Sync atomically publishes all writes accumulated in the shadow buffer
// since the last Sync, as a single group: a reader that calls Sync observes
// either all of them or none of them. pending keeps the bytes just
// published as the base for further DOWNLOADs, so a later write at a
// different offset accumulates on top of this Sync's result instead of
// reverting it.
func (s *Segment) Sync() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	newRam := make([]byte, len(s.pending))
	copy(newRam, s.pending)

	s.ram.Store(&page{bytes: newRam})
}

// InitCal copies the reference (flash) page over the working page: both
// the published ram page and the shadow. Blocks the tool momentarily via
// the writer lock; never blocks an application thread.
func (s *Segment) InitCal() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	flashBytes := s.flash.Load().bytes
	fresh := make([]byte, len(flashBytes))
	copy(fresh, flashBytes)
	s.ram.Store(&page{bytes: fresh})

	copy(s.pending, flashBytes)
}

// FreezeCal publishes the current working page as the new reference page
// and asks persist to save it. Flash is swapped in wholesale via the same
// atomic-pointer publish ram uses, so a concurrent ReadAt(PageFlash) never
// observes a torn copy.
func (s *Segment) FreezeCal(persist Persister) error {
	s.writeMu.Lock()
	working := s.ram.Load().bytes
	snapshot := make([]byte, len(working))
	copy(snapshot, working)
	s.flash.Store(&page{bytes: snapshot})
	s.writeMu.Unlock()

	if persist == nil {
		return nil
	}
	return persist.Persist(s.name, snapshot)
}
