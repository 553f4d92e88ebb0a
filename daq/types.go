// Package daq implements the Dynamic Data Acquisition engine: DAQ list
// tables (ODTs, entries), event-triggered sampling of application memory,
// and serialization of DTO packets into the outgoing packet queue.
package daq

import (
	"fmt"

	"github.com/shaunagostinho/xcp-lite-server/registry"
)

// State is a DAQ list's lifecycle state.
type State int32

const (
	StateStopped State = iota
	StatePrepared
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StatePrepared:
		return "PREPARED"
	case StateRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// Mode is a bitset of DAQ list modes.
type Mode uint8

const (
	ModeTimestamped Mode = 1 << iota
	ModePidOff
)

// Ext is an ODT entry address extension, selecting how an entry's address
// is resolved at trigger time.
type Ext uint8

const (
	// ExtAbsolute resolves Addr as a host address.
	ExtAbsolute Ext = 0
	// ExtSegmentRelative resolves (SegIndex, Offset) via the calseg store.
	ExtSegmentRelative Ext = 1
	// ExtEventRelative resolves base_addr + Offset (signed 32-bit).
	ExtEventRelative Ext = 2
	// ExtEventDynamic resolves base_addr + DynOffset (16-bit, per-instance).
	ExtEventDynamic Ext = 3
)

// Entry describes one "copy N bytes from address A to relative offset O"
// instruction.
type Entry struct {
	Ext       Ext
	Addr      uint32 // host address, only meaningful for ExtAbsolute
	SegIndex  registry.SegIndex
	Offset    int32 // signed offset, ExtSegmentRelative / ExtEventRelative
	DynOffset uint16
	Size      uint8 // one of 1, 2, 4, 8
	RelOffset uint16 // byte offset within the ODT's entry data (after header)
}

// ODT is one Object Descriptor Table: a fixed set of entries serialized
// together as a single DTO packet, sharing one PID byte.
type ODT struct {
	PID     uint8
	Entries []*Entry
}

func (o *ODT) entryDataSize() int {
	n := 0
	for _, e := range o.Entries {
		n += int(e.Size)
	}
	return n
}

// Errors returned by DAQ configuration and validation.
var (
	ErrDaqActive   = fmt.Errorf("daq: configuration rejected, a DAQ list is RUNNING")
	ErrOutOfRange  = fmt.Errorf("daq: address out of range")
	ErrNoSuchList  = fmt.Errorf("daq: no such DAQ list")
	ErrNoSuchOdt   = fmt.Errorf("daq: no such ODT")
	ErrNoSuchEntry = fmt.Errorf("daq: no such ODT entry")
	ErrBadCursor   = fmt.Errorf("daq: SET_DAQ_PTR required before WRITE_DAQ")
	ErrBadSize     = fmt.Errorf("daq: entry size must be one of 1, 2, 4, 8")
)

func validSize(size uint8) bool {
	switch size {
	case 1, 2, 4, 8:
		return true
	default:
		return false
	}
}
