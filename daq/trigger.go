package daq

import (
	"unsafe"

	"github.com/shaunagostinho/xcp-lite-server/calseg"
	"github.com/shaunagostinho/xcp-lite-server/registry"
)

// headerSize returns the number of header bytes (PID + optional timestamp)
// that precede entry data in a serialized ODT. Only ODT 0 of a list carries
// the timestamp, per spec.
func headerSize(list *List, odtIndex int) int {
	n := 1 // PID
	if odtIndex == 0 && list.mode&ModeTimestamped != 0 {
		n += 4
	}
	return n
}

// resolve reads an entry's bytes from application memory. baseAddr is the
// event-relative base pointer passed by the caller of Trigger; it may be
// nil for entries that do not use ExtEventRelative/ExtEventDynamic.
func (e *Engine) resolve(entry *Entry, baseAddr unsafe.Pointer) ([]byte, error) {
	switch entry.Ext {
	case ExtAbsolute:
		ptr := unsafe.Pointer(uintptr(entry.Addr))
		return unsafe.Slice((*byte)(ptr), entry.Size), nil

	case ExtSegmentRelative:
		seg, err := e.segs.Segment(uint8(entry.SegIndex))
		if err != nil {
			return nil, err
		}
		return seg.ReadAt(calseg.RoleECU, uint16(entry.Offset), uint16(entry.Size))

	case ExtEventRelative:
		if baseAddr == nil {
			return nil, ErrOutOfRange
		}
		ptr := unsafe.Add(baseAddr, entry.Offset)
		return unsafe.Slice((*byte)(ptr), entry.Size), nil

	case ExtEventDynamic:
		if baseAddr == nil {
			return nil, ErrOutOfRange
		}
		ptr := unsafe.Add(baseAddr, entry.DynOffset)
		return unsafe.Slice((*byte)(ptr), entry.Size), nil

	default:
		return nil, ErrOutOfRange
	}
}

// Trigger samples every DAQ list bound to eventID that is currently
// RUNNING, serializing one DTO packet per ODT into the outgoing queue.
// Never blocks and never faults: a queue-full condition is recorded as an
// overflow and the affected ODT is simply skipped for this trigger.
func (e *Engine) Trigger(eventID registry.EventID, baseAddr unsafe.Pointer, timestampNs uint64) {
	idx := e.byEvent.Load()
	if idx == nil {
		return
	}
	lists := (*idx)[eventID]
	if len(lists) == 0 {
		return
	}

	tsLow := uint32(timestampNs)

	for _, list := range lists {
		if list.State() != StateRunning {
			continue
		}
		for odtIndex, odt := range list.odts {
			hdr := headerSize(list, odtIndex)
			total := hdr + odt.entryDataSize()

			slot, err := e.q.Acquire(uint16(total))
			if err != nil {
				e.q.NoteOverflow(uint16(eventID))
				continue
			}

			pid := odt.PID
			if e.q.TakeLostFlag(uint16(eventID)) {
				pid |= overflowBit
			}
			slot.WriteAt(0, []byte{pid})

			off := 1
			if odtIndex == 0 && list.mode&ModeTimestamped != 0 {
				slot.WriteAt(uint16(off), []byte{
					byte(tsLow), byte(tsLow >> 8), byte(tsLow >> 16), byte(tsLow >> 24),
				})
				off += 4
			}

			for _, entry := range odt.Entries {
				data, err := e.resolve(entry, baseAddr)
				if err != nil {
					continue
				}
				slot.WriteAt(uint16(off)+entry.RelOffset, data)
			}

			slot.Commit(true)
		}
	}
}

const overflowBit = 0x80
