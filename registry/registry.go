// Package registry implements the process-wide, append-only catalog of
// declared events, calibration segments and measurement objects that the
// protocol engine and an external A2L writer both consult.
//
// The registry is write-once: every Register* call is legal only before
// Freeze, which the server calls just before accepting its first CONNECT.
// After Freeze, the registry is read-only and safe for concurrent use
// without further locking on the read path (Snapshot returns an immutable
// view).
package registry

import (
	"fmt"
	"sync"
)

// EventID identifies a registered event. Stable for the process lifetime.
type EventID uint16

// SegIndex identifies a registered calibration segment.
type SegIndex uint8

// TypedefID identifies a registered typedef.
type TypedefID uint16

// Event describes a point in the application where sampling may be
// triggered.
type Event struct {
	ID          EventID
	Name        string
	CycleHintMs uint16
	Index       uint16
}

// CalSegDescriptor describes a calibration segment for the A2L writer and
// the protocol engine's page-switch bookkeeping.
type CalSegDescriptor struct {
	Index   SegIndex
	Name    string
	Size    uint16
	RefPage []byte
}

// Field describes one member of a typedef.
type Field struct {
	Name   string
	Offset uint16
	Size   uint16
}

// Typedef describes a structured measurement/calibration layout.
type Typedef struct {
	ID     TypedefID
	Name   string
	Fields []Field
}

// Measurement describes a single measurable object.
type Measurement struct {
	Name    string
	Ext     uint8
	Addr    uint32
	Size    uint16
	Typedef TypedefID // 0 if not typed
}

// Errors returned by registration calls.
var (
	ErrDuplicate = fmt.Errorf("registry: duplicate name")
	ErrFrozen    = fmt.Errorf("registry: registry is frozen")
)

// Registry is the append-only catalog. The zero value is not usable; use
// New.
type Registry struct {
	mu sync.RWMutex

	frozen bool

	events       []Event
	calsegs      []CalSegDescriptor
	measurements []Measurement
	typedefs     []Typedef

	names map[string]struct{}
}

// New returns an empty, writable Registry.
func New() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

func (r *Registry) claim(name string) error {
	if r.frozen {
		return ErrFrozen
	}
	if _, exists := r.names[name]; exists {
		return ErrDuplicate
	}
	r.names[name] = struct{}{}
	return nil
}

// RegisterEvent adds an event to the catalog and returns its stable id.
func (r *Registry) RegisterEvent(name string, cycleHintMs uint16) (EventID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.claim(name); err != nil {
		return 0, fmt.Errorf("register event %q: %w", name, err)
	}

	id := EventID(len(r.events))
	r.events = append(r.events, Event{
		ID:          id,
		Name:        name,
		CycleHintMs: cycleHintMs,
		Index:       uint16(id),
	})
	return id, nil
}

// RegisterCalSeg adds a calibration segment descriptor and returns its
// index. refPage is copied; callers keep ownership of the slice passed in.
func (r *Registry) RegisterCalSeg(name string, size uint16, refPage []byte) (SegIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.claim(name); err != nil {
		return 0, fmt.Errorf("register calseg %q: %w", name, err)
	}
	if len(r.calsegs) >= 255 {
		return 0, fmt.Errorf("register calseg %q: maximum of 255 calibration segments reached", name)
	}

	idx := SegIndex(len(r.calsegs))
	cp := make([]byte, len(refPage))
	copy(cp, refPage)
	r.calsegs = append(r.calsegs, CalSegDescriptor{
		Index:   idx,
		Name:    name,
		Size:    size,
		RefPage: cp,
	})
	return idx, nil
}

// RegisterTypedef adds a typedef and returns its id.
func (r *Registry) RegisterTypedef(name string, fields []Field) (TypedefID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.claim(name); err != nil {
		return 0, fmt.Errorf("register typedef %q: %w", name, err)
	}

	id := TypedefID(len(r.typedefs) + 1) // 0 is reserved for "untyped"
	r.typedefs = append(r.typedefs, Typedef{ID: id, Name: name, Fields: fields})
	return id, nil
}

// RegisterMeasurement adds a measurement descriptor. Measurements do not
// claim the name uniqueness namespace shared by events/segments/typedefs,
// since a measurement is commonly named after an existing field.
func (r *Registry) RegisterMeasurement(desc Measurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register measurement %q: %w", desc.Name, ErrFrozen)
	}
	r.measurements = append(r.measurements, desc)
	return nil
}

// Freeze makes the registry immutable. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// View is an immutable snapshot of the registry contents, safe to share
// across goroutines without further synchronization.
type View struct {
	Events       []Event
	CalSegs      []CalSegDescriptor
	Measurements []Measurement
	Typedefs     []Typedef
}

// Snapshot returns a copy of the current registry contents. Safe to call
// before or after Freeze; callers that need a stable view for the lifetime
// of a session should call it once after Freeze.
func (r *Registry) Snapshot() View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v := View{
		Events:       make([]Event, len(r.events)),
		CalSegs:      make([]CalSegDescriptor, len(r.calsegs)),
		Measurements: make([]Measurement, len(r.measurements)),
		Typedefs:     make([]Typedef, len(r.typedefs)),
	}
	copy(v.Events, r.events)
	copy(v.CalSegs, r.calsegs)
	copy(v.Measurements, r.measurements)
	copy(v.Typedefs, r.typedefs)
	return v
}

// EventByID looks up an event by id in the snapshot.
func (v View) EventByID(id EventID) (Event, bool) {
	if int(id) < 0 || int(id) >= len(v.Events) {
		return Event{}, false
	}
	return v.Events[id], true
}

// CalSegByIndex looks up a calibration segment descriptor by index.
func (v View) CalSegByIndex(idx SegIndex) (CalSegDescriptor, bool) {
	if int(idx) < 0 || int(idx) >= len(v.CalSegs) {
		return CalSegDescriptor{}, false
	}
	return v.CalSegs[idx], true
}
