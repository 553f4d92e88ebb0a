// Package xcp implements the XCP protocol engine: the CTO command dispatch
// table and session state machine tying together the registry, packet
// queue, DAQ engine and calibration segment store.
package xcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"unsafe"

	"github.com/shaunagostinho/xcp-lite-server/calseg"
	"github.com/shaunagostinho/xcp-lite-server/daq"
	"github.com/shaunagostinho/xcp-lite-server/queue"
	"github.com/shaunagostinho/xcp-lite-server/registry"
	"github.com/shaunagostinho/xcp-lite-server/transport"
)

// Response is a fully-formed CTO reply: either a positive response
// (PID 0xFF, up to maxCTO-1 payload bytes) or a negative one
// (PID 0xFE, ERR_ code).
type Response struct {
	Positive bool
	Payload  []byte
	Err      ErrCode
}

func ok(payload ...byte) Response {
	return Response{Positive: true, Payload: payload}
}

func fail(code ErrCode) Response {
	return Response{Positive: false, Err: code}
}

// Encode serializes a Response into wire bytes (PID followed by payload).
func (r Response) Encode() []byte {
	if r.Positive {
		out := make([]byte, 1+len(r.Payload))
		out[0] = pidPositive
		copy(out[1:], r.Payload)
		return out
	}
	return []byte{pidNegative, byte(r.Err)}
}

type handlerFunc func(s *Server, data []byte) Response

// Server is the top-level embedding-API object: it owns the registry, the
// packet queue, the DAQ engine, the calibration segment store and the
// transport, and serves the single session a given XCP Lite process
// supports at a time.
type Server struct {
	mu sync.Mutex

	reg    *registry.Registry
	view   registry.View
	q      *queue.Queue
	segs   *calseg.DefaultStore
	daqEng *daq.Engine
	tr     transport.Transport
	clock  daq.Clock

	sess *Session

	maxCTO uint16
	maxDTO uint16
	epk    string

	handlers map[uint8]handlerFunc

	cancel context.CancelFunc
	done   chan struct{}
}

// Config configures a Server at construction time.
type Config struct {
	QueueSize uint32
	MaxCTO    uint16
	MaxDTO    uint16
	EPK       string
	Clock     daq.Clock
}

// NewServer creates a Server with an empty, writable registry. Callers
// declare events and calibration segments via CreateEvent/CreateCalSeg,
// then call ServerStart, which freezes the registry and begins accepting
// connections.
func NewServer(cfg Config) *Server {
	if cfg.MaxCTO == 0 {
		cfg.MaxCTO = 255
	}
	if cfg.MaxDTO == 0 {
		cfg.MaxDTO = transport.DefaultMTU - 4
	}
	reg := registry.New()
	q := queue.New(cfg.QueueSize)
	segs := calseg.NewDefaultStore()

	s := &Server{
		reg:    reg,
		q:      q,
		segs:   segs,
		clock:  cfg.Clock,
		sess:   newSession(),
		maxCTO: cfg.MaxCTO,
		maxDTO: cfg.MaxDTO,
		epk:    cfg.EPK,
	}
	s.daqEng = daq.NewEngine(registry.View{}, segs, q, cfg.Clock)
	s.handlers = s.buildDispatchTable()
	return s
}

func (s *Server) buildDispatchTable() map[uint8]handlerFunc {
	return map[uint8]handlerFunc{
		0xFF: (*Server).handleConnect,
		0xFE: (*Server).handleDisconnect,
		0xFD: (*Server).handleGetStatus,
		0xFC: (*Server).handleSynch,
		0xFA: (*Server).handleGetCommModeInfo,
		0xF8: (*Server).handleGetID,
		0xF6: (*Server).handleSetMTA,
		0xF5: (*Server).handleUpload,
		0xF4: (*Server).handleShortUpload,
		0xF0: (*Server).handleDownload,
		0xEB: (*Server).handleSetCalPage,
		0xEA: (*Server).handleGetCalPage,
		0xE2: (*Server).handleAllocDaq,
		0xE1: (*Server).handleAllocOdt,
		0xE0: (*Server).handleAllocOdtEntry,
		0xE7: (*Server).handleSetDaqPtr,
		0xE6: (*Server).handleWriteDaq,
		0xE5: (*Server).handleSetDaqListMode,
		0xDE: (*Server).handleStartStopDaqList,
		0xDD: (*Server).handleStartStopSynch,
	}
}

// CreateEvent registers a sampling event. Must be called before ServerStart.
func (s *Server) CreateEvent(name string, cycleHintMs uint16) (registry.EventID, error) {
	return s.reg.RegisterEvent(name, cycleHintMs)
}

// CreateCalSeg registers and allocates a calibration segment backed by
// flashDefault. Must be called before ServerStart.
func (s *Server) CreateCalSeg(name string, flashDefault []byte) (registry.SegIndex, error) {
	idx, err := s.reg.RegisterCalSeg(name, uint16(len(flashDefault)), flashDefault)
	if err != nil {
		return 0, err
	}
	got := s.segs.Add(calseg.New(name, flashDefault))
	if got != uint8(idx) {
		return 0, fmt.Errorf("xcp: calseg store/registry index mismatch for %q", name)
	}
	return idx, nil
}

// CalSegReadLock returns a consistent snapshot of segIndex's active page for
// role, for application code sampling outside of a DAQ event (e.g. a
// polling loop). Wait-free.
func (s *Server) CalSegReadLock(segIndex registry.SegIndex, role calseg.Role) ([]byte, error) {
	seg, err := s.segs.Segment(uint8(segIndex))
	if err != nil {
		return nil, err
	}
	return seg.ReadAt(role, 0, seg.Size())
}

// CalSegSync publishes accumulated DOWNLOAD writes to segIndex as one
// atomic group, per spec's calibration-write atomicity requirement.
func (s *Server) CalSegSync(segIndex registry.SegIndex) error {
	seg, err := s.segs.Segment(uint8(segIndex))
	if err != nil {
		return err
	}
	seg.Sync()
	return nil
}

// EventTrigger samples every RUNNING DAQ list bound to eventID. baseAddr is
// the event-relative base pointer for ExtEventRelative/ExtEventDynamic
// entries (nil if the event carries none).
func (s *Server) EventTrigger(eventID registry.EventID, baseAddr unsafe.Pointer) {
	s.daqEng.Trigger(eventID, baseAddr, s.clock.NowNs())
}

// ServerStart freezes the registry, publishes its snapshot to the DAQ
// engine, and begins serving CTO commands over tr until ctx is canceled or
// ServerStop is called.
func (s *Server) ServerStart(ctx context.Context, tr transport.Transport, bindAddr string) error {
	s.reg.Freeze()
	s.view = s.reg.Snapshot()

	s.mu.Lock()
	s.daqEng = daq.NewEngine(s.view, s.segs, s.q, s.clock)
	s.tr = tr
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	if err := tr.Start(runCtx, bindAddr); err != nil {
		cancel()
		return fmt.Errorf("xcp: server start: %w", err)
	}

	go s.serveLoop(runCtx)
	return nil
}

// ServerStop tears the session down and stops the transport.
func (s *Server) ServerStop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.daqEng.StopAll()
	s.sess.reset()
	if s.tr != nil {
		return s.tr.Shutdown()
	}
	return nil
}

func (s *Server) serveLoop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := s.tr.Recv()
		if err != nil {
			log.Printf("[xcp] transport recv error, tearing session down: %v", err)
			s.daqEng.StopAll()
			s.sess.reset()
			continue
		}
		if len(payload) == 0 {
			continue
		}

		resp := s.Dispatch(payload)
		wire := resp.Encode()
		if len(wire) > int(s.maxCTO) {
			wire = fail(ErrMemoryOverflow).Encode()
		}
		if err := s.tr.Send(wire); err != nil {
			log.Printf("[xcp] transport send error, tearing session down: %v", err)
			s.daqEng.StopAll()
			s.sess.reset()
		}
	}
}

// Dispatch routes one CTO command payload (PID + data) to its handler.
// CONNECT is always accepted regardless of session state, per spec's
// idempotent-reconnect invariant; every other command requires CONNECTED.
func (s *Server) Dispatch(data []byte) Response {
	pid := data[0]
	body := data[1:]

	h, known := s.handlers[pid]
	if !known {
		return fail(ErrCmdUnknown)
	}
	if pid != 0xFF && !s.sess.isConnected() {
		return fail(ErrCmdUnknown)
	}
	return h(s, body)
}

// Lists returns a status snapshot of every allocated DAQ list, for the
// monitor package.
func (s *Server) Lists() []*daq.List {
	return s.daqEng.Lists()
}

// IsConnected reports whether a master is currently CONNECTED.
func (s *Server) IsConnected() bool {
	return s.sess.isConnected()
}

// QueueLevel and QueueCapacity expose the outgoing packet queue's
// occupancy, for the monitor package.
func (s *Server) QueueLevel() uint32    { return s.q.Level() }
func (s *Server) QueueCapacity() uint32 { return s.q.Capacity() }

// OverflowCount returns the cumulative overflow counter for eventID.
func (s *Server) OverflowCount(eventID registry.EventID) uint32 {
	return s.q.OverflowCount(uint16(eventID))
}

// Events returns the frozen registry's event catalog.
func (s *Server) Events() []registry.Event {
	return s.view.Events
}

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

func putLE16(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }
func putLE32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
