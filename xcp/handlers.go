package xcp

import (
	"errors"

	"github.com/shaunagostinho/xcp-lite-server/calseg"
	"github.com/shaunagostinho/xcp-lite-server/daq"
	"github.com/shaunagostinho/xcp-lite-server/registry"
)

// handleConnect always succeeds and is idempotent: two successive CONNECTs
// return identical parameter blocks, per spec's invariant 6.
func (s *Server) handleConnect(data []byte) Response {
	s.sess.connect()

	resourceBits := byte(0x05)  // DAQ + calibration/paging supported
	commModeBasic := byte(0x01) // byte-order: little-endian
	payload := append([]byte{resourceBits, commModeBasic}, putLE16(s.maxCTO)...)
	payload = append(payload, putLE16(s.maxDTO)...)
	payload = append(payload, 0x01, 0x00) // protocol layer version, transport layer version
	return ok(payload...)
}

func (s *Server) handleDisconnect(data []byte) Response {
	s.daqEng.StopAll()
	s.sess.reset()
	return ok()
}

func (s *Server) handleGetStatus(data []byte) Response {
	var status byte
	for _, l := range s.daqEng.Lists() {
		if l.State() == daq.StateRunning {
			status |= 0x40
			break
		}
	}
	protection := byte(0x00)
	state := byte(0x00)
	return ok(status, protection, state)
}

// handleSynch forces a negative response, per spec, resetting command
// sequencing on the master's side. The exact error code carried is
// implementation-defined since SYNCH is not itself a real failure.
func (s *Server) handleSynch(data []byte) Response {
	return fail(ErrGeneric)
}

func (s *Server) handleGetCommModeInfo(data []byte) Response {
	reserved := byte(0x00)
	commModeOptional := byte(0x00)
	reserved2 := []byte{0x00, 0x00}
	maxBs := byte(0xFF)
	minSt := byte(0x00)
	queueSize := byte(0x00)
	driverVersion := byte(0x01)
	payload := []byte{reserved, commModeOptional, reserved2[0], reserved2[1], maxBs, minSt, queueSize, driverVersion}
	return ok(payload...)
}

func (s *Server) handleGetID(data []byte) Response {
	id := []byte(s.epk)
	payload := append(putLE32(uint32(len(id))), id...)
	return ok(payload...)
}

func (s *Server) handleSetMTA(data []byte) Response {
	if len(data) < 7 {
		return fail(ErrOutOfRange)
	}
	ext := data[2]
	addr := le32(data[3:7])
	s.sess.setMTA(ext, addr)
	return ok()
}

func (s *Server) handleUpload(data []byte) Response {
	if len(data) < 1 {
		return fail(ErrOutOfRange)
	}
	n := data[0]
	m := s.sess.getMTA()
	buf, err := s.readMemory(m.ext, m.addr, uint16(n))
	if err != nil {
		return fail(ErrOutOfRange)
	}
	s.sess.advanceMTA(uint32(n))
	return ok(buf...)
}

func (s *Server) handleShortUpload(data []byte) Response {
	if len(data) < 8 {
		return fail(ErrOutOfRange)
	}
	n := data[0]
	ext := data[3]
	addr := le32(data[4:8])
	buf, err := s.readMemory(ext, addr, uint16(n))
	if err != nil {
		return fail(ErrOutOfRange)
	}
	return ok(buf...)
}

func (s *Server) handleDownload(data []byte) Response {
	if len(data) < 1 {
		return fail(ErrOutOfRange)
	}
	n := int(data[0])
	if len(data) < 1+n {
		return fail(ErrOutOfRange)
	}
	body := data[1 : 1+n]
	m := s.sess.getMTA()
	if err := s.writeMemory(m.ext, m.addr, body); err != nil {
		return fail(ErrWriteProtected)
	}
	s.sess.advanceMTA(uint32(n))
	return ok()
}

// handleSetCalPage applies a page selection to the roles selected in mode's
// bit0 (ECU) / bit1 (XCP).
func (s *Server) handleSetCalPage(data []byte) Response {
	if len(data) < 3 {
		return fail(ErrOutOfRange)
	}
	mode := data[0]
	segIdx := data[1]
	page := calseg.Page(data[2])

	seg, err := s.segs.Segment(segIdx)
	if err != nil {
		return fail(ErrOutOfRange)
	}
	if mode&0x01 != 0 {
		seg.SelectPage(calseg.RoleECU, page)
	}
	if mode&0x02 != 0 {
		seg.SelectPage(calseg.RoleXCP, page)
	}
	return ok()
}

func (s *Server) handleGetCalPage(data []byte) Response {
	if len(data) < 2 {
		return fail(ErrOutOfRange)
	}
	mode := data[0]
	segIdx := data[1]

	seg, err := s.segs.Segment(segIdx)
	if err != nil {
		return fail(ErrOutOfRange)
	}
	role := calseg.RoleECU
	if mode&0x02 != 0 {
		role = calseg.RoleXCP
	}
	return ok(byte(seg.ActivePage(role)))
}

func (s *Server) handleAllocDaq(data []byte) Response {
	if len(data) < 2 {
		return fail(ErrOutOfRange)
	}
	count := le16(data[0:2])
	if err := s.daqEng.AllocDaq(count); err != nil {
		return fail(errCodeFor(err))
	}
	return ok()
}

func (s *Server) handleAllocOdt(data []byte) Response {
	if len(data) < 3 {
		return fail(ErrOutOfRange)
	}
	listID := daq.ListID(le16(data[0:2]))
	count := data[2]
	if err := s.daqEng.AllocOdt(listID, count); err != nil {
		return fail(errCodeFor(err))
	}
	return ok()
}

func (s *Server) handleAllocOdtEntry(data []byte) Response {
	if len(data) < 4 {
		return fail(ErrOutOfRange)
	}
	listID := daq.ListID(le16(data[0:2]))
	odtID := data[2]
	count := data[3]
	if err := s.daqEng.AllocOdtEntry(listID, odtID, count); err != nil {
		return fail(errCodeFor(err))
	}
	return ok()
}

func (s *Server) handleSetDaqPtr(data []byte) Response {
	if len(data) < 4 {
		return fail(ErrOutOfRange)
	}
	listID := daq.ListID(le16(data[0:2]))
	odtID := data[2]
	entryID := data[3]
	if err := s.daqEng.SetDaqPtr(listID, odtID, entryID); err != nil {
		return fail(errCodeFor(err))
	}
	return ok()
}

// handleWriteDaq's payload layout: listID(2) ext(1) size(1) addr(4)
// segIndex(1) offset(4, signed) dynOffset(2).
func (s *Server) handleWriteDaq(data []byte) Response {
	if len(data) < 15 {
		return fail(ErrOutOfRange)
	}
	listID := daq.ListID(le16(data[0:2]))
	ext := daq.Ext(data[2])
	size := data[3]
	addr := le32(data[4:8])
	segIndex := registry.SegIndex(data[8])
	offset := int32(le32(data[9:13]))
	dynOffset := le16(data[13:15])

	if err := s.daqEng.WriteDaqEntry(listID, ext, addr, segIndex, offset, dynOffset, size); err != nil {
		return fail(errCodeFor(err))
	}
	return ok()
}

func (s *Server) handleSetDaqListMode(data []byte) Response {
	if len(data) < 5 {
		return fail(ErrOutOfRange)
	}
	listID := daq.ListID(le16(data[0:2]))
	mode := daq.Mode(data[2])
	eventID := registry.EventID(le16(data[3:5]))
	if err := s.daqEng.SetDaqListMode(listID, mode, eventID); err != nil {
		return fail(errCodeFor(err))
	}
	return ok()
}

func (s *Server) handleStartStopDaqList(data []byte) Response {
	if len(data) < 3 {
		return fail(ErrOutOfRange)
	}
	mode := data[0]
	listID := daq.ListID(le16(data[1:3]))
	if mode == 0 {
		s.daqEng.StopAll()
		return ok()
	}
	if err := s.daqEng.Start(listID); err != nil {
		return fail(errCodeFor(err))
	}
	return ok()
}

func (s *Server) handleStartStopSynch(data []byte) Response {
	if len(data) < 1 {
		return fail(ErrOutOfRange)
	}
	mode := data[0]
	if mode == 0 {
		s.daqEng.StopAll()
		return ok()
	}
	if len(data) < 2 {
		return fail(ErrOutOfRange)
	}
	count := int(data[1])
	if len(data) < 2+count*2 {
		return fail(ErrOutOfRange)
	}
	ids := make([]daq.ListID, count)
	for i := 0; i < count; i++ {
		ids[i] = daq.ListID(le16(data[2+i*2 : 4+i*2]))
	}
	if err := s.daqEng.StartSelected(ids); err != nil {
		return fail(errCodeFor(err))
	}
	return ok()
}

// readMemory resolves ext 0 as a host address, and any non-zero ext as a
// calibration segment index with addr encoding (segIndex<<16 | offset).
func (s *Server) readMemory(ext uint8, addr uint32, n uint16) ([]byte, error) {
	if ext == 0 {
		return readAbsolute(addr, n), nil
	}
	segIndex := uint8(addr >> 16)
	offset := uint16(addr & 0xFFFF)
	seg, err := s.segs.Segment(segIndex)
	if err != nil {
		return nil, err
	}
	return seg.ReadAt(calseg.RoleXCP, offset, n)
}

func (s *Server) writeMemory(ext uint8, addr uint32, data []byte) error {
	if ext == 0 {
		return writeAbsolute(addr, data)
	}
	segIndex := uint8(addr >> 16)
	offset := uint16(addr & 0xFFFF)
	seg, err := s.segs.Segment(segIndex)
	if err != nil {
		return err
	}
	return seg.WriteShadow(offset, data)
}

// errCodeFor maps a daq package sentinel error to the fixed wire ERR_ set.
func errCodeFor(err error) ErrCode {
	switch {
	case errors.Is(err, daq.ErrDaqActive):
		return ErrDaqActive
	case errors.Is(err, daq.ErrOutOfRange),
		errors.Is(err, daq.ErrNoSuchList),
		errors.Is(err, daq.ErrNoSuchOdt),
		errors.Is(err, daq.ErrNoSuchEntry),
		errors.Is(err, daq.ErrBadCursor),
		errors.Is(err, daq.ErrBadSize):
		return ErrOutOfRange
	default:
		return ErrGeneric
	}
}
