package calseg

import (
	"bytes"
	"sync"
	"testing"
)

func TestReadAtReturnsDefaultBeforeAnyWrite(t *testing.T) {
	s := New("C", []byte{1, 2, 3, 4})

	got, err := s.ReadAt(RoleECU, 0, 4)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected default bytes: %v", got)
	}
}

func TestWriteShadowNotVisibleBeforeSync(t *testing.T) {
	s := New("C", []byte{1, 2, 3, 4})

	if err := s.WriteShadow(0, []byte{0xAA, 0xBB, 0xCC, 0xDD}); err != nil {
		t.Fatalf("write shadow: %v", err)
	}

	got, _ := s.ReadAt(RoleECU, 0, 4)
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("expected pre-image before sync, got %v", got)
	}

	s.Sync()

	got, _ = s.ReadAt(RoleECU, 0, 4)
	if !bytes.Equal(got, []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
		t.Fatalf("expected new bytes after sync, got %v", got)
	}
}

func TestSyncIsGroupAtomicPerSegment(t *testing.T) {
	s := New("C", make([]byte, 8))

	if err := s.WriteShadow(0, []byte{1, 1, 1, 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.WriteShadow(4, []byte{2, 2, 2, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var wg sync.WaitGroup
	var observations [][]byte
	var mu sync.Mutex

	wg.Add(1)
	go func() {
		defer wg.Done()
		got, _ := s.ReadAt(RoleECU, 0, 8)
		mu.Lock()
		observations = append(observations, got)
		mu.Unlock()
	}()
	s.Sync()
	wg.Wait()

	got, _ := s.ReadAt(RoleECU, 0, 8)
	observations = append(observations, got)
	for _, obs := range observations {
		allOld := bytes.Equal(obs, make([]byte, 8))
		allNew := bytes.Equal(obs[:4], []byte{1, 1, 1, 1}) && bytes.Equal(obs[4:], []byte{2, 2, 2, 2})
		if !allOld && !allNew {
			t.Fatalf("torn group observed: %v", obs)
		}
	}
}

func TestInitCalCopiesReferenceToWorking(t *testing.T) {
	s := New("C", []byte{9, 9, 9, 9})
	_ = s.WriteShadow(0, []byte{1, 2, 3, 4})
	s.Sync()

	s.InitCal()

	got, _ := s.ReadAt(RoleECU, 0, 4)
	if !bytes.Equal(got, []byte{9, 9, 9, 9}) {
		t.Fatalf("expected reference page after InitCal, got %v", got)
	}
}

type fakePersister struct {
	name string
	data []byte
}

func (f *fakePersister) Persist(segName string, workingPage []byte) error {
	f.name = segName
	f.data = append([]byte(nil), workingPage...)
	return nil
}

func TestFreezeCalCopiesWorkingToReferenceAndPersists(t *testing.T) {
	s := New("C", []byte{0, 0, 0, 0})
	_ = s.WriteShadow(0, []byte{5, 6, 7, 8})
	s.Sync()

	p := &fakePersister{}
	if err := s.FreezeCal(p); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	if p.name != "C" || !bytes.Equal(p.data, []byte{5, 6, 7, 8}) {
		t.Fatalf("unexpected persisted state: name=%q data=%v", p.name, p.data)
	}

	s.InitCal() // reference should now be the frozen bytes
	got, _ := s.ReadAt(RoleECU, 0, 4)
	if !bytes.Equal(got, []byte{5, 6, 7, 8}) {
		t.Fatalf("expected frozen bytes as new reference, got %v", got)
	}
}

func TestTwoWritesAcrossTwoSyncsPreserveEarlierWrite(t *testing.T) {
	s := New("C", make([]byte, 8))

	_ = s.WriteShadow(0, []byte{1, 1, 1, 1})
	s.Sync()

	_ = s.WriteShadow(4, []byte{2, 2, 2, 2})
	s.Sync()

	got, _ := s.ReadAt(RoleECU, 0, 8)
	want := []byte{1, 1, 1, 1, 2, 2, 2, 2}
	if !bytes.Equal(got, want) {
		t.Fatalf("second sync reverted first write: got %v want %v", got, want)
	}
}

func TestConcurrentFreezeCalAndReadAtFlashNeverTears(t *testing.T) {
	size := 4096
	s := New("C", make([]byte, size))
	s.SelectPage(RoleXCP, PageFlash)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		gen := byte(1)
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = s.WriteShadow(0, bytesOf(size, gen))
			s.Sync()
			_ = s.FreezeCal(nil)
			gen++
		}
	}()

	for i := 0; i < 200; i++ {
		got, err := s.ReadAt(RoleXCP, 0, uint16(size))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		for _, b := range got[1:] {
			if b != got[0] {
				t.Fatalf("torn flash read observed: %v", got)
			}
		}
	}

	close(stop)
	wg.Wait()
}

func bytesOf(n int, v byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSelectPageIsIndependentPerRole(t *testing.T) {
	s := New("C", []byte{0, 0, 0, 0})
	_ = s.WriteShadow(0, []byte{1, 1, 1, 1})
	s.Sync()

	s.SelectPage(RoleXCP, PageFlash)

	ecuView, _ := s.ReadAt(RoleECU, 0, 4)
	xcpView, _ := s.ReadAt(RoleXCP, 0, 4)

	if !bytes.Equal(ecuView, []byte{1, 1, 1, 1}) {
		t.Fatalf("ECU role should still read RAM, got %v", ecuView)
	}
	if !bytes.Equal(xcpView, []byte{0, 0, 0, 0}) {
		t.Fatalf("XCP role should read FLASH, got %v", xcpView)
	}
}

func TestReadAtRejectsOutOfBounds(t *testing.T) {
	s := New("C", []byte{1, 2, 3, 4})
	if _, err := s.ReadAt(RoleECU, 2, 4); err == nil {
		t.Fatalf("expected out-of-bounds error")
	}
}
