package ringcheck

import "testing"

func TestVerifyAcceptsWellFormedTrace(t *testing.T) {
	ops := []Op{
		{Kind: OpAcquire, Seq: 0, Size: 8},
		{Kind: OpCommit, Seq: 0},
		{Kind: OpAcquire, Seq: 1, Size: 8},
		{Kind: OpRelease, Seq: 0},
		{Kind: OpCommit, Seq: 1},
		{Kind: OpRelease, Seq: 1},
	}
	if err := Verify(ops); err != nil {
		t.Fatalf("expected well-formed trace to pass, got %v", err)
	}
}

func TestVerifyRejectsOutOfOrderRelease(t *testing.T) {
	ops := []Op{
		{Kind: OpAcquire, Seq: 0, Size: 8},
		{Kind: OpAcquire, Seq: 1, Size: 8},
		{Kind: OpCommit, Seq: 0},
		{Kind: OpCommit, Seq: 1},
		{Kind: OpRelease, Seq: 1},
	}
	if err := Verify(ops); err == nil {
		t.Fatalf("expected out-of-FIFO-order release to be rejected")
	}
}

func TestVerifyRejectsDoubleAcquire(t *testing.T) {
	ops := []Op{
		{Kind: OpAcquire, Seq: 0, Size: 8},
		{Kind: OpAcquire, Seq: 0, Size: 8},
	}
	if err := Verify(ops); err == nil {
		t.Fatalf("expected duplicate acquire to be rejected")
	}
}

func TestVerifyRejectsReleaseOfUncommitted(t *testing.T) {
	ops := []Op{
		{Kind: OpAcquire, Seq: 0, Size: 8},
		{Kind: OpRelease, Seq: 0},
	}
	if err := Verify(ops); err == nil {
		t.Fatalf("expected release of uncommitted seq to be rejected")
	}
}
