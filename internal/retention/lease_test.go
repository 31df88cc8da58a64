package retention

import (
	"testing"
	"time"
)

func TestFileLeaseAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	l := NewFileLease(dir)

	ok, err := l.Acquire("owner-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	// a live lease blocks other owners
	ok, err = l.Acquire("owner-2", time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatalf("second owner acquired a held lease")
	}

	if err := l.Renew("owner-1", time.Minute); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if err := l.Renew("owner-2", time.Minute); err == nil {
		t.Fatalf("non-owner renew should fail")
	}

	if err := l.Release("owner-2"); err == nil {
		t.Fatalf("non-owner release should fail")
	}
	if err := l.Release("owner-1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	// released lease can be re-acquired
	ok, err = l.Acquire("owner-2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("reacquire: ok=%v err=%v", ok, err)
	}
	_ = l.Release("owner-2")
}

func TestFileLeaseExpiredIsReplaced(t *testing.T) {
	dir := t.TempDir()
	l := NewFileLease(dir)

	ok, err := l.Acquire("owner-1", time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	time.Sleep(10 * time.Millisecond)

	ok, err = l.Acquire("owner-2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expired lease not replaced: ok=%v err=%v", ok, err)
	}
	_ = l.Release("owner-2")
}
