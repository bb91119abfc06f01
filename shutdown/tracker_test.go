package shutdown

import (
	"errors"
	"testing"
	"time"
)

func TestTracker_StartDone(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 3; i++ {
		if !tr.Start() {
			t.Fatalf("Start %d refused on open tracker", i)
		}
	}
	if tr.Active() != 3 {
		t.Errorf("Active = %d, want 3", tr.Active())
	}
	for i := 0; i < 3; i++ {
		tr.Done()
	}
	if tr.Active() != 0 {
		t.Errorf("Active = %d, want 0", tr.Active())
	}
}

func TestTracker_CloseRejects(t *testing.T) {
	tr := NewTracker()
	tr.Close()
	if !tr.IsClosed() {
		t.Error("IsClosed = false after Close")
	}
	if tr.Start() {
		t.Error("Start accepted work after Close")
	}
}

func TestTracker_Wait(t *testing.T) {
	tr := NewTracker()
	tr.Start()
	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.Done()
	}()
	if err := tr.Wait(time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestTracker_WaitTimeout(t *testing.T) {
	tr := NewTracker()
	tr.Start()
	defer tr.Done()

	err := tr.Wait(20 * time.Millisecond)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("Wait err = %v, want ErrWaitTimeout", err)
	}
}
