package registry

import (
	"errors"
	"testing"
)

type fakeHandle struct {
	closeErr error
	closed   bool
}

func (f *fakeHandle) Close() error {
	f.closed = true
	return f.closeErr
}

func TestRegisterUnregisterTracksLen(t *testing.T) {
	r := New()
	r.Register("a", &fakeHandle{})
	r.Register("b", &fakeHandle{})
	if r.Len() != 2 {
		t.Fatalf("expected 2 handles, got %d", r.Len())
	}
	r.Unregister("a")
	if r.Len() != 1 {
		t.Fatalf("expected 1 handle after unregister, got %d", r.Len())
	}
}

func TestCloseAllClosesEveryHandleAndEmpties(t *testing.T) {
	r := New()
	h1 := &fakeHandle{}
	h2 := &fakeHandle{closeErr: errors.New("boom")}
	r.Register("a", h1)
	r.Register("b", h2)

	errs := r.CloseAll()
	if len(errs) != 1 {
		t.Fatalf("expected exactly 1 error collected, got %d", len(errs))
	}
	if !h1.closed || !h2.closed {
		t.Fatal("expected both handles closed despite one failing")
	}
	if r.Len() != 0 {
		t.Fatal("expected registry empty after CloseAll")
	}
}
