package worksteal

import (
	"testing"
	"time"
)

func newTestGate() *gate {
	g := &gate{}
	g.init()
	return g
}

func TestGateTryUpdate(t *testing.T) {
	g := newTestGate()
	if got := g.getState(); got != gateEmpty {
		t.Fatalf("initial state = %d, want EMPTY", got)
	}
	if !g.tryUpdate(gateEmpty, gateFull, false) {
		t.Fatal("EMPTY -> FULL should succeed")
	}
	if g.tryUpdate(gateEmpty, gatePermanentlyOpen, false) {
		t.Fatal("stale expected value must fail without force")
	}
	if got := g.getState(); got != gateFull {
		t.Fatalf("state = %d, want FULL", got)
	}
}

func TestGateForceRespectsPermanentlyOpen(t *testing.T) {
	g := newTestGate()
	if !g.tryUpdate(gateEmpty, gatePermanentlyOpen, false) {
		t.Fatal("EMPTY -> PERMANENTLY_OPEN should succeed")
	}
	if g.tryUpdate(gateEmpty, gateFull, true) {
		t.Fatal("force must not override PERMANENTLY_OPEN")
	}
	if got := g.getState(); got != gatePermanentlyOpen {
		t.Fatalf("state = %d, want PERMANENTLY_OPEN", got)
	}
}

func TestGateSnapshotTokens(t *testing.T) {
	g := newTestGate()
	g.tryUpdate(gateEmpty, gateFull, false)
	const token = int64(7)
	if !g.tryUpdate(gateFull, token, false) {
		t.Fatal("FULL -> token should succeed")
	}
	if !g.tryUpdate(token, gateEmpty, false) {
		t.Fatal("token -> EMPTY should succeed")
	}
}

func TestGateWaitWakes(t *testing.T) {
	g := newTestGate()
	done := make(chan struct{})
	go func() {
		g.wait()
		close(done)
	}()
	// The waiter must still be blocked while EMPTY.
	select {
	case <-done:
		t.Fatal("wait returned while gate was EMPTY")
	case <-time.After(20 * time.Millisecond):
	}
	g.tryUpdate(gateEmpty, gateFull, true)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not wake after the gate became FULL")
	}
	// Non-EMPTY gate never blocks.
	g.wait()
}
