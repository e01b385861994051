package reactor

import "testing"

func TestNewBackendKeyIsUniqueAndMonotonicPID(t *testing.T) {
	a := newBackendKey()
	b := newBackendKey()
	if a.PID == b.PID {
		t.Fatal("pidCounter should advance between allocations")
	}
	if b.PID != a.PID+1 {
		t.Fatalf("pid = %d then %d, want consecutive", a.PID, b.PID)
	}
	if a.Secret == b.Secret {
		t.Fatal("two secrets drawn from crypto/rand should not collide")
	}
	if a.PID == 0 || b.PID == 0 {
		t.Fatal("pid must not be zero")
	}
}
