package reactor

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"

	"gfx.cafe/gfx/pgwired/session"
)

// pidCounter hands out the synthetic per-session "backend pid" half of a
// BackendKey. A single pgwired process serves every session from its own
// goroutine rather than forking, so there is no real OS pid to report per
// session the way upstream postgres does; a monotonically increasing
// counter, seeded from OS entropy rather than 0, makes the first value
// unpredictable instead of a sequence starting at 1. Later values follow
// the seed one by one, so unlike the secret they are guessable from an
// earlier one.
var pidCounter uint32

func init() {
	var seed [4]byte
	_, _ = rand.Read(seed[:])
	atomic.StoreUint32(&pidCounter, binary.BigEndian.Uint32(seed[:])&0x7fffffff)
}

// newBackendKey mints a fresh (pid, secret) pair. The secret is drawn
// from crypto/rand, not libc rand() seeded from pid+fd, so a peer cannot
// feasibly guess another session's cancel key.
func newBackendKey() session.BackendKey {
	var secretBuf [4]byte
	_, _ = rand.Read(secretBuf[:])
	return session.BackendKey{
		PID:    atomic.AddUint32(&pidCounter, 1),
		Secret: binary.BigEndian.Uint32(secretBuf[:]),
	}
}
