package auth

import (
	"crypto/rand"

	"github.com/minio/sha256-simd"

	"gfx.cafe/ghalliday1/scram"
)

// ScramServer adapts a plaintext password to SCRAM-SHA-256 server-side
// verification using gfx.cafe/ghalliday1/scram, the way
// credentials.Cleartext does for the upstream pooler: the conversation's
// key lookup recomputes a fresh random salt and the SCRAM key schedule
// for every attempt, so no salted verifier is persisted.
type ScramServer struct {
	Password string
	Iters    int
}

func (ScramServer) Credentials() {}

func (s ScramServer) SupportedSASLMechanisms() []SASLMechanism {
	return []SASLMechanism{ScramSHA256}
}

func (s ScramServer) VerifySASL(mechanism SASLMechanism) (SASLVerifier, error) {
	if mechanism != ScramSHA256 {
		return nil, ErrSASLMechanismNotSupported
	}
	iters := s.Iters
	if iters == 0 {
		iters = 4096
	}
	hasher := scram.Hasher(sha256.New)
	return &scram.ServerConversation{
		Lookup: func(string) (scram.ServerKeys, bool) {
			var salt [32]byte
			if _, err := rand.Read(salt[:]); err != nil {
				return scram.ServerKeys{}, false
			}
			keyInfo := scram.KeyInfo{Salt: salt[:], Iters: iters, Hasher: hasher}
			saltedPassword := hasher.SaltedPassword([]byte(s.Password), keyInfo.Salt, keyInfo.Iters)
			serverKey := hasher.ServerKey(saltedPassword)
			clientKey := hasher.ClientKey(saltedPassword)
			storedKey := hasher.StoredKey(clientKey)
			return scram.ServerKeys{ServerKey: serverKey, StoredKey: storedKey, KeyInfo: keyInfo}, true
		},
	}, nil
}

var _ Credentials = ScramServer{}
var _ SASLServer = ScramServer{}
