package auth

import (
	"crypto/md5" //nolint:gosec // MD5 is mandated by the PostgreSQL wire protocol, not chosen for security
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// newSalt draws a fresh per-connection MD5 salt from crypto/rand rather
// than libc rand(), the same reasoning as the backend key secret.
func newSalt() ([4]byte, error) {
	var salt [4]byte
	_, err := rand.Read(salt[:])
	return salt, err
}

// EncodeMD5 computes PostgreSQL's double-MD5 password hash:
// "md5" + hex(md5(hex(md5(password+username)) + salt)).
func EncodeMD5(username, password string, salt [4]byte) string {
	h := md5.New() //nolint:gosec
	h.Write([]byte(password))
	h.Write([]byte(username))
	inner := hexEncode(h.Sum(nil))

	h.Reset()
	h.Write(inner)
	h.Write(salt[:])
	outer := hexEncode(h.Sum(nil))

	var sb strings.Builder
	sb.Grow(3 + len(outer))
	sb.WriteString("md5")
	sb.Write(outer)
	return sb.String()
}

// CheckMD5 reports whether value is the expected EncodeMD5 result for
// the given username/password/salt.
func CheckMD5(username, password string, salt [4]byte, value string) bool {
	return EncodeMD5(username, password, salt) == value
}

func hexEncode(b []byte) []byte {
	out := make([]byte, hex.EncodedLen(len(b)))
	hex.Encode(out, b)
	return out
}
