package auth

import "testing"

func TestEncodeMD5(t *testing.T) {
	cases := []struct {
		username, password string
		salt                [4]byte
		want                string
	}{
		{"postgres", "password", [4]byte{0x01, 0x02, 0x03, 0x04}, "md598511ceaec347a656f032c7f2a16ef17"},
		{"alice", "s3cr3t", [4]byte{0xde, 0xad, 0xbe, 0xef}, "md5f4ae1027427ba7f70c4ff1f49b2de6b2"},
		{"bob", "hunter2", [4]byte{0, 0, 0, 0}, "md5ef8637832874e106539840b04952ecb7"},
		{"", "", [4]byte{0xff, 0xff, 0xff, 0xff}, "md56c015adddfd3e0f4ffb71ca341ac82eb"},
	}
	for _, c := range cases {
		got := EncodeMD5(c.username, c.password, c.salt)
		if got != c.want {
			t.Errorf("EncodeMD5(%q, %q, %v) = %q, want %q", c.username, c.password, c.salt, got, c.want)
		}
		if len(got) != 35 || got[:3] != "md5" {
			t.Errorf("EncodeMD5(%q, %q, %v) = %q, want 35-byte md5-prefixed hash", c.username, c.password, c.salt, got)
		}
		if !CheckMD5(c.username, c.password, c.salt, got) {
			t.Errorf("CheckMD5 rejected its own EncodeMD5 output for %q/%q", c.username, c.password)
		}
	}
}

func TestCheckMD5Rejects(t *testing.T) {
	salt := [4]byte{1, 2, 3, 4}
	hash := EncodeMD5("postgres", "correct-password", salt)
	if CheckMD5("postgres", "wrong-password", salt, hash) {
		t.Fatal("CheckMD5 accepted a hash computed from a different password")
	}
	var otherSalt [4]byte = [4]byte{5, 6, 7, 8}
	if CheckMD5("postgres", "correct-password", otherSalt, hash) {
		t.Fatal("CheckMD5 accepted a hash computed with a different salt")
	}
}
