package auth

// Trust accepts any connection with no challenge at all. It is the
// collaborator the emulator runs with when no authentication has been
// configured — testing-only, the Go equivalent of the reference
// emulator's pg_default_password_callback, which answers AuthenticationOk
// to anything. Deliberately implements only Credentials: if it also
// satisfied CleartextServer or MD5Server, the StartupHandler's type
// switch would issue a password challenge instead of skipping straight
// to AuthenticationOk.
type Trust struct{}

func (Trust) Credentials() {}

var _ Credentials = Trust{}
