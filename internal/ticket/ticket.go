// Package ticket implements short-lived, single-use, identity-bound tickets
// for the remote-access gateway.
//
// A ticket carries a target host's connection parameters and decrypted
// credentials. It exists only in gateway memory: the REST layer issues one
// and hands the caller an opaque token; the WebSocket or SFTP layer redeems
// the token exactly once to establish the remote session. Tokens expire
// quickly (60s by default) to bound the exposure window if one leaks.
package ticket

import "time"

// AuthMode selects which credential field of a Ticket is meaningful.
type AuthMode string

const (
	AuthPassword  AuthMode = "password"
	AuthPublicKey AuthMode = "publicKey"
)

// Ticket is an immutable bundle of connection parameters and decrypted
// credentials for one remote session. It must never appear in any
// client-visible response or in logs.
type Ticket struct {
	HostID      uint
	Host        string
	Port        int
	SSHUsername string

	// AuthMode selects password or publicKey authentication. Exactly one of
	// Password or PrivateKeyPEM is meaningful.
	AuthMode      AuthMode
	Password      string
	PrivateKeyPEM string
	Passphrase    string

	ExpiresAt time.Time
}

// Expired reports whether the ticket's validity window has passed.
func (t Ticket) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}
