package database

import "time"

// Host is an inventory entry for a remote machine reachable over SSH.
// Credential fields hold blobs produced by the secrets service; plaintext
// never touches the database.
type Host struct {
	ID       uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string `gorm:"not null;size:128" json:"name"`
	Addr     string `gorm:"not null" json:"addr"`
	Port     int    `gorm:"not null;default:22" json:"port"`
	Username string `gorm:"not null" json:"username"`

	PasswordEnc   string `json:"-"`
	PrivateKeyEnc string `gorm:"type:text" json:"-"`
	PassphraseEnc string `json:"-"`

	// CreatedBy is the username of the owning account. Ticket issuance is
	// restricted to the owner.
	CreatedBy string `gorm:"index;not null" json:"created_by"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasPrivateKey reports whether a private key is configured for the host.
func (h *Host) HasPrivateKey() bool {
	return h.PrivateKeyEnc != ""
}

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null;default:user" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
