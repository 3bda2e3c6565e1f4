package handlers

import (
	"log"
	"net/http"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/termgate/internal/database"
	"github.com/gluk-w/termgate/internal/middleware"
	"github.com/gluk-w/termgate/internal/ticket"
)

// Tickets is set from main.go during init. The terminal WebSocket and the
// SFTP endpoints redeem tokens against the same store.
var Tickets *ticket.Store

type sshTicketResponse struct {
	HostID        uint   `json:"hostId"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	AuthPreferred string `json:"authPreferred"`
	HasPrivateKey bool   `json:"hasPrivateKey"`
	Fingerprint   string `json:"fingerprint"`
	Ticket        string `json:"ticket"`
}

type sftpTicketResponse struct {
	HostID    uint   `json:"hostId"`
	Ticket    string `json:"ticket"`
	ExpiresAt string `json:"expiresAt"`
}

// IssueSSHTicket mints a single-use ticket for an interactive terminal
// session against one of the caller's hosts. The response describes the
// target but never carries secret material; the decrypted credentials live
// only in the in-memory ticket until it is consumed or expires.
func IssueSSHTicket(w http.ResponseWriter, r *http.Request) {
	host := ownedHost(w, r)
	if host == nil {
		return
	}

	tk, err := buildTicket(host)
	if err != nil {
		log.Printf("[tickets] credential decrypt failed: host=%d err=%v", host.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to prepare credentials")
		return
	}

	token, err := Tickets.Issue(middleware.Username(r), tk)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue ticket")
		return
	}

	writeJSON(w, http.StatusOK, sshTicketResponse{
		HostID:        host.ID,
		Host:          host.Addr,
		Port:          host.Port,
		Username:      host.Username,
		AuthPreferred: string(tk.AuthMode),
		HasPrivateKey: host.HasPrivateKey(),
		Fingerprint:   keyFingerprint(tk),
		Ticket:        token,
	})
}

// IssueSFTPTicket mints a single-use ticket covering exactly one file
// operation.
func IssueSFTPTicket(w http.ResponseWriter, r *http.Request) {
	host := ownedHost(w, r)
	if host == nil {
		return
	}

	tk, err := buildTicket(host)
	if err != nil {
		log.Printf("[tickets] credential decrypt failed: host=%d err=%v", host.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to prepare credentials")
		return
	}

	token, err := Tickets.Issue(middleware.Username(r), tk)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue ticket")
		return
	}

	writeJSON(w, http.StatusOK, sftpTicketResponse{
		HostID:    host.ID,
		Ticket:    token,
		ExpiresAt: formatTimestamp(tk.ExpiresAt),
	})
}

// buildTicket decrypts the host's stored credentials into an in-memory
// ticket. Public-key auth is preferred when a key is configured.
func buildTicket(host *database.Host) (ticket.Ticket, error) {
	tk := ticket.Ticket{
		HostID:      host.ID,
		Host:        host.Addr,
		Port:        host.Port,
		SSHUsername: host.Username,
		ExpiresAt:   time.Now().Add(Tickets.TTL()),
	}

	if host.HasPrivateKey() {
		tk.AuthMode = ticket.AuthPublicKey
		key, err := Secrets.Decrypt(host.PrivateKeyEnc)
		if err != nil {
			return ticket.Ticket{}, err
		}
		tk.PrivateKeyPEM = key
		if host.PassphraseEnc != "" {
			passphrase, err := Secrets.Decrypt(host.PassphraseEnc)
			if err != nil {
				return ticket.Ticket{}, err
			}
			tk.Passphrase = passphrase
		}
		return tk, nil
	}

	tk.AuthMode = ticket.AuthPassword
	password, err := Secrets.Decrypt(host.PasswordEnc)
	if err != nil {
		return ticket.Ticket{}, err
	}
	tk.Password = password
	return tk, nil
}

// keyFingerprint derives the SHA256 fingerprint of the public half of the
// ticket's private key, for display next to the terminal. Password-only
// hosts have no fingerprint.
func keyFingerprint(tk ticket.Ticket) string {
	if tk.PrivateKeyPEM == "" {
		return ""
	}
	var signer ssh.Signer
	var err error
	if tk.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(tk.PrivateKeyPEM), []byte(tk.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(tk.PrivateKeyPEM))
	}
	if err != nil {
		return ""
	}
	return ssh.FingerprintSHA256(signer.PublicKey())
}
