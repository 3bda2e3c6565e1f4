package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/termgate/internal/database"
	"github.com/gluk-w/termgate/internal/middleware"
	"github.com/gluk-w/termgate/internal/secrets"
)

// Secrets is set from main.go during init. Host credentials are encrypted
// with it before they touch the database.
var Secrets *secrets.Service

type hostRequest struct {
	Name       string `json:"name"`
	Addr       string `json:"addr"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	PrivateKey string `json:"private_key"`
	Passphrase string `json:"passphrase"`
}

type hostResponse struct {
	ID            uint   `json:"id"`
	Name          string `json:"name"`
	Addr          string `json:"addr"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	HasPassword   bool   `json:"has_password"`
	HasPrivateKey bool   `json:"has_private_key"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toHostResponse(h *database.Host) hostResponse {
	return hostResponse{
		ID:            h.ID,
		Name:          h.Name,
		Addr:          h.Addr,
		Port:          h.Port,
		Username:      h.Username,
		HasPassword:   h.PasswordEnc != "",
		HasPrivateKey: h.HasPrivateKey(),
		CreatedAt:     formatTimestamp(h.CreatedAt),
		UpdatedAt:     formatTimestamp(h.UpdatedAt),
	}
}

// ownedHost loads the host from the URL and verifies the caller owns it.
// Foreign hosts read as not-found so existence is not revealed.
func ownedHost(w http.ResponseWriter, r *http.Request) *database.Host {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid host ID")
		return nil
	}

	host, err := database.GetHostByID(uint(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "Host not found")
		return nil
	}
	if host.CreatedBy != middleware.Username(r) {
		writeError(w, http.StatusNotFound, "Host not found")
		return nil
	}
	return host
}

func ListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := database.ListHostsByOwner(middleware.Username(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list hosts")
		return
	}

	resp := make([]hostResponse, 0, len(hosts))
	for i := range hosts {
		resp = append(resp, toHostResponse(&hosts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func GetHost(w http.ResponseWriter, r *http.Request) {
	host := ownedHost(w, r)
	if host == nil {
		return
	}
	writeJSON(w, http.StatusOK, toHostResponse(host))
}

func CreateHost(w http.ResponseWriter, r *http.Request) {
	var body hostRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Name == "" || body.Addr == "" || body.Username == "" {
		writeError(w, http.StatusBadRequest, "Name, addr and username are required")
		return
	}
	if body.Password == "" && body.PrivateKey == "" {
		writeError(w, http.StatusBadRequest, "A password or a private key is required")
		return
	}
	if body.Port == 0 {
		body.Port = 22
	}
	if body.Port < 1 || body.Port > 65535 {
		writeError(w, http.StatusBadRequest, "Port out of range")
		return
	}

	host := &database.Host{
		Name:      body.Name,
		Addr:      body.Addr,
		Port:      body.Port,
		Username:  body.Username,
		CreatedBy: middleware.Username(r),
	}
	if err := encryptCredentials(host, &body); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encrypt credentials")
		return
	}

	if err := database.CreateHost(host); err != nil {
		log.Printf("[hosts] create failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create host")
		return
	}
	writeJSON(w, http.StatusCreated, toHostResponse(host))
}

func UpdateHost(w http.ResponseWriter, r *http.Request) {
	host := ownedHost(w, r)
	if host == nil {
		return
	}

	var body hostRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if body.Name != "" {
		host.Name = body.Name
	}
	if body.Addr != "" {
		host.Addr = body.Addr
	}
	if body.Port != 0 {
		if body.Port < 1 || body.Port > 65535 {
			writeError(w, http.StatusBadRequest, "Port out of range")
			return
		}
		host.Port = body.Port
	}
	if body.Username != "" {
		host.Username = body.Username
	}
	// Credential fields are replace-only: an empty field leaves the stored
	// value untouched.
	if err := encryptCredentials(host, &body); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encrypt credentials")
		return
	}

	if err := database.UpdateHost(host); err != nil {
		log.Printf("[hosts] update failed: id=%d err=%v", host.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to update host")
		return
	}
	writeJSON(w, http.StatusOK, toHostResponse(host))
}

func DeleteHost(w http.ResponseWriter, r *http.Request) {
	host := ownedHost(w, r)
	if host == nil {
		return
	}
	if err := database.DeleteHost(host.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete host")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func encryptCredentials(host *database.Host, body *hostRequest) error {
	if body.Password != "" {
		enc, err := Secrets.Encrypt(body.Password)
		if err != nil {
			return err
		}
		host.PasswordEnc = enc
	}
	if body.PrivateKey != "" {
		enc, err := Secrets.Encrypt(body.PrivateKey)
		if err != nil {
			return err
		}
		host.PrivateKeyEnc = enc
	}
	if body.Passphrase != "" {
		enc, err := Secrets.Encrypt(body.Passphrase)
		if err != nil {
			return err
		}
		host.PassphraseEnc = enc
	}
	return nil
}
