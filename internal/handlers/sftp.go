package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gluk-w/termgate/internal/middleware"
	"github.com/gluk-w/termgate/internal/sftpbridge"
	"github.com/gluk-w/termgate/internal/ticket"
	"github.com/gluk-w/termgate/internal/wsterm"
)

// SFTP is set from main.go during init.
var SFTP sftpbridge.Bridge

// consumeSFTPTicket redeems the request's ticket query parameter for the
// calling identity. Every file operation burns its own ticket.
func consumeSFTPTicket(w http.ResponseWriter, r *http.Request) (ticket.Ticket, bool) {
	token := r.URL.Query().Get("ticket")
	username := middleware.Username(r)
	tk, found := Tickets.Consume(username, token)
	if !found {
		writeCode(w, http.StatusUnauthorized, wsterm.CodeTicketInvalid, "Ticket is invalid or expired")
		return ticket.Ticket{}, false
	}
	return tk, true
}

func writeSFTPError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, sftpbridge.ErrConflict) {
		writeError(w, http.StatusConflict, "File already exists at the destination")
		return
	}

	code := sftpbridge.CodeFromError(err)
	log.Printf("[sftp] %s failed: code=%s err=%v", op, code, err)
	writeCode(w, httpStatusForSFTPCode(code), code, sftpbridge.MessageOf(code))
}

func httpStatusForSFTPCode(code string) int {
	switch code {
	case sftpbridge.CodePathInvalid:
		return http.StatusBadRequest
	case sftpbridge.CodePermissionDenied:
		return http.StatusForbidden
	case sftpbridge.CodeNotFound:
		return http.StatusNotFound
	case sftpbridge.CodeConnectFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// SFTPList enumerates a remote directory.
func SFTPList(w http.ResponseWriter, r *http.Request) {
	tk, ok := consumeSFTPTicket(w, r)
	if !ok {
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}

	start := time.Now()
	entries, err := SFTP.List(r.Context(), tk, path)
	if err != nil {
		writeSFTPError(w, "list", err)
		return
	}
	log.Printf("[sftp] list host=%s entries=%d duration=%s", tk.Host, len(entries), time.Since(start))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    path,
		"entries": entries,
	})
}

// SFTPDownload streams one remote file as an attachment.
func SFTPDownload(w http.ResponseWriter, r *http.Request) {
	tk, ok := consumeSFTPTicket(w, r)
	if !ok {
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		writeCode(w, http.StatusBadRequest, sftpbridge.CodePathInvalid, sftpbridge.MessageOf(sftpbridge.CodePathInvalid))
		return
	}

	normalized, err := sftpbridge.NormalizePath(path)
	if err != nil {
		writeSFTPError(w, "download", err)
		return
	}
	_, name := splitBase(normalized)

	// Open the remote file before committing to a response so connect and
	// open failures still map to a proper error status.
	start := time.Now()
	stream, err := SFTP.Download(r.Context(), tk, normalized)
	if err != nil {
		writeSFTPError(w, "download", err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))

	if _, err := io.Copy(w, stream); err != nil {
		// Mid-stream failure: the status is already out, the truncated
		// body is the best signal left for the client.
		log.Printf("[sftp] download failed: path=%s err=%v", normalized, err)
		return
	}
	log.Printf("[sftp] download host=%s path=%s duration=%s", tk.Host, normalized, time.Since(start))
}

// SFTPUpload stores one multipart file into a remote directory.
func SFTPUpload(w http.ResponseWriter, r *http.Request) {
	tk, ok := consumeSFTPTicket(w, r)
	if !ok {
		return
	}

	targetDir := r.URL.Query().Get("targetDir")
	if targetDir == "" {
		writeCode(w, http.StatusBadRequest, sftpbridge.CodePathInvalid, sftpbridge.MessageOf(sftpbridge.CodePathInvalid))
		return
	}
	overwrite := r.URL.Query().Get("overwrite") == "true"

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	start := time.Now()
	res, err := SFTP.Upload(r.Context(), tk, targetDir, header.Filename, file, overwrite)
	if err != nil {
		writeSFTPError(w, "upload", err)
		return
	}
	log.Printf("[sftp] upload host=%s path=%s size=%d duration=%s", tk.Host, res.RemotePath, res.Size, time.Since(start))

	writeJSON(w, http.StatusOK, res)
}

func splitBase(path string) (dir, name string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return "", path
}
