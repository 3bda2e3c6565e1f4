package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gluk-w/termgate/internal/sftpbridge"
	"github.com/gluk-w/termgate/internal/ticket"
	"github.com/gluk-w/termgate/internal/wsterm"
)

func TestSFTPListRejectsUnknownTicket(t *testing.T) {
	setupServices(t)

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/api/v1/sftp/list?ticket=bogus&path=/tmp", nil), "alice", nil)
	rec := httptest.NewRecorder()
	SFTPList(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["code"] != wsterm.CodeTicketInvalid {
		t.Errorf("code = %q, want %s", resp["code"], wsterm.CodeTicketInvalid)
	}
}

func TestSFTPTicketBoundToIdentity(t *testing.T) {
	setupServices(t)

	token, err := Tickets.Issue("alice", ticket.Ticket{
		Host: "10.0.0.5", Port: 22, SSHUsername: "root",
		AuthMode: ticket.AuthPassword, Password: "pw",
		ExpiresAt: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// A different identity presenting the stolen token is rejected and the
	// token is burned for the rightful owner too.
	req := authedRequest(httptest.NewRequest(http.MethodGet, "/api/v1/sftp/list?ticket="+token+"&path=/", nil), "mallory", nil)
	rec := httptest.NewRecorder()
	SFTPList(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if _, ok := Tickets.Consume("alice", token); ok {
		t.Error("stolen token survived a foreign redemption attempt")
	}
}

func TestSFTPListRejectsTraversalPath(t *testing.T) {
	setupServices(t)

	token, _ := Tickets.Issue("alice", ticket.Ticket{
		Host: "10.0.0.5", Port: 22, SSHUsername: "root",
		AuthMode: ticket.AuthPassword, Password: "pw",
		ExpiresAt: time.Now().Add(time.Minute),
	})

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/api/v1/sftp/list?ticket="+token+"&path=/tmp/../etc", nil), "alice", nil)
	rec := httptest.NewRecorder()
	SFTPList(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["code"] != sftpbridge.CodePathInvalid {
		t.Errorf("code = %q, want %s", resp["code"], sftpbridge.CodePathInvalid)
	}
}

func TestSFTPDownloadFailureReturnsErrorStatus(t *testing.T) {
	setupServices(t)

	// Nothing listens on port 1, so the download fails before a single
	// body byte. The client must see a real error status, not a 200 with
	// attachment headers and an empty body.
	token, _ := Tickets.Issue("alice", ticket.Ticket{
		Host: "127.0.0.1", Port: 1, SSHUsername: "root",
		AuthMode: ticket.AuthPassword, Password: "pw",
		ExpiresAt: time.Now().Add(time.Minute),
	})

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/api/v1/sftp/download?ticket="+token+"&path=/tmp/report.txt", nil), "alice", nil)
	rec := httptest.NewRecorder()
	SFTPDownload(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != "" {
		t.Errorf("error response carries attachment header: %q", got)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["code"] != sftpbridge.CodeConnectFailed {
		t.Errorf("code = %q, want %s", resp["code"], sftpbridge.CodeConnectFailed)
	}
}

func TestHTTPStatusForSFTPCode(t *testing.T) {
	cases := map[string]int{
		sftpbridge.CodePathInvalid:      http.StatusBadRequest,
		sftpbridge.CodePermissionDenied: http.StatusForbidden,
		sftpbridge.CodeNotFound:         http.StatusNotFound,
		sftpbridge.CodeConnectFailed:    http.StatusBadGateway,
		sftpbridge.CodeIOError:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := httpStatusForSFTPCode(code); got != want {
			t.Errorf("httpStatusForSFTPCode(%s) = %d, want %d", code, got, want)
		}
	}
}
