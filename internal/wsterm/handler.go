package wsterm

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/gluk-w/termgate/internal/middleware"
	"github.com/gluk-w/termgate/internal/sshbridge"
	"github.com/gluk-w/termgate/internal/ticket"
)

const readLimit = 1024 * 1024

// Handler bridges browser WebSocket connections to interactive SSH shells.
// Each connection runs a two-state machine: it waits for a connect control
// frame, establishes the bridge, then relays command frames to the shell
// and shell output back as binary frames.
type Handler struct {
	Tickets  *ticket.Store
	Registry *sshbridge.Registry
	Opener   sshbridge.Opener

	// AllowDirect permits connect frames carrying inline credentials
	// instead of a ticket token. Off by default; the ticket flow keeps
	// credentials out of the browser entirely.
	AllowDirect bool
}

type serverFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServeWS upgrades the request and runs the connection state machine until
// the client disconnects or the bridge fails.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	username := middleware.Username(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[wsterm] failed to accept websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	conn.SetReadLimit(readLimit)

	connID := uuid.NewString()
	h.serve(r.Context(), conn, connID, username)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, connID, username string) {
	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	var handle *sshbridge.Handle
	defer func() {
		// Idempotent: covers client disconnect, bridge failure and
		// remote close alike.
		h.Registry.Remove(connID)
	}()

	for {
		_, data, err := conn.Read(relayCtx)
		if err != nil {
			return
		}

		msg, err := Decode(data)
		if err != nil {
			// Parse and validation failures are reported without
			// tearing the connection down so the client can retry.
			h.writeError(relayCtx, conn, codeForDecodeError(err))
			continue
		}

		switch m := msg.(type) {
		case ConnectMessage:
			if handle != nil {
				// Already bridged; the rejection keeps the session alive.
				h.writeError(relayCtx, conn, CodeBadRequest)
				continue
			}
			opened, code := h.connect(relayCtx, connID, username, m)
			if opened == nil {
				h.writeError(relayCtx, conn, code)
				conn.Close(websocket.StatusPolicyViolation, code)
				return
			}
			handle = opened
			h.Registry.Register(handle)

			go func() {
				handle.ReadLoop(func(chunk []byte) error {
					return conn.Write(relayCtx, websocket.MessageBinary, chunk)
				})
				// Best effort: a client that is already gone makes the
				// write fail, which is fine.
				h.writeError(relayCtx, conn, sshbridge.CodeInternalError)
				relayCancel()
			}()

			if err := h.writeFrame(relayCtx, conn, serverFrame{Type: "ready"}); err != nil {
				return
			}
			log.Printf("[wsterm] bridge established: conn=%s", connID)

		case CommandMessage:
			if handle == nil {
				continue
			}
			if err := handle.Write([]byte(m.Command)); err != nil {
				log.Printf("[wsterm] shell write failed: conn=%s err=%v", connID, err)
				h.writeError(relayCtx, conn, sshbridge.CodeInternalError)
				return
			}
		}
	}
}

// connect resolves the connect message into a target and credentials and
// opens the bridge. On failure it returns a nil handle and a stable code.
func (h *Handler) connect(ctx context.Context, connID, username string, msg ConnectMessage) (*sshbridge.Handle, string) {
	var tk ticket.Ticket

	if msg.Direct() {
		if !h.AllowDirect {
			log.Printf("[wsterm] direct credentials rejected: conn=%s", connID)
			return nil, CodeUnauthorized
		}
		tk = ticket.Ticket{
			Host:          msg.Host,
			Port:          msg.Port,
			SSHUsername:   msg.Username,
			AuthMode:      msg.AuthMode,
			Password:      msg.Password,
			PrivateKeyPEM: msg.PrivateKey,
			Passphrase:    msg.Passphrase,
		}
	} else {
		if username == "" {
			return nil, CodeUnauthorized
		}
		var ok bool
		tk, ok = h.Tickets.Consume(username, msg.Ticket)
		if !ok {
			log.Printf("[wsterm] ticket rejected: conn=%s user=%s", connID, username)
			return nil, CodeTicketInvalid
		}
	}

	handle, err := h.Opener.Open(ctx, connID, sshbridge.Target{Host: tk.Host, Port: tk.Port}, sshbridge.Auth{
		Username:      tk.SSHUsername,
		Mode:          tk.AuthMode,
		Password:      tk.Password,
		PrivateKeyPEM: tk.PrivateKeyPEM,
		Passphrase:    tk.Passphrase,
	})
	if err != nil {
		code := sshbridge.CodeFromError(err)
		log.Printf("[wsterm] bridge open failed: conn=%s host=%s code=%s err=%v", connID, tk.Host, code, err)
		return nil, code
	}
	return handle, ""
}

func (h *Handler) writeError(ctx context.Context, conn *websocket.Conn, code string) {
	h.writeFrame(ctx, conn, serverFrame{Type: "error", Code: code, Message: messageOf(code)})
}

func (h *Handler) writeFrame(ctx context.Context, conn *websocket.Conn, frame serverFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func codeForDecodeError(err error) string {
	switch {
	case errors.Is(err, ErrPayloadInvalid):
		return CodeConnectPayloadInvalid
	default:
		return CodeBadRequest
	}
}

// messageOf returns the fixed user-facing message for a protocol code;
// bridge codes fall through to the sshbridge messages.
func messageOf(code string) string {
	switch code {
	case CodeBadRequest:
		return "Malformed control message"
	case CodeConnectPayloadInvalid:
		return "Connect request is missing required fields"
	case CodeUnauthorized:
		return "Not authorized to open this session"
	case CodeTicketInvalid:
		return "Ticket is invalid or expired"
	default:
		return sshbridge.MessageOf(code)
	}
}
