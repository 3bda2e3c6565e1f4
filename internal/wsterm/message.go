package wsterm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gluk-w/termgate/internal/ticket"
)

// Stable error codes for the control protocol itself. Bridge failures reuse
// the sshbridge codes.
const (
	CodeBadRequest            = "BAD_REQUEST"
	CodeConnectPayloadInvalid = "CONNECT_PAYLOAD_INVALID"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeTicketInvalid         = "TICKET_INVALID"
)

// ErrMalformed means the frame could not be parsed as a control message at
// all. ErrPayloadInvalid means a connect frame parsed but its fields do not
// form a usable connect request.
var (
	ErrMalformed      = errors.New("malformed control message")
	ErrPayloadInvalid = errors.New("invalid connect payload")
)

// ControlMessage is the closed set of client control frames. Frames are
// decoded exactly once at the connection boundary; everything past Decode
// works with one of the two typed variants.
type ControlMessage interface {
	isControlMessage()
}

// ConnectMessage requests bridge establishment, either by redeeming a
// ticket token or (legacy) by carrying credentials directly.
type ConnectMessage struct {
	Ticket string

	Host       string
	Port       int
	Username   string
	AuthMode   ticket.AuthMode
	Password   string
	PrivateKey string
	Passphrase string
}

func (ConnectMessage) isControlMessage() {}

// Direct reports whether the message carries inline credentials instead of
// a ticket token.
func (m ConnectMessage) Direct() bool { return m.Ticket == "" }

// CommandMessage carries raw bytes destined for the remote shell's stdin.
type CommandMessage struct {
	Command string
}

func (CommandMessage) isControlMessage() {}

type controlEnvelope struct {
	Operate    string `json:"operate"`
	Ticket     string `json:"ticket"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	AuthType   string `json:"authType"`
	Password   string `json:"password"`
	PrivateKey string `json:"privateKey"`
	Passphrase string `json:"passphrase"`
	Command    string `json:"command"`
}

// Decode parses a client frame into a control message. Unparseable frames
// and unknown operations return ErrMalformed; a connect frame with unusable
// fields returns ErrPayloadInvalid.
func Decode(data []byte) (ControlMessage, error) {
	var env controlEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Operate {
	case "connect":
		return decodeConnect(env)
	case "command":
		return CommandMessage{Command: env.Command}, nil
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrMalformed, env.Operate)
	}
}

func decodeConnect(env controlEnvelope) (ControlMessage, error) {
	if env.Ticket != "" {
		return ConnectMessage{Ticket: env.Ticket}, nil
	}

	msg := ConnectMessage{
		Host:       env.Host,
		Port:       env.Port,
		Username:   env.Username,
		AuthMode:   ticket.AuthMode(env.AuthType),
		Password:   env.Password,
		PrivateKey: env.PrivateKey,
		Passphrase: env.Passphrase,
	}
	if msg.Port == 0 {
		msg.Port = 22
	}

	switch {
	case msg.Host == "":
		return nil, fmt.Errorf("%w: host is required", ErrPayloadInvalid)
	case msg.Port < 1 || msg.Port > 65535:
		return nil, fmt.Errorf("%w: port out of range", ErrPayloadInvalid)
	case msg.Username == "":
		return nil, fmt.Errorf("%w: username is required", ErrPayloadInvalid)
	}

	switch msg.AuthMode {
	case ticket.AuthPassword:
		if msg.Password == "" {
			return nil, fmt.Errorf("%w: password is required", ErrPayloadInvalid)
		}
	case ticket.AuthPublicKey:
		if msg.PrivateKey == "" {
			return nil, fmt.Errorf("%w: private key is required", ErrPayloadInvalid)
		}
	default:
		return nil, fmt.Errorf("%w: unknown auth type %q", ErrPayloadInvalid, env.AuthType)
	}

	return msg, nil
}
