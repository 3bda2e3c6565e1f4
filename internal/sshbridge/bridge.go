// Package sshbridge owns the SSH session and shell-channel lifecycle for one
// bridged client connection: connect, pump remote output to the client, pump
// client input to the remote shell, teardown.
//
// It wraps golang.org/x/crypto/ssh. One Handle exists per bridged client
// connection; a single background reader goroutine per handle forwards shell
// output verbatim to the client sink. All other operations run on the calling
// connection's goroutine.
package sshbridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/termgate/internal/ticket"
)

// DefaultConnectTimeout bounds TCP connect plus SSH handshake and auth so an
// unresponsive target cannot pin gateway resources.
const DefaultConnectTimeout = 5 * time.Second

// readBufferSize is the chunk size for the shell output reader.
const readBufferSize = 32 * 1024

// Target identifies the remote endpoint of a bridge.
type Target struct {
	Host string
	Port int
}

func (t Target) addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Auth holds the authentication material for one connection attempt. The
// private key is loaded from memory, never from disk.
type Auth struct {
	Username      string
	Mode          ticket.AuthMode
	Password      string
	PrivateKeyPEM string
	Passphrase    string
}

// OutputSink receives remote shell output chunks, verbatim. Chunks may split
// UTF-8 sequences or ANSI control sequences; the sink must pass bytes
// through unmodified.
type OutputSink func(chunk []byte) error

// Handle is a live bridge: an authenticated SSH client plus an interactive
// shell channel. Safe for concurrent Write/Close with the reader goroutine.
type Handle struct {
	// ConnID is the client connection identifier this bridge belongs to.
	ConnID string

	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	closeOnce sync.Once
	closed    chan struct{}
}

// Opener establishes bridges. The struct form lets tests substitute timeouts.
type Opener struct {
	ConnectTimeout time.Duration
}

// Dial connects to the target and authenticates per auth, bounded by
// timeout. ctx cancellation abandons an in-flight attempt rather than
// awaiting it. Shared by the SSH and SFTP bridges.
func Dial(ctx context.Context, target Target, auth Auth, timeout time.Duration) (*ssh.Client, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	method, err := authMethod(auth)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            auth.Username,
		Auth:            []ssh.AuthMethod{method},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	dialDone := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", target.addr(), config)
		dialDone <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		// The dial goroutine closes the client if it eventually succeeds.
		go func() {
			if res := <-dialDone; res.client != nil {
				res.client.Close()
			}
		}()
		return nil, fmt.Errorf("dial %s: %w", target.addr(), ctx.Err())
	case res := <-dialDone:
		if res.err != nil {
			return nil, fmt.Errorf("dial %s: %w", target.addr(), res.err)
		}
		return res.client, nil
	}
}

// Open connects to the target, authenticates per auth, and starts an
// interactive shell with a PTY. The whole sequence is bounded by the connect
// timeout; ctx cancellation abandons an in-flight attempt.
func (o Opener) Open(ctx context.Context, connID string, target Target, auth Auth) (*Handle, error) {
	client, err := Dial(ctx, target, auth, o.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", 24, 80, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &Handle{
		ConnID:  connID,
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		closed:  make(chan struct{}),
	}, nil
}

func authMethod(auth Auth) (ssh.AuthMethod, error) {
	if auth.Mode == ticket.AuthPublicKey {
		var signer ssh.Signer
		var err error
		if auth.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(auth.PrivateKeyPEM), []byte(auth.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(auth.PrivateKeyPEM))
		}
		if err != nil {
			return nil, &Error{Code: CodeKeyInvalid, Err: err}
		}
		return ssh.PublicKeys(signer), nil
	}
	return ssh.Password(auth.Password), nil
}

// ReadLoop blocks reading shell output and forwards each chunk to sink. It
// returns when the remote side closes, an I/O error occurs, or the handle is
// closed. Run it on its own goroutine, one per handle.
func (h *Handle) ReadLoop(sink OutputSink) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := h.stdout.Read(buf)
		if n > 0 {
			if sinkErr := sink(buf[:n]); sinkErr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("[sshbridge] conn=%s shell read ended: %v", h.ConnID, err)
			}
			return
		}
	}
}

// Write sends client input to the remote shell's stdin. Callers treat a
// write failure as fatal for the bridge.
func (h *Handle) Write(data []byte) error {
	if _, err := h.stdin.Write(data); err != nil {
		return fmt.Errorf("write to shell: %w", err)
	}
	return nil
}

// Close disconnects the shell channel and the underlying transport. It is
// idempotent and safe to call concurrently with an in-flight ReadLoop, which
// observes the resulting I/O error and exits.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.session.Close()
		h.client.Close()
	})
}

// Done is closed once the handle has been torn down.
func (h *Handle) Done() <-chan struct{} {
	return h.closed
}
