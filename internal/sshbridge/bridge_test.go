package sshbridge

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/termgate/internal/ticket"
)

const (
	testUser     = "root"
	testPassword = "hunter2"
)

// testSSHServer starts an in-process SSH server accepting password and
// public-key auth. Shell sessions print "welcome\n" and echo stdin back
// prefixed with "echo:".
func testSSHServer(t *testing.T, authorizedKey ssh.PublicKey) (addr string, cleanup func()) {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == testUser && string(password) == testPassword {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("wrong password")
		},
	}
	if authorizedKey != nil {
		config.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if ssh.FingerprintSHA256(key) == ssh.FingerprintSHA256(authorizedKey) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		}
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			go handleTestConnection(netConn, config)
		}
	}()

	return listener.Addr().String(), func() {
		listener.Close()
		<-done
	}
}

func handleTestConnection(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go handleTestSession(ch, requests)
	}
}

func handleTestSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			ch.Write([]byte("welcome\n"))
			go func() {
				buf := make([]byte, 4096)
				for {
					n, err := ch.Read(buf)
					if n > 0 {
						ch.Write([]byte("echo:"))
						ch.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}()
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func splitAddr(t *testing.T, addr string) Target {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return Target{Host: host, Port: port}
}

// collectSink buffers forwarded chunks and signals on each write.
type collectSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
	ch  chan struct{}
}

func newCollectSink() *collectSink {
	return &collectSink{ch: make(chan struct{}, 64)}
}

func (s *collectSink) sink(chunk []byte) error {
	s.mu.Lock()
	s.buf.Write(chunk)
	s.mu.Unlock()
	select {
	case s.ch <- struct{}{}:
	default:
	}
	return nil
}

func (s *collectSink) waitFor(t *testing.T, substr string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		s.mu.Lock()
		content := s.buf.String()
		s.mu.Unlock()
		if strings.Contains(content, substr) {
			return
		}
		select {
		case <-s.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for %q in output %q", substr, content)
		}
	}
}

func TestOpen_PasswordAuth(t *testing.T) {
	addr, cleanup := testSSHServer(t, nil)
	defer cleanup()

	h, err := Opener{}.Open(context.Background(), "conn-1", splitAddr(t, addr), Auth{
		Username: testUser,
		Mode:     ticket.AuthPassword,
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	sink := newCollectSink()
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		h.ReadLoop(sink.sink)
	}()

	sink.waitFor(t, "welcome")

	if err := h.Write([]byte("ls\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	sink.waitFor(t, "echo:ls\n")

	h.Close()
	select {
	case <-readerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not exit after Close")
	}
}

func TestOpen_PublicKeyAuth(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("convert public key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	keyPEM := string(pem.EncodeToMemory(pemBlock))

	addr, cleanup := testSSHServer(t, sshPub)
	defer cleanup()

	h, err := Opener{}.Open(context.Background(), "conn-1", splitAddr(t, addr), Auth{
		Username:      testUser,
		Mode:          ticket.AuthPublicKey,
		PrivateKeyPEM: keyPEM,
	})
	if err != nil {
		t.Fatalf("Open with key: %v", err)
	}
	h.Close()
}

func TestOpen_WrongPassword(t *testing.T) {
	addr, cleanup := testSSHServer(t, nil)
	defer cleanup()

	_, err := Opener{}.Open(context.Background(), "conn-1", splitAddr(t, addr), Auth{
		Username: testUser,
		Mode:     ticket.AuthPassword,
		Password: "wrong",
	})
	if err == nil {
		t.Fatal("expected auth error")
	}
	if code := CodeFromError(err); code != CodeAuthFailed {
		t.Errorf("CodeFromError = %s, want %s (err: %v)", code, CodeAuthFailed, err)
	}
}

func TestOpen_InvalidKeyMaterial(t *testing.T) {
	addr, cleanup := testSSHServer(t, nil)
	defer cleanup()

	_, err := Opener{}.Open(context.Background(), "conn-1", splitAddr(t, addr), Auth{
		Username:      testUser,
		Mode:          ticket.AuthPublicKey,
		PrivateKeyPEM: "not a key",
	})
	if err == nil {
		t.Fatal("expected key error")
	}
	if code := CodeFromError(err); code != CodeKeyInvalid {
		t.Errorf("CodeFromError = %s, want %s", code, CodeKeyInvalid)
	}
}

func TestOpen_ConnectionRefused(t *testing.T) {
	// Grab a free port, then close the listener so nothing is there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	target := splitAddr(t, l.Addr().String())
	l.Close()

	_, err = Opener{ConnectTimeout: 2 * time.Second}.Open(context.Background(), "conn-1", target, Auth{
		Username: testUser,
		Mode:     ticket.AuthPassword,
		Password: testPassword,
	})
	if err == nil {
		t.Fatal("expected connect error")
	}
	if code := CodeFromError(err); code != CodeHostUnreachable {
		t.Errorf("CodeFromError = %s, want %s (err: %v)", code, CodeHostUnreachable, err)
	}
}

func TestOpen_ContextCancelAbandonsDial(t *testing.T) {
	// A listener that accepts but never speaks SSH, so the handshake hangs.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = Opener{ConnectTimeout: time.Minute}.Open(ctx, "conn-1", splitAddr(t, l.Addr().String()), Auth{
		Username: testUser,
		Mode:     ticket.AuthPassword,
		Password: testPassword,
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Open did not return promptly after cancellation")
	}
}

func TestClose_Idempotent(t *testing.T) {
	addr, cleanup := testSSHServer(t, nil)
	defer cleanup()

	h, err := Opener{}.Open(context.Background(), "conn-1", splitAddr(t, addr), Auth{
		Username: testUser,
		Mode:     ticket.AuthPassword,
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	h.Close()
	h.Close() // second close must not panic or block

	select {
	case <-h.Done():
	default:
		t.Error("Done not closed after Close")
	}
}

func TestWrite_AfterCloseFails(t *testing.T) {
	addr, cleanup := testSSHServer(t, nil)
	defer cleanup()

	h, err := Opener{}.Open(context.Background(), "conn-1", splitAddr(t, addr), Auth{
		Username: testUser,
		Mode:     ticket.AuthPassword,
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h.Close()

	if err := h.Write([]byte("x")); err == nil {
		t.Error("Write after Close succeeded, want error")
	}
}

func TestRegistry_RegisterReplaceRemove(t *testing.T) {
	addr, cleanup := testSSHServer(t, nil)
	defer cleanup()

	open := func(connID string) *Handle {
		h, err := Opener{}.Open(context.Background(), connID, splitAddr(t, addr), Auth{
			Username: testUser,
			Mode:     ticket.AuthPassword,
			Password: testPassword,
		})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return h
	}

	reg := NewRegistry()

	first := open("conn-1")
	reg.Register(first)
	if reg.Get("conn-1") != first {
		t.Fatal("Get did not return registered handle")
	}

	// Replacing must close the displaced handle.
	second := open("conn-1")
	reg.Register(second)
	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("replaced handle was not closed")
	}
	if reg.Get("conn-1") != second {
		t.Fatal("registry does not hold the replacement handle")
	}

	reg.Remove("conn-1")
	if reg.Get("conn-1") != nil {
		t.Error("handle still registered after Remove")
	}
	select {
	case <-second.Done():
	default:
		t.Error("Remove did not close the handle")
	}

	// Removing again is a no-op.
	reg.Remove("conn-1")
}

func TestRegistry_CloseAll(t *testing.T) {
	addr, cleanup := testSSHServer(t, nil)
	defer cleanup()

	reg := NewRegistry()
	var handles []*Handle
	for i := 0; i < 3; i++ {
		h, err := Opener{}.Open(context.Background(), fmt.Sprintf("conn-%d", i), splitAddr(t, addr), Auth{
			Username: testUser,
			Mode:     ticket.AuthPassword,
			Password: testPassword,
		})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		reg.Register(h)
		handles = append(handles, h)
	}

	reg.CloseAll()
	if reg.Len() != 0 {
		t.Errorf("registry holds %d handles after CloseAll", reg.Len())
	}
	for _, h := range handles {
		select {
		case <-h.Done():
		default:
			t.Error("handle not closed by CloseAll")
		}
	}
}

func TestCodeFromError_Unwrapping(t *testing.T) {
	wrapped := fmt.Errorf("dial 1.2.3.4:22: %w", &Error{Code: CodeKeyInvalid, Err: fmt.Errorf("bad pem")})
	if code := CodeFromError(wrapped); code != CodeKeyInvalid {
		t.Errorf("CodeFromError = %s, want %s", code, CodeKeyInvalid)
	}
	if code := CodeFromError(nil); code != CodeInternalError {
		t.Errorf("CodeFromError(nil) = %s, want %s", code, CodeInternalError)
	}
}
