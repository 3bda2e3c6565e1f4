// Package sftpbridge performs SFTP file operations against remote hosts.
//
// Unlike the SSH bridge there is no persistent per-connection state: each
// operation redeems a ticket, opens a short-lived SSH+SFTP session, does one
// unit of work and closes. A ticket covers exactly one operation; the next
// one needs a fresh ticket from the REST endpoint.
package sftpbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/termgate/internal/sshbridge"
	"github.com/gluk-w/termgate/internal/ticket"
)

// EntryType classifies a directory entry.
type EntryType string

const (
	TypeFile  EntryType = "file"
	TypeDir   EntryType = "dir"
	TypeLink  EntryType = "link"
	TypeOther EntryType = "other"
)

// Entry is one remote directory listing item.
type Entry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Type        EntryType `json:"type"`
	Size        int64     `json:"size"`
	Mtime       time.Time `json:"mtime"`
	Permissions string    `json:"permissions"`
}

// UploadResult reports where an upload landed and how many bytes were
// transferred.
type UploadResult struct {
	RemotePath string `json:"remotePath"`
	Size       int64  `json:"size"`
}

// Bridge opens one short-lived SFTP session per operation.
type Bridge struct {
	ConnectTimeout time.Duration
}

type session struct {
	client *ssh.Client
	sftp   *sftp.Client
}

func (s *session) close() {
	if s.sftp != nil {
		s.sftp.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
}

func (b Bridge) open(ctx context.Context, tk ticket.Ticket) (*session, error) {
	client, err := sshbridge.Dial(ctx, sshbridge.Target{Host: tk.Host, Port: tk.Port}, sshbridge.Auth{
		Username:      tk.SSHUsername,
		Mode:          tk.AuthMode,
		Password:      tk.Password,
		PrivateKeyPEM: tk.PrivateKeyPEM,
		Passphrase:    tk.Passphrase,
	}, b.ConnectTimeout)
	if err != nil {
		return nil, &Error{Code: CodeConnectFailed, Err: err}
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, &Error{Code: CodeConnectFailed, Err: fmt.Errorf("open sftp subsystem: %w", err)}
	}
	return &session{client: client, sftp: sftpClient}, nil
}

// List enumerates the entries of a remote directory, directories first and
// then case-insensitively by name. "." and ".." are skipped.
func (b Bridge) List(ctx context.Context, tk ticket.Ticket, path string) ([]Entry, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	sess, err := b.open(ctx, tk)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	infos, err := sess.sftp.ReadDir(normalized)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", normalized, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if name == "" || name == "." || name == ".." {
			continue
		}
		entries = append(entries, Entry{
			Name:        name,
			Path:        Join(normalized, name),
			Type:        classify(info),
			Size:        info.Size(),
			Mtime:       info.ModTime(),
			Permissions: info.Mode().String(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if (entries[i].Type == TypeDir) != (entries[j].Type == TypeDir) {
			return entries[i].Type == TypeDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	return entries, nil
}

// Download opens the remote file at path for streaming. All failure modes
// that can be detected up front (bad path, unreachable host, missing or
// unreadable file) surface here, before the caller commits to a response.
// The returned ReadCloser owns the session; Close releases both the file
// and the underlying connection.
func (b Bridge) Download(ctx context.Context, tk ticket.Ticket, path string) (io.ReadCloser, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	sess, err := b.open(ctx, tk)
	if err != nil {
		return nil, err
	}

	f, err := sess.sftp.Open(normalized)
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("open %s: %w", normalized, err)
	}
	return &downloadStream{file: f, sess: sess}, nil
}

type downloadStream struct {
	file *sftp.File
	sess *session
}

func (d *downloadStream) Read(p []byte) (int, error) {
	return d.file.Read(p)
}

func (d *downloadStream) Close() error {
	err := d.file.Close()
	d.sess.close()
	return err
}

// Upload streams source to targetDir/fileName. The file name is reduced to
// its basename first, so a crafted name cannot escape the target directory.
// With overwrite false an existing destination fails with ErrConflict
// before any bytes are transferred.
func (b Bridge) Upload(ctx context.Context, tk ticket.Ticket, targetDir, fileName string, source io.Reader, overwrite bool) (UploadResult, error) {
	dir, err := NormalizePath(targetDir)
	if err != nil {
		return UploadResult{}, err
	}
	name, err := SanitizeFileName(fileName)
	if err != nil {
		return UploadResult{}, err
	}
	remotePath := Join(dir, name)

	sess, err := b.open(ctx, tk)
	if err != nil {
		return UploadResult{}, err
	}
	defer sess.close()

	if !overwrite {
		switch _, err := sess.sftp.Stat(remotePath); {
		case err == nil:
			return UploadResult{}, fmt.Errorf("upload %s: %w", remotePath, ErrConflict)
		case !errors.Is(err, os.ErrNotExist):
			// Anything other than "absent" means the conflict check did not
			// run; do not fall through to a truncating open.
			return UploadResult{}, fmt.Errorf("stat %s: %w", remotePath, err)
		}
	}

	f, err := sess.sftp.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return UploadResult{}, fmt.Errorf("create %s: %w", remotePath, err)
	}

	n, err := io.Copy(f, source)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", remotePath, err)
	}

	return UploadResult{RemotePath: remotePath, Size: n}, nil
}

func classify(info os.FileInfo) EntryType {
	mode := info.Mode()
	switch {
	case mode.IsDir():
		return TypeDir
	case mode&os.ModeSymlink != 0:
		return TypeLink
	case mode.IsRegular():
		return TypeFile
	default:
		return TypeOther
	}
}
