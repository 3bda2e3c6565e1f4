package sftpbridge

import (
	"fmt"
	"strings"
)

// NormalizePath canonicalizes a client-supplied remote path: backslashes
// become slashes, duplicate separators collapse, a single leading slash is
// forced and a trailing slash stripped. Any path containing ".." is
// rejected outright; traversal never reaches the remote side.
func NormalizePath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "/", nil
	}
	p = strings.ReplaceAll(p, "\\", "/")

	if strings.Contains(p, "..") {
		return "", &Error{Code: CodePathInvalid, Err: fmt.Errorf("path contains traversal sequence")}
	}

	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p, nil
}

// SanitizeFileName reduces a client-supplied file name to its basename,
// discarding any directory component. This is the defense against path
// traversal on upload: whatever the caller sends, the write lands inside
// the target directory.
func SanitizeFileName(fileName string) (string, error) {
	if strings.TrimSpace(fileName) == "" {
		return "", &Error{Code: CodePathInvalid, Err: fmt.Errorf("file name is empty")}
	}
	name := strings.ReplaceAll(fileName, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "", &Error{Code: CodePathInvalid, Err: fmt.Errorf("file name %q is invalid", fileName)}
	}
	return name, nil
}

// Join appends a name to a normalized directory path.
func Join(dir, name string) string {
	if dir == "" || dir == "/" {
		return "/" + name
	}
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}
