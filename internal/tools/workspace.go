package tools

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	agenterrors "republic/internal/errors"
)

// Workspace confines file tools to one directory tree.
type Workspace struct {
	root string
}

// NewWorkspace creates root if needed and returns a workspace rooted there.
func NewWorkspace(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a workspace-relative path to an absolute one. Absolute paths
// and any path containing ".." are rejected.
func (w *Workspace) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", agenterrors.New(agenterrors.CodeValidation, "path is required")
	}
	if strings.Contains(path, "..") {
		return "", agenterrors.New(agenterrors.CodeValidation, "path traversal not allowed: %s", path)
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return "", agenterrors.New(agenterrors.CodeValidation, "absolute paths are not allowed: %s", path)
	}
	full := filepath.Join(w.root, filepath.FromSlash(path))
	if full != w.root && !strings.HasPrefix(full, w.root+string(filepath.Separator)) {
		return "", agenterrors.New(agenterrors.CodeValidation, "path escapes workspace: %s", path)
	}
	return full, nil
}

// ReadFile returns the content of path in the requested encoding
// ("utf-8" or "base64").
func (w *Workspace) ReadFile(path, encoding string) (string, int, error) {
	full, err := w.Resolve(path)
	if err != nil {
		return "", 0, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", 0, agenterrors.Wrap(agenterrors.CodeNotFound, err, "file not found: "+path)
		}
		return "", 0, agenterrors.FromError(err)
	}
	switch normalizeEncoding(encoding) {
	case "utf-8":
		return string(data), len(data), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(data), len(data), nil
	default:
		return "", 0, agenterrors.New(agenterrors.CodeValidation, "unsupported encoding %q", encoding)
	}
}

// WriteFile replaces path with content, creating parent directories. It
// returns the previous content and whether the file existed.
func (w *Workspace) WriteFile(path, content, encoding string) (previous string, existed bool, written int, err error) {
	full, err := w.Resolve(path)
	if err != nil {
		return "", false, 0, err
	}
	var data []byte
	switch normalizeEncoding(encoding) {
	case "utf-8":
		data = []byte(content)
	case "base64":
		data, err = base64.StdEncoding.DecodeString(content)
		if err != nil {
			return "", false, 0, agenterrors.Wrap(agenterrors.CodeValidation, err, "content is not valid base64")
		}
	default:
		return "", false, 0, agenterrors.New(agenterrors.CodeValidation, "unsupported encoding %q", encoding)
	}

	if old, readErr := os.ReadFile(full); readErr == nil {
		previous, existed = string(old), true
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", false, 0, agenterrors.FromError(err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", false, 0, agenterrors.FromError(err)
	}
	return previous, existed, len(data), nil
}

func normalizeEncoding(encoding string) string {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return "utf-8"
	case "base64":
		return "base64"
	}
	return encoding
}
