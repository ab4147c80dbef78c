package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "republic/internal/errors"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)
	return ws
}

func TestWorkspaceRejectsEscapes(t *testing.T) {
	ws := newTestWorkspace(t)
	for _, path := range []string{"", "../secret", "a/../../b", "/etc/passwd", "dir/..hidden"} {
		_, err := ws.Resolve(path)
		if err == nil {
			t.Fatalf("Resolve(%q) succeeded, want error", path)
		}
		assert.Equal(t, agenterrors.CodeValidation, agenterrors.CodeOf(err), "path %q", path)
	}

	full, err := ws.Resolve("site/index.html")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root(), "site", "index.html"), full)
}

func TestWorkspaceWriteThenRead(t *testing.T) {
	ws := newTestWorkspace(t)

	previous, existed, written, err := ws.WriteFile("site/index.html", "<h1>hi</h1>", "")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Empty(t, previous)
	assert.Equal(t, 11, written)

	previous, existed, _, err = ws.WriteFile("site/index.html", "<h1>bye</h1>", "utf-8")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "<h1>hi</h1>", previous)

	content, size, err := ws.ReadFile("site/index.html", "utf8")
	require.NoError(t, err)
	assert.Equal(t, "<h1>bye</h1>", content)
	assert.Equal(t, 12, size)
}

func TestWorkspaceBase64(t *testing.T) {
	ws := newTestWorkspace(t)
	_, _, written, err := ws.WriteFile("blob.bin", "AAEC", "base64")
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	raw, err := os.ReadFile(filepath.Join(ws.Root(), "blob.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, raw)

	content, _, err := ws.ReadFile("blob.bin", "base64")
	require.NoError(t, err)
	assert.Equal(t, "AAEC", content)

	_, _, _, err = ws.WriteFile("blob.bin", "not base64!", "base64")
	assert.Equal(t, agenterrors.CodeValidation, agenterrors.CodeOf(err))
	_, _, err = ws.ReadFile("blob.bin", "latin-1")
	assert.Equal(t, agenterrors.CodeValidation, agenterrors.CodeOf(err))
}

func TestWorkspaceMissingFile(t *testing.T) {
	ws := newTestWorkspace(t)
	_, _, err := ws.ReadFile("nope.txt", "")
	require.Error(t, err)
	assert.Equal(t, agenterrors.CodeNotFound, agenterrors.CodeOf(err))
}

func TestNewWorkspaceRequiresRoot(t *testing.T) {
	if _, err := NewWorkspace("  "); err == nil {
		t.Fatal("expected error for blank root")
	}
}
