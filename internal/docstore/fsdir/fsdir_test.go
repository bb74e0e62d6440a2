package fsdir

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elkhaled/pos/internal/docstore"
)

func TestPickerPromptsOnTerminal(t *testing.T) {
	target := filepath.Join(t.TempDir(), "new", "data")
	var out bytes.Buffer

	h, err := Picker{In: strings.NewReader(target + "\n"), Out: &out}.Pick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Data directory: ", out.String())
	assert.Equal(t, docstore.KindDirectory, h.Kind)
	assert.Equal(t, target, h.Location)
	assert.Equal(t, "data", h.Name)
	assert.DirExists(t, target)
}

func TestPickerCancelled(t *testing.T) {
	_, err := Picker{In: strings.NewReader("\n")}.Pick(context.Background())
	assert.ErrorIs(t, err, docstore.ErrCancelled)

	_, err = Picker{}.Pick(context.Background())
	assert.ErrorIs(t, err, docstore.ErrCancelled)
}

func TestOpenRejectsFiles(t *testing.T) {
	file := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(file, []byte("[]"), 0o644))

	_, err := Open(context.Background(), Handle(file))
	assert.Error(t, err)
	_, err = Open(context.Background(), docstore.Handle{Kind: docstore.KindDirectory})
	assert.Error(t, err)
}

func TestDirectoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	opened, err := Open(ctx, Handle(t.TempDir()))
	require.NoError(t, err)

	perm, err := opened.QueryPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, docstore.PermissionGranted, perm)

	ok, err := opened.Exists(ctx, "settings.json")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = opened.ReadFile(ctx, "settings.json")
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, opened.WriteFile(ctx, "settings.json", []byte(`{"storeName": "A"}`)))
	require.NoError(t, opened.WriteFile(ctx, "settings.json", []byte(`{"storeName": "B"}`)))
	data, err := opened.ReadFile(ctx, "settings.json")
	require.NoError(t, err)
	assert.Equal(t, `{"storeName": "B"}`, string(data))

	for _, bad := range []string{"", ".hidden", "a/b.json", "../x.json"} {
		_, err := opened.Exists(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidName, bad)
	}
}

func TestRequestPermissionLeavesModeAlone(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root writes through any mode")
	}
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	opened, err := Open(ctx, Handle(dir))
	require.NoError(t, err)

	perm, err := opened.QueryPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, docstore.PermissionPrompt, perm)

	perm, err = opened.RequestPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, docstore.PermissionDenied, perm)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o500), info.Mode().Perm())

	require.NoError(t, os.Chmod(dir, 0o700))
	perm, err = opened.RequestPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, docstore.PermissionGranted, perm)
}
