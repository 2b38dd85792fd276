package backend

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "previews.db")
	ctx := context.Background()

	b, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, b.Write(ctx, "previews/ab/key.json", bytes.NewReader([]byte("persisted"))))
	require.NoError(t, b.Close())

	b, err = OpenBolt(path)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	require.Equal(t, []byte("persisted"), readAll(t, b, "previews/ab/key.json"))
}

func TestBoltReadOutlivesTransaction(t *testing.T) {
	b := newTestBolt(t)
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, "k", bytes.NewReader([]byte("first"))))

	rc, err := b.Read(ctx, "k")
	require.NoError(t, err)

	// overwriting after Read must not change what the reader returns
	require.NoError(t, b.Write(ctx, "k", bytes.NewReader([]byte("second"))))

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	require.Equal(t, "first", buf.String())
	require.NoError(t, rc.Close())
}

func TestBoltCloseIdempotent(t *testing.T) {
	b, err := OpenBolt(filepath.Join(t.TempDir(), "previews.db"))
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}
