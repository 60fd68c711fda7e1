package writer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aa", "bb", "asset")

	p := New(1)
	defer p.Stop()

	done := make(chan struct{})
	require.NoError(t, p.Submit(Job{Path: path, Bytes: []byte("hello"), Replace: false, Done: done}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
	}

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestSubmitReplaceFalseSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asset")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	p := New(1)
	defer p.Stop()

	done := make(chan struct{})
	require.NoError(t, p.Submit(Job{Path: path, Bytes: []byte("new"), Replace: false, Done: done}))
	<-done

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got)
}

func TestSubmitReplaceTrueKeepsBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asset")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	p := New(1)
	defer p.Stop()

	done := make(chan struct{})
	require.NoError(t, p.Submit(Job{Path: path, Bytes: []byte("replaced"), Replace: true, BakKeep: true, Done: done}))
	<-done

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("replaced"), got)

	bak, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	require.Equal(t, []byte("original"), bak)
}

func TestSubmitContentionDropsSecondSubmission(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asset")

	p := New(1)
	defer p.Stop()

	// Hold the reservation open by submitting a job directly into the
	// in-progress set without letting the worker drain it: simulate by
	// reserving and checking Submit's contention path in isolation.
	p.mu.Lock()
	p.inProgress[path] = struct{}{}
	p.mu.Unlock()

	err := p.Submit(Job{Path: path, Bytes: []byte("x")})
	require.ErrorIs(t, err, ErrContention)

	p.mu.Lock()
	delete(p.inProgress, path)
	p.mu.Unlock()
}

func TestReservedReflectsInProgressSet(t *testing.T) {
	p := New(1)
	defer p.Stop()

	require.False(t, p.Reserved("/some/path"))

	p.mu.Lock()
	p.inProgress["/some/path"] = struct{}{}
	p.mu.Unlock()

	require.True(t, p.Reserved("/some/path"))
}
