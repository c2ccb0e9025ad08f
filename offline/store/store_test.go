package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// low iteration count keeps key derivation out of the test runtime
var testOpts = Options{KDFIterations: 1000}

type record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func openStore(t *testing.T, path, passphrase string) *Store {
	t.Helper()
	s, err := Open(path, passphrase, testOpts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	s := openStore(t, path, "letmein")

	in := record{ID: "e1", Name: "Durumi Camp"}
	require.NoError(t, s.Put("entities", in.ID, in))

	var out record
	require.NoError(t, s.Get("entities", in.ID, &out))
	assert.Equal(t, in, out)

	dirty, err := s.IsDirty("entities", in.ID)
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, s.MarkClean("entities", in.ID))
	dirty, err = s.IsDirty("entities", in.ID)
	require.NoError(t, err)
	assert.False(t, dirty)

	// server-applied records come in clean
	require.NoError(t, s.PutClean("entities", "e2", record{ID: "e2", Name: "Gwoza Ward 3"}))
	dirty, err = s.IsDirty("entities", "e2")
	require.NoError(t, err)
	assert.False(t, dirty)

	raws, err := s.List("entities")
	require.NoError(t, err)
	assert.Len(t, raws, 2)

	require.NoError(t, s.Delete("entities", "e2"))
	assert.Equal(t, ErrNotFound, s.Get("entities", "e2", &out))
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")

	s := openStore(t, path, "letmein")
	require.NoError(t, s.Put("entities", "e1", record{ID: "e1", Name: "Durumi Camp"}))
	require.NoError(t, s.Close())

	// same passphrase unlocks the same data
	s = openStore(t, path, "letmein")
	var out record
	require.NoError(t, s.Get("entities", "e1", &out))
	assert.Equal(t, "Durumi Camp", out.Name)
}

func TestStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")

	s := openStore(t, path, "letmein")
	require.NoError(t, s.Close())

	_, err := Open(path, "guessing", testOpts)
	assert.Equal(t, ErrBadPassphrase, err)
}

func TestStoreTamperDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	s := openStore(t, path, "letmein")

	require.NoError(t, s.Put("entities", "e1", record{ID: "e1", Name: "Durumi Camp"}))

	// flip bits in the stored ciphertext
	_, err := s.db.Exec(`UPDATE secure_records SET ciphertext = X'00010203040506070809101112131415161718192021222324252627' WHERE id = 'e1'`)
	require.NoError(t, err)

	var out record
	assert.Equal(t, ErrDecrypt, s.Get("entities", "e1", &out))
}

func TestStoreDrafts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	s := openStore(t, path, "letmein")

	require.NoError(t, s.SaveDraft("assessments", "d1", record{ID: "d1", Name: "half-filled form"}))

	var out record
	require.NoError(t, s.GetDraft("assessments", "d1", &out))
	assert.Equal(t, "half-filled form", out.Name)

	// drafts are superseded on re-save
	require.NoError(t, s.SaveDraft("assessments", "d1", record{ID: "d1", Name: "filled form"}))
	require.NoError(t, s.GetDraft("assessments", "d1", &out))
	assert.Equal(t, "filled form", out.Name)

	require.NoError(t, s.DeleteDraft("assessments", "d1"))
	assert.Equal(t, ErrNotFound, s.GetDraft("assessments", "d1", &out))
}

func TestStoreMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	s := openStore(t, path, "letmein")

	_, err := s.GetMeta("sync.watermark")
	assert.Equal(t, ErrNotFound, err)

	require.NoError(t, s.SetMeta("sync.watermark", "1724900000"))
	val, err := s.GetMeta("sync.watermark")
	require.NoError(t, err)
	assert.Equal(t, "1724900000", val)
}
