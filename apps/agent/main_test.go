package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePassphraseFromEnv(t *testing.T) {
	t.Setenv("DMS_AGENT_PASSPHRASE", "from-env")

	orig := readPasswordFunc
	readPasswordFunc = func(fd int) ([]byte, error) {
		t.Fatal("prompted despite DMS_AGENT_PASSPHRASE being set")
		return nil, nil
	}
	t.Cleanup(func() { readPasswordFunc = orig })

	p, err := storePassphrase()
	require.NoError(t, err)
	assert.Equal(t, "from-env", p)
}

func TestStorePassphrasePrompt(t *testing.T) {
	t.Setenv("DMS_AGENT_PASSPHRASE", "")

	orig := readPasswordFunc
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte("typed-in"), nil }
	t.Cleanup(func() { readPasswordFunc = orig })

	p, err := storePassphrase()
	require.NoError(t, err)
	assert.Equal(t, "typed-in", p)
}
