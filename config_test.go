package hdbus

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigSeedReadsFromConfiguredEntropy(t *testing.T) {
	cfg := Config{Entropy: bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})}
	seed, err := cfg.Seed()
	require.NoError(t, err)
	require.Equal(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, seed)
}

func TestConfigSeedDefaultsToCryptoRand(t *testing.T) {
	cfg := Config{}
	seed1, err := cfg.Seed()
	require.NoError(t, err)
	seed2, err := cfg.Seed()
	require.NoError(t, err)
	require.NotEqual(t, seed1, seed2, "two draws from crypto/rand.Reader should not collide")
}

func TestConfigSeedPropagatesShortRead(t *testing.T) {
	cfg := Config{Entropy: bytes.NewReader([]byte{1, 2, 3})}
	_, err := cfg.Seed()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
