package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateSecretLengthAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		s, err := GenerateSecret(32)
		require.NoError(t, err)
		// 32 bytes -> 43 chars of raw-url base64
		require.Len(t, s, 43)
		_, dup := seen[s]
		require.False(t, dup, "secret collision")
		seen[s] = struct{}{}
	}
}

func TestHashSecretDeterministic(t *testing.T) {
	require.Equal(t, HashSecret("ek_abc"), HashSecret("ek_abc"))
	require.NotEqual(t, HashSecret("ek_abc"), HashSecret("ek_abd"))
	require.Len(t, HashSecret("anything"), 64)
}

func TestSecretsEqual(t *testing.T) {
	require.True(t, SecretsEqual("same", "same"))
	require.False(t, SecretsEqual("same", "other"))
	require.False(t, SecretsEqual("same", "sam"))
}
