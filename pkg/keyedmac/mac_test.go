package keyedmac_test

import (
	"testing"

	"github.com/attendly/presence-engine/pkg/keyedmac"
	"github.com/stretchr/testify/require"
)

func TestNewSigner(t *testing.T) {
	t.Parallel()

	t.Run("valid secret", func(t *testing.T) {
		t.Parallel()
		signer, err := keyedmac.NewSigner([]byte("test-secret"))
		require.NoError(t, err)
		require.NotNil(t, signer)
	})

	t.Run("empty secret", func(t *testing.T) {
		t.Parallel()
		signer, err := keyedmac.NewSigner(nil)
		require.Error(t, err)
		require.Nil(t, signer)
		require.ErrorIs(t, err, keyedmac.ErrEmptySecret)
	})
}

func TestSignDeterministic(t *testing.T) {
	t.Parallel()
	signer, err := keyedmac.NewSigner([]byte("test-secret"))
	require.NoError(t, err)

	payload := map[string]any{"sessionId": "s-1", "timestamp": 4200}

	sig1, err := signer.Sign(payload)
	require.NoError(t, err)
	sig2, err := signer.Sign(payload)
	require.NoError(t, err)
	require.Equal(t, sig1, sig2)

	ok, err := signer.Verify(payload, sig1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsDifferentPayload(t *testing.T) {
	t.Parallel()
	signer, err := keyedmac.NewSigner([]byte("test-secret"))
	require.NoError(t, err)

	sig, err := signer.Sign(map[string]any{"sessionId": "s-1"})
	require.NoError(t, err)

	ok, err := signer.Verify(map[string]any{"sessionId": "s-2"}, sig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsAlteredSignature(t *testing.T) {
	t.Parallel()
	signer, err := keyedmac.NewSigner([]byte("test-secret"))
	require.NoError(t, err)

	payload := map[string]any{"sessionId": "s-1"}
	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	// Flip a single hex character.
	altered := []byte(sig)
	if altered[0] == 'a' {
		altered[0] = 'b'
	} else {
		altered[0] = 'a'
	}
	ok, err := signer.Verify(payload, string(altered))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCanonicalKeyOrder(t *testing.T) {
	t.Parallel()

	a, err := keyedmac.CanonicalRaw([]byte(`{"b":2,"a":1}`))
	require.NoError(t, err)
	b, err := keyedmac.CanonicalRaw([]byte(`{ "a": 1, "b": 2 }`))
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, `{"a":1,"b":2}`, string(a))
}

func TestCanonicalIntegerNumbers(t *testing.T) {
	t.Parallel()

	out, err := keyedmac.CanonicalRaw([]byte(`{"t":4200.0,"f":1.5,"nested":{"z":[3e2,true,null]}}`))
	require.NoError(t, err)
	require.Equal(t, `{"f":1.5,"nested":{"z":[300,true,null]},"t":4200}`, string(out))
}

func TestCanonicalRoundTrip(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"a":1,"b":{"c":"x","d":[1,2]}}`)
	once, err := keyedmac.CanonicalRaw(raw)
	require.NoError(t, err)
	twice, err := keyedmac.CanonicalRaw(once)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}
