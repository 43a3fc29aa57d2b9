package macaroons_test

import (
	"testing"

	"github.com/lightningnetwork/lnmac/macaroons"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestIdentifierRoundTrip checks that identifiers survive encoding.
func TestIdentifierRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		rootKeyID := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "id")
		nonce := rapid.SliceOfN(
			rapid.Byte(), macaroons.NonceLen, macaroons.NonceLen,
		).Draw(t, "nonce")

		id := macaroons.Identifier{
			Version:   macaroons.IdentifierVersion,
			RootKeyID: rootKeyID,
		}
		copy(id.Nonce[:], nonce)

		raw, err := macaroons.EncodeIdentifier(id)
		require.NoError(t, err)

		decoded, err := macaroons.DecodeIdentifier(raw)
		require.NoError(t, err)
		require.Equal(t, id, decoded)
	})
}

// TestNewIdentifierNonce makes sure every identifier gets a fresh nonce.
func TestNewIdentifierNonce(t *testing.T) {
	t.Parallel()

	a, err := macaroons.NewIdentifier(macaroons.DefaultRootKeyID)
	require.NoError(t, err)
	b, err := macaroons.NewIdentifier(macaroons.DefaultRootKeyID)
	require.NoError(t, err)

	require.NotEqual(t, a.Nonce, b.Nonce)

	rawA, err := macaroons.EncodeIdentifier(a)
	require.NoError(t, err)
	rawB, err := macaroons.EncodeIdentifier(b)
	require.NoError(t, err)
	require.NotEqual(t, rawA, rawB)
}

// TestDecodeIdentifierErrors covers malformed identifiers.
func TestDecodeIdentifierErrors(t *testing.T) {
	t.Parallel()

	valid := macaroons.Identifier{
		Version:   macaroons.IdentifierVersion,
		RootKeyID: []byte("0"),
	}

	unknownVersion := valid
	unknownVersion.Version = 1
	rawUnknown, err := macaroons.EncodeIdentifier(unknownVersion)
	require.NoError(t, err)

	emptyRootKeyID := valid
	emptyRootKeyID.RootKeyID = nil
	rawEmpty, err := macaroons.EncodeIdentifier(emptyRootKeyID)
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  []byte
		err  error
	}{{
		name: "empty",
		raw:  nil,
		err:  macaroons.ErrInvalidID,
	}, {
		name: "not tlv",
		raw:  []byte("we used our secret key"),
		err:  macaroons.ErrInvalidID,
	}, {
		name: "unknown version",
		raw:  rawUnknown,
		err:  macaroons.ErrUnknownVersion,
	}, {
		name: "empty root key id",
		raw:  rawEmpty,
		err:  macaroons.ErrInvalidID,
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := macaroons.DecodeIdentifier(tc.raw)
			require.ErrorIs(t, err, tc.err)
		})
	}
}
