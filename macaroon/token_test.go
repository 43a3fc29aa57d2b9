package macaroon_test

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnmac/macaroon"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"
)

var (
	testRootKey    = []byte("this is our super secret key; only we should know it")
	testIdentifier = []byte("we used our secret key")
	testLocation   = []byte("http://mybank/")
)

// newTestToken returns the token used by the golden vectors.
func newTestToken() *macaroon.Token {
	return macaroon.New(testRootKey, testIdentifier, fn.Some(testLocation))
}

// mustTag decodes a hex tag.
func mustTag(t *testing.T, s string) macaroon.Tag {
	t.Helper()

	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	require.Len(t, b, macaroon.TagLen)

	return macaroon.Tag(b)
}

// errReader fails every read.
type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

// TestNewGoldenTag checks the tag of a fresh token against a known vector.
func TestNewGoldenTag(t *testing.T) {
	t.Parallel()

	tok := newTestToken()
	require.Equal(t, mustTag(
		t, "e3d9e02908526c4c0039ae15114115d97fdd68bf2ba379b342aaf0f6"+
			"17d0552f",
	), tok.Tag())
	require.Equal(t, testIdentifier, tok.Identifier())
	require.Equal(t, testLocation, tok.Location().UnwrapOr(nil))
	require.Zero(t, tok.NumCaveats())

	// The location is advisory and doesn't affect the tag.
	noLoc := macaroon.New(testRootKey, testIdentifier, fn.None[[]byte]())
	require.Equal(t, tok.Tag(), noLoc.Tag())
	require.True(t, noLoc.Location().IsNone())
}

// TestFirstPartyGoldenTags checks first-party chaining against known
// vectors.
func TestFirstPartyGoldenTags(t *testing.T) {
	t.Parallel()

	tok := newTestToken().AddFirstPartyCaveat(
		macaroon.Predicate("test = caveat"),
	)
	require.Equal(t, mustTag(
		t, "197bac7a044af33332865b9266e26d493bdd668a660e44d88ce1a998"+
			"c23dbd67",
	), tok.Tag())

	tok = tok.AddFirstPartyCaveat(
		macaroon.Predicate("account = 3735928559"),
	)
	require.Equal(t, mustTag(
		t, "fd1913f9c2515dbe611bb30cc901b1ac2d4b54ecc1b7f3fcdfae8147"+
			"700f6b88",
	), tok.Tag())
	require.Equal(t, 2, tok.NumCaveats())
}

// TestAddCaveatLeavesReceiverUntouched asserts attenuation returns a new
// token and never modifies the one it was called on.
func TestAddCaveatLeavesReceiverUntouched(t *testing.T) {
	t.Parallel()

	base := newTestToken().AddFirstPartyCaveat(macaroon.Predicate("a = 1"))
	before := base.Tag()

	first := base.AddFirstPartyCaveat(macaroon.Predicate("b = 2"))
	second := base.AddFirstPartyCaveat(macaroon.Predicate("c = 3"))

	require.Equal(t, before, base.Tag())
	require.Equal(t, 1, base.NumCaveats())
	require.Equal(t, 2, first.NumCaveats())
	require.Equal(t, 2, second.NumCaveats())
	require.NotEqual(t, first.Tag(), second.Tag())

	// Siblings that share a backing array must not see each other's
	// caveats.
	require.Equal(t, "b = 2", string(first.Caveats()[1].CaveatID()))
	require.Equal(t, "c = 3", string(second.Caveats()[1].CaveatID()))
}

// TestAccessorsReturnCopies makes sure callers can't reach into a token
// through the slices it hands out.
func TestAccessorsReturnCopies(t *testing.T) {
	t.Parallel()

	tok := newTestToken().AddFirstPartyCaveat(macaroon.Predicate("a = 1"))

	tok.Identifier()[0] ^= 0xff
	tok.Location().WhenSome(func(loc []byte) {
		loc[0] ^= 0xff
	})
	caveats := tok.Caveats()
	caveats[0].CaveatID()[0] ^= 0xff
	caveats[0] = macaroon.FirstPartyCaveat{}

	require.Equal(t, testIdentifier, tok.Identifier())
	require.Equal(t, testLocation, tok.Location().UnwrapOr(nil))
	require.Equal(t, "a = 1", string(tok.Caveats()[0].CaveatID()))
	require.NoError(t, tok.VerifyIntegrity(testRootKey))
}

// TestInputsAreCopied makes sure a token doesn't alias the buffers it was
// built from.
func TestInputsAreCopied(t *testing.T) {
	t.Parallel()

	id := bytes.Clone(testIdentifier)
	pred := []byte("a = 1")
	tok := macaroon.New(testRootKey, id, fn.None[[]byte]())
	tok = tok.AddFirstPartyCaveat(pred)

	id[0] ^= 0xff
	pred[0] ^= 0xff

	require.Equal(t, testIdentifier, tok.Identifier())
	require.NoError(t, tok.VerifyIntegrity(testRootKey))
}

// TestVerifyIntegrity covers the integrity check for correct and incorrect
// keys.
func TestVerifyIntegrity(t *testing.T) {
	t.Parallel()

	tok := newTestToken().AddFirstPartyCaveat(macaroon.Predicate("a = 1"))
	tok, err := tok.AddThirdPartyCaveat(
		[]byte("shared with the auth service"), []byte("user = bob"),
		[]byte("https://auth.example/"),
	)
	require.NoError(t, err)
	tok = tok.AddFirstPartyCaveat(macaroon.Predicate("b = 2"))

	require.NoError(t, tok.VerifyIntegrity(testRootKey))

	err = tok.VerifyIntegrity([]byte("some other key"))
	require.ErrorIs(t, err, macaroon.ErrIntegrityFailure)

	err = tok.VerifyIntegrity(nil)
	require.ErrorIs(t, err, macaroon.ErrIntegrityFailure)
}

// TestWrongKeyProperty asserts that no key other than the root key verifies
// a token.
func TestWrongKeyProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		rootKey := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "root")
		otherKey := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "other")
		if bytes.Equal(rootKey, otherKey) {
			t.Skip("keys are equal")
		}

		preds := rapid.SliceOfN(
			rapid.StringMatching(`[a-z]+ = [a-z0-9]+`), 0, 5,
		).Draw(t, "predicates")

		tok := macaroon.New(rootKey, []byte("id"), fn.None[[]byte]())
		for _, p := range preds {
			tok = tok.AddFirstPartyCaveat(macaroon.Predicate(p))
		}

		require.NoError(t, tok.VerifyIntegrity(rootKey))
		require.ErrorIs(
			t, tok.VerifyIntegrity(otherKey),
			macaroon.ErrIntegrityFailure,
		)
	})
}

// TestCaveatOrderMatters asserts that reordering two distinct caveats
// changes the tag.
func TestCaveatOrderMatters(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		a := rapid.StringMatching(`[a-z]{1,8} = [0-9]{1,4}`).Draw(t, "a")
		b := rapid.StringMatching(`[a-z]{1,8} = [0-9]{1,4}`).Draw(t, "b")
		if a == b {
			t.Skip("identical predicates")
		}

		base := newTestToken()
		ab := base.AddFirstPartyCaveat(macaroon.Predicate(a)).
			AddFirstPartyCaveat(macaroon.Predicate(b))
		ba := base.AddFirstPartyCaveat(macaroon.Predicate(b)).
			AddFirstPartyCaveat(macaroon.Predicate(a))

		require.NotEqual(t, ab.Tag(), ba.Tag())
	})
}

// TestThirdPartyCaveat checks the contents of a third-party caveat and that
// the caveat key opens its verification id.
func TestThirdPartyCaveat(t *testing.T) {
	t.Parallel()

	var (
		caveatKey = []byte("4; guaranteed random by a fair toss of the dice")
		id        = []byte("this was how we remind auth of key/pred")
		loc       = []byte("http://auth.mybank/")
	)

	base := newTestToken().AddFirstPartyCaveat(
		macaroon.Predicate("account = 3735928559"),
	)
	tok, err := base.AddCaveatWithRand(
		macaroon.ThirdParty(caveatKey, id, loc),
		bytes.NewReader(make([]byte, 24)),
	)
	require.NoError(t, err)
	require.Equal(t, 2, tok.NumCaveats())

	c, ok := tok.Caveats()[1].(macaroon.ThirdPartyCaveat)
	require.True(t, ok)
	require.True(t, c.ThirdParty())
	require.Equal(t, id, c.ID)
	require.Equal(t, loc, c.Location)

	// 24 byte nonce, 32 byte tag and the 16 byte authenticator.
	require.Len(t, c.VerificationID, 24+macaroon.TagLen+16)
	require.Equal(t, make([]byte, 24), c.VerificationID[:24])

	sealed, err := macaroon.OpenVerificationID(caveatKey, c.VerificationID)
	require.NoError(t, err)
	require.Equal(t, base.Tag(), sealed)

	_, err = macaroon.OpenVerificationID(
		[]byte("not the caveat key"), c.VerificationID,
	)
	require.ErrorIs(t, err, macaroon.ErrVerificationID)

	_, err = macaroon.OpenVerificationID(caveatKey, c.VerificationID[:30])
	require.ErrorIs(t, err, macaroon.ErrVerificationID)

	require.NoError(t, tok.VerifyIntegrity(testRootKey))

	// Replaying the chain yields the tag sealed into the caveat.
	tags := tok.ChainTags(testRootKey)
	require.Len(t, tags, 3)
	require.Equal(t, newTestToken().Tag(), tags[0])
	require.Equal(t, sealed, tags[1])
	require.Equal(t, tok.Tag(), tags[2])
}

// TestThirdPartyNonceIsRandom makes sure two third-party caveats with the
// same inputs still produce different tokens.
func TestThirdPartyNonceIsRandom(t *testing.T) {
	t.Parallel()

	cond := macaroon.ThirdParty(
		[]byte("key"), []byte("id"), []byte("loc"),
	)

	a, err := newTestToken().AddCaveat(cond)
	require.NoError(t, err)
	b, err := newTestToken().AddCaveat(cond)
	require.NoError(t, err)

	require.NotEqual(t, a.Tag(), b.Tag())
}

// TestAddCaveatErrors covers the failure paths of AddCaveat.
func TestAddCaveatErrors(t *testing.T) {
	t.Parallel()

	base := newTestToken()

	_, err := base.AddCaveatWithRand(
		macaroon.ThirdParty([]byte("k"), []byte("id"), []byte("loc")),
		errReader{},
	)
	require.ErrorContains(t, err, "entropy exhausted")

	_, err = base.AddCaveat(macaroon.Condition{
		ID:       []byte("a = 1"),
		Location: []byte("http://somewhere/"),
	})
	require.ErrorIs(t, err, macaroon.ErrInvalidCondition)

	tok, err := base.AddCaveat(macaroon.FirstParty(
		macaroon.Predicate("a = 1"),
	))
	require.NoError(t, err)
	require.Equal(t, base.AddFirstPartyCaveat(
		macaroon.Predicate("a = 1"),
	).Tag(), tok.Tag())
}

// TestConcurrentVerify verifies a shared token from many goroutines.
func TestConcurrentVerify(t *testing.T) {
	t.Parallel()

	tok := newTestToken()
	for i := 0; i < 10; i++ {
		tok = tok.AddFirstPartyCaveat(macaroon.Predicate("n = 1"))
	}

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			if err := tok.VerifyIntegrity(testRootKey); err != nil {
				return err
			}

			_, err := tok.AddCaveat(macaroon.ThirdParty(
				[]byte("k"), []byte("id"), []byte("loc"),
			))

			return err
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, tok.VerifyIntegrity(testRootKey))
	require.Equal(t, 10, tok.NumCaveats())
}
