package main

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnmac/macaroon"
	"github.com/lightningnetwork/lnmac/macaroons"
	"github.com/stretchr/testify/require"
)

var (
	testRootKey = bytes.Repeat([]byte{7}, macaroons.RootKeyLen)
	testTime    = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

// applyFlags bakes a raw token and applies the constraints parsed from f.
func applyFlags(t *testing.T, f flagValues,
	c clock.Clock) (*macaroon.Token, error) {

	t.Helper()

	constraints, err := constraintsFromFlags(f, c)
	if err != nil {
		return nil, err
	}

	token := macaroon.New(testRootKey, []byte("cli"), fn.None[[]byte]())

	return macaroons.AddConstraints(token, constraints...)
}

// TestConstraintsFromFlags checks the caveats added for each flag and their
// order.
func TestConstraintsFromFlags(t *testing.T) {
	t.Parallel()

	tpKey := hex.EncodeToString(bytes.Repeat([]byte{1}, 32))
	thirdParty := tpKey + ":bob:https://auth.example:8443"
	token, err := applyFlags(t, flagValues{
		timeoutSet:   true,
		timeout:      60,
		ipAddress:    "127.0.0.1",
		method:       "/grpc.health.v1.Health/Check",
		customSet:    true,
		customName:   "tenant",
		customCond:   "acme",
		firstParties: []string{"account = 3735928559"},
		thirdParties: []string{thirdParty},
	}, clock.NewTestClock(testTime))
	require.NoError(t, err)

	caveats := token.Caveats()
	require.Len(t, caveats, 6)

	predicates := make([]string, 0, 5)
	for _, c := range caveats[:5] {
		predicates = append(predicates, string(c.CaveatID()))
	}
	require.Equal(t, []string{
		"time-before 2025-03-01T12:01:00Z",
		"ipaddr 127.0.0.1",
		"method = /grpc.health.v1.Health/Check",
		"lnd-custom tenant acme",
		"account = 3735928559",
	}, predicates)

	tp, ok := caveats[5].(macaroon.ThirdPartyCaveat)
	require.True(t, ok)
	require.Equal(t, []byte("bob"), tp.CaveatID())
	require.Equal(t, []byte("https://auth.example:8443"), tp.Location)

	require.NoError(t, token.VerifyIntegrity(testRootKey))
}

// TestConstraintsFromFlagsErrors checks that invalid flag values are
// rejected before any caveat is added.
func TestConstraintsFromFlagsErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		flags flagValues
	}{{
		name:  "zero timeout",
		flags: flagValues{timeoutSet: true},
	}, {
		name:  "bad ip",
		flags: flagValues{ipAddress: "300.1.1.1"},
	}, {
		name:  "relative method",
		flags: flagValues{method: "Health/Check"},
	}, {
		name:  "empty custom name",
		flags: flagValues{customSet: true},
	}, {
		name:  "custom name with space",
		flags: flagValues{customSet: true, customName: "a b"},
	}, {
		name: "custom condition with space",
		flags: flagValues{
			customSet: true, customName: "a", customCond: "b c",
		},
	}, {
		name:  "empty first party",
		flags: flagValues{firstParties: []string{""}},
	}, {
		name:  "third party missing location",
		flags: flagValues{thirdParties: []string{"0101:bob"}},
	}, {
		name:  "third party bad key",
		flags: flagValues{thirdParties: []string{"zz:bob:loc"}},
	}, {
		name:  "third party empty key",
		flags: flagValues{thirdParties: []string{":bob:loc"}},
	}, {
		name:  "third party empty id",
		flags: flagValues{thirdParties: []string{"0101::loc"}},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := constraintsFromFlags(
				tc.flags, clock.NewTestClock(testTime),
			)
			require.Error(t, err)
		})
	}
}

// TestVerifyWithRootKey checks the offline verification used by the verify
// command.
func TestVerifyWithRootKey(t *testing.T) {
	t.Parallel()

	c := clock.NewTestClock(testTime)
	token, err := applyFlags(t, flagValues{
		timeoutSet:   true,
		timeout:      60,
		ipAddress:    "10.0.0.1",
		customSet:    true,
		customName:   "tenant",
		firstParties: []string{"account = 3735928559"},
	}, c)
	require.NoError(t, err)

	matchers, err := matchersFromFlags(
		nil, []string{"account = 3735928559"}, []string{"tenant"},
		"10.0.0.1", "",
	)
	require.NoError(t, err)
	err = verifyWithRootKey(testRootKey, token, c, matchers...)
	require.NoError(t, err)

	// A different client address fails the IP lock.
	matchers, err = matchersFromFlags(
		[]string{"account = 3735928559"}, nil, []string{"tenant"},
		"10.0.0.2", "",
	)
	require.NoError(t, err)
	err = verifyWithRootKey(testRootKey, token, c, matchers...)

	var caveatErr *macaroons.CaveatError
	require.ErrorAs(t, err, &caveatErr)
	require.Equal(t, 1, caveatErr.Index)

	// Once the token expired it is rejected even with all matchers.
	c.SetTime(testTime.Add(2 * time.Minute))
	matchers, err = matchersFromFlags(
		[]string{"account = 3735928559"}, nil, []string{"tenant"},
		"10.0.0.1", "",
	)
	require.NoError(t, err)
	err = verifyWithRootKey(testRootKey, token, c, matchers...)
	require.ErrorAs(t, err, &caveatErr)
	require.Equal(t, 0, caveatErr.Index)

	// The wrong root key fails the integrity check.
	err = verifyWithRootKey(
		bytes.Repeat([]byte{8}, macaroons.RootKeyLen), token, c,
	)
	require.ErrorIs(t, err, macaroon.ErrIntegrityFailure)

	_, err = matchersFromFlags(nil, []string{"nope"}, nil, "", "")
	require.Error(t, err)
}

// TestInspectToken checks that service identifiers are decoded when the token
// is printed.
func TestInspectToken(t *testing.T) {
	t.Parallel()

	token, err := macaroons.BakeFromRootKey(
		testRootKey, "https://lnmac.example/",
		macaroons.CustomConstraint("tenant", "acme"),
	)
	require.NoError(t, err)

	content := inspectToken(token)
	require.Equal(t, "0", content.RootKeyID)
	require.Len(t, content.Nonce, 64)
	require.Equal(t, "https://lnmac.example/", content.Location)
	require.Len(t, content.Caveats, 1)

	var buf bytes.Buffer
	renderTable(&buf, content)
	require.Contains(t, buf.String(), "lnd-custom tenant acme")
	require.Contains(t, buf.String(), "first-party")

	raw := macaroon.New(testRootKey, []byte("raw"), fn.None[[]byte]())
	content = inspectToken(raw)
	require.Empty(t, content.RootKeyID)
	require.Equal(t, "raw", content.Identifier)

	buf.Reset()
	renderTable(&buf, content)
	require.Contains(t, buf.String(), "No caveats")
}
