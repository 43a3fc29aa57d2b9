package macaroon

import (
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Predicate is a first-party assertion such as "time < 2025-01-01". The token
// engine treats it as opaque bytes; interpreting it is up to the matchers of
// a verifier.
type Predicate []byte

// String returns the predicate as a string.
func (p Predicate) String() string {
	return string(p)
}

// Caveat is a restriction recorded in a token. It is either a
// FirstPartyCaveat or a ThirdPartyCaveat.
type Caveat interface {
	// CaveatID returns the caveat identifier. For first-party caveats
	// this is the predicate itself.
	CaveatID() []byte

	// ThirdParty reports whether the caveat must be discharged by a
	// third party.
	ThirdParty() bool

	// bind chains the caveat onto the given tag.
	bind(tag Tag) Tag

	// clone returns a deep copy of the caveat.
	clone() Caveat
}

// FirstPartyCaveat is a caveat whose predicate the verifier can evaluate by
// itself.
type FirstPartyCaveat struct {
	Predicate Predicate
}

// A compile-time check to ensure FirstPartyCaveat implements Caveat.
var _ Caveat = FirstPartyCaveat{}

// CaveatID returns the predicate bytes.
func (c FirstPartyCaveat) CaveatID() []byte {
	return c.Predicate
}

// ThirdParty always returns false.
func (c FirstPartyCaveat) ThirdParty() bool {
	return false
}

func (c FirstPartyCaveat) bind(tag Tag) Tag {
	return bindFirstParty(tag, c.Predicate)
}

func (c FirstPartyCaveat) clone() Caveat {
	return FirstPartyCaveat{Predicate: cloneBytes(c.Predicate)}
}

// ThirdPartyCaveat is a caveat that has to be discharged by the authority at
// Location. VerificationID seals the token's tag from just before the caveat
// was added, under a key only the discharging party knows.
type ThirdPartyCaveat struct {
	// ID is opaque to everyone but the third party.
	ID []byte

	// VerificationID is the sealed pre-caveat tag, see
	// OpenVerificationID.
	VerificationID []byte

	// Location is an advisory hint naming where to discharge the caveat.
	Location []byte
}

// A compile-time check to ensure ThirdPartyCaveat implements Caveat.
var _ Caveat = ThirdPartyCaveat{}

// CaveatID returns the opaque third-party caveat identifier.
func (c ThirdPartyCaveat) CaveatID() []byte {
	return c.ID
}

// ThirdParty always returns true.
func (c ThirdPartyCaveat) ThirdParty() bool {
	return true
}

func (c ThirdPartyCaveat) bind(tag Tag) Tag {
	return bindThirdParty(tag, c.ID, c.VerificationID)
}

func (c ThirdPartyCaveat) clone() Caveat {
	return ThirdPartyCaveat{
		ID:             cloneBytes(c.ID),
		VerificationID: cloneBytes(c.VerificationID),
		Location:       cloneBytes(c.Location),
	}
}

// Condition describes a caveat to be appended to a token. When Key is set the
// condition produces a third-party caveat whose discharge root key is Key;
// otherwise ID is used as a first-party predicate and Location must be empty.
//
// The key is consumed while chaining and is never stored in the resulting
// token.
type Condition struct {
	ID       []byte
	Key      fn.Option[[]byte]
	Location []byte
}

// FirstParty returns the condition for a first-party caveat.
func FirstParty(p Predicate) Condition {
	return Condition{ID: p}
}

// ThirdParty returns the condition for a third-party caveat that can be
// discharged by whoever holds key at location.
func ThirdParty(key, id, location []byte) Condition {
	return Condition{
		ID:       id,
		Key:      fn.Some(key),
		Location: location,
	}
}

// cloneBytes copies b into a new non-nil slice.
func cloneBytes(b []byte) []byte {
	return append([]byte{}, b...)
}
