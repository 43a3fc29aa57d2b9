// Package macaroon implements chained bearer tokens: a root token derived from
// a secret root key, attenuated by appending first-party and third-party
// caveats, each of which is bound into the token's tag by a chained MAC.
//
// Tokens are immutable. Adding a caveat returns a new token and leaves the
// receiver untouched, so a *Token can be shared between goroutines freely.
package macaroon

import (
	"crypto/hmac"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Token is a macaroon: an identifier, an optional location hint, an ordered
// list of caveats and the tag chaining them together.
type Token struct {
	identifier []byte
	location   fn.Option[[]byte]
	caveats    []Caveat
	tag        Tag
}

// New creates a token without caveats from the given root key. The location
// is advisory only and is not covered by the tag.
func New(rootKey, identifier []byte, location fn.Option[[]byte]) *Token {
	return &Token{
		identifier: cloneBytes(identifier),
		location:   fn.MapOption(cloneBytes)(location),
		tag:        rootTag(rootKey, identifier),
	}
}

// Identifier returns a copy of the token identifier.
func (t *Token) Identifier() []byte {
	return cloneBytes(t.identifier)
}

// Location returns a copy of the token's location hint, if any.
func (t *Token) Location() fn.Option[[]byte] {
	return fn.MapOption(cloneBytes)(t.location)
}

// Caveats returns a copy of the token's caveats in the order they were added.
func (t *Token) Caveats() []Caveat {
	caveats := make([]Caveat, len(t.caveats))
	for i, c := range t.caveats {
		caveats[i] = c.clone()
	}

	return caveats
}

// NumCaveats returns the number of caveats in the token.
func (t *Token) NumCaveats() int {
	return len(t.caveats)
}

// Tag returns the token's current tag.
func (t *Token) Tag() Tag {
	return t.tag
}

// AddCaveat returns a new token with the caveat described by c appended. The
// nonce of a third-party caveat is read from crypto/rand.
func (t *Token) AddCaveat(c Condition) (*Token, error) {
	return t.AddCaveatWithRand(c, rand.Reader)
}

// AddCaveatWithRand is like AddCaveat, but reads the nonce of a third-party
// caveat from the given source.
func (t *Token) AddCaveatWithRand(c Condition, rand io.Reader) (*Token,
	error) {

	var (
		caveat Caveat
		err    error
	)
	c.Key.WhenSome(func(key []byte) {
		caveat, err = t.newThirdPartyCaveat(key, c.ID, c.Location, rand)
	})
	if err != nil {
		return nil, err
	}

	if c.Key.IsNone() {
		if len(c.Location) != 0 {
			return nil, fmt.Errorf("%w: first-party caveat can't "+
				"carry a location", ErrInvalidCondition)
		}
		caveat = FirstPartyCaveat{Predicate: cloneBytes(c.ID)}
	}

	return t.withCaveat(caveat), nil
}

// AddFirstPartyCaveat returns a new token restricted by the given predicate.
func (t *Token) AddFirstPartyCaveat(p Predicate) *Token {
	return t.withCaveat(FirstPartyCaveat{Predicate: cloneBytes(p)})
}

// AddThirdPartyCaveat returns a new token with a third-party caveat that can
// be discharged by the holder of key at location.
func (t *Token) AddThirdPartyCaveat(key, id, location []byte) (*Token,
	error) {

	return t.AddCaveat(ThirdParty(key, id, location))
}

// newThirdPartyCaveat seals the current tag under the caveat key and returns
// the caveat to record. The key itself is not retained.
func (t *Token) newThirdPartyCaveat(key, id, location []byte,
	rand io.Reader) (Caveat, error) {

	vid, err := sealVerificationID(key, t.tag, rand)
	if err != nil {
		return nil, err
	}

	log.Tracef("Sealed verification id for third-party caveat at %q",
		location)

	return ThirdPartyCaveat{
		ID:             cloneBytes(id),
		VerificationID: vid,
		Location:       cloneBytes(location),
	}, nil
}

// withCaveat returns a copy of t with caveat appended and the tag advanced.
// The caveat must not be referenced by the caller afterwards.
func (t *Token) withCaveat(caveat Caveat) *Token {
	caveats := make([]Caveat, len(t.caveats), len(t.caveats)+1)
	copy(caveats, t.caveats)

	return &Token{
		identifier: t.identifier,
		location:   t.location,
		caveats:    append(caveats, caveat),
		tag:        caveat.bind(t.tag),
	}
}

// VerifyIntegrity recomputes the token's tag from rootKey by replaying every
// caveat in order and compares it with the token's tag in constant time.
func (t *Token) VerifyIntegrity(rootKey []byte) error {
	tags := t.ChainTags(rootKey)
	tag := tags[len(tags)-1]

	if !hmac.Equal(tag[:], t.tag[:]) {
		log.Debugf("Integrity check failed for token with %d caveats",
			len(t.caveats))

		return ErrIntegrityFailure
	}

	return nil
}

// ChainTags replays the tag chain of t under rootKey. Entry i is the tag the
// token carried before caveat i was added, and the last entry is the tag of
// the whole token. The result is only meaningful once VerifyIntegrity has
// accepted rootKey.
func (t *Token) ChainTags(rootKey []byte) []Tag {
	tags := make([]Tag, 0, len(t.caveats)+1)

	tag := rootTag(rootKey, t.identifier)
	for _, c := range t.caveats {
		tags = append(tags, tag)
		tag = c.bind(tag)
	}

	return append(tags, tag)
}
