package macaroons

import (
	"bytes"
	"crypto/hmac"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnmac/macaroon"
)

// CondDischargeBinding is the first-party condition that binds a discharge
// token to the tag its third-party caveat was sealed under. The argument is
// the hex encoded tag.
const CondDischargeBinding = "bound-to"

var (
	// ErrDischargeNotFound is returned when no discharge token carries
	// the id of a third-party caveat.
	ErrDischargeNotFound = errors.New("no discharge token for " +
		"third-party caveat")

	// ErrDischargeNotBound is returned when a discharge token isn't bound
	// to the token being verified.
	ErrDischargeNotBound = errors.New("discharge token not bound to " +
		"token")

	// ErrNestedDischarge is returned when a discharge token carries a
	// third-party caveat of its own.
	ErrNestedDischarge = errors.New("discharge tokens can't carry " +
		"third-party caveats")
)

// DischargeBinding returns the predicate that binds a discharge to tag.
func DischargeBinding(tag macaroon.Tag) macaroon.Predicate {
	return macaroon.Predicate(CondDischargeBinding + " " + tag.String())
}

// NewDischarge mints the discharge token for c. Only the holder of the caveat
// key c was created with can do this: the key opens c's verification id, and
// the recovered tag is recorded as the discharge's binding caveat. Further
// first-party caveats may be added to the result.
func NewDischarge(caveatKey []byte,
	c macaroon.ThirdPartyCaveat) (*macaroon.Token, error) {

	tag, err := macaroon.OpenVerificationID(caveatKey, c.VerificationID)
	if err != nil {
		return nil, err
	}

	location := fn.None[[]byte]()
	if len(c.Location) != 0 {
		location = fn.Some(c.Location)
	}

	discharge := macaroon.New(caveatKey, c.ID, location)

	return discharge.AddFirstPartyCaveat(DischargeBinding(tag)), nil
}

// CaveatKeyFunc returns the caveat key the given third-party caveat was
// created with.
type CaveatKeyFunc func(c macaroon.ThirdPartyCaveat) ([]byte, error)

// DischargeSet is a DischargeChecker backed by discharge tokens the caller
// already holds. Fetching discharges from a third party is left to the
// caller.
//
// A caveat is discharged if a token in the set has the caveat's id as its
// identifier, passes its integrity check under the caveat key, and carries
// the binding caveat for the tag the request's caveat was sealed under. Any
// other first-party caveat of the discharge has to be accepted by the set's
// matcher.
type DischargeSet struct {
	caveatKey  CaveatKeyFunc
	matcher    fn.Option[Matcher]
	discharges []*macaroon.Token
}

// A compile-time check to ensure DischargeSet implements DischargeChecker.
var _ DischargeChecker = (*DischargeSet)(nil)

// NewDischargeSet creates a discharge checker for the given discharges. Keys
// are looked up with caveatKey. Without a matcher a discharge may only carry
// its binding caveat.
func NewDischargeSet(caveatKey CaveatKeyFunc, matcher fn.Option[Matcher],
	discharges ...*macaroon.Token) *DischargeSet {

	return &DischargeSet{
		caveatKey:  caveatKey,
		matcher:    matcher,
		discharges: append([]*macaroon.Token(nil), discharges...),
	}
}

// find returns the discharge whose identifier is id.
func (d *DischargeSet) find(id []byte) (*macaroon.Token, error) {
	for _, discharge := range d.discharges {
		if bytes.Equal(discharge.Identifier(), id) {
			return discharge, nil
		}
	}

	return nil, fmt.Errorf("%w: id %x", ErrDischargeNotFound, id)
}

// CheckDischarge returns nil if the set holds a valid discharge bound to the
// token in req.
func (d *DischargeSet) CheckDischarge(req *DischargeRequest) error {
	c := req.Caveat

	discharge, err := d.find(c.ID)
	if err != nil {
		return err
	}

	key, err := d.caveatKey(c)
	if err != nil {
		return err
	}

	// The caveat has to have been sealed under this token's chain.
	sealed, err := macaroon.OpenVerificationID(key, c.VerificationID)
	if err != nil {
		return err
	}
	if !hmac.Equal(sealed[:], req.Tag[:]) {
		return fmt.Errorf("%w: caveat %d was sealed under another "+
			"token", ErrDischargeNotBound, req.Index)
	}

	if err := discharge.VerifyIntegrity(key); err != nil {
		return fmt.Errorf("discharge %x: %w", c.ID, err)
	}

	bound := false
	for i, caveat := range discharge.Caveats() {
		fp, ok := caveat.(macaroon.FirstPartyCaveat)
		if !ok {
			return &CaveatError{
				Index:  i,
				Caveat: caveat,
				Err:    ErrNestedDischarge,
			}
		}

		arg, isBinding := strings.CutPrefix(
			string(fp.Predicate), CondDischargeBinding+" ",
		)
		if isBinding {
			tag, err := hex.DecodeString(arg)
			if err != nil || !hmac.Equal(tag, req.Tag[:]) {
				return fmt.Errorf("%w: discharge %x is bound "+
					"to %q", ErrDischargeNotBound, c.ID,
					arg)
			}
			bound = true

			continue
		}

		matched := false
		d.matcher.WhenSome(func(m Matcher) {
			matched = m.Matches(fp.Predicate)
		})
		if !matched {
			return &CaveatError{
				Index:  i,
				Caveat: caveat,
				Err:    ErrFirstPartyCaveatFailed,
			}
		}
	}

	if !bound {
		return fmt.Errorf("%w: discharge %x has no binding caveat",
			ErrDischargeNotBound, c.ID)
	}

	log.Debugf("Third-party caveat %d discharged by %x", req.Index, c.ID)

	return nil
}
