package macaroons

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnmac/macaroon"
)

var (
	// ErrFirstPartyCaveatFailed is returned when no matcher accepts a
	// first-party caveat.
	ErrFirstPartyCaveatFailed = errors.New("first-party caveat not " +
		"satisfied")

	// ErrThirdPartyNotImplemented is returned for third-party caveats when
	// no discharge checker has been configured.
	ErrThirdPartyNotImplemented = errors.New("third-party caveat " +
		"verification not implemented")
)

// Matcher decides whether a first-party predicate holds.
type Matcher interface {
	// Matches returns true if the predicate is satisfied.
	Matches(p macaroon.Predicate) bool
}

// MatcherFunc is an adapter to allow the use of ordinary functions as
// matchers.
type MatcherFunc func(p macaroon.Predicate) bool

// Matches calls f(p).
func (f MatcherFunc) Matches(p macaroon.Predicate) bool {
	return f(p)
}

// DischargeRequest describes a third-party caveat met while verifying a
// token.
type DischargeRequest struct {
	// Token is the token being verified. Its integrity has already been
	// checked.
	Token *macaroon.Token

	// Index is the position of the caveat in the token.
	Index int

	// Tag is the tag the token carried before the caveat was added,
	// recomputed under the root key the token was verified with. It is
	// the value a discharge has to be bound to.
	Tag macaroon.Tag

	// Caveat is the caveat to discharge.
	Caveat macaroon.ThirdPartyCaveat
}

// DischargeChecker decides whether a third-party caveat has been discharged.
//
// A sound implementation locates the discharge token issued for the caveat's
// ID, checks the discharge's integrity under the caveat key, and checks that
// the discharge is bound to the request's Tag. DischargeSet does exactly that
// for a set of discharges the caller already holds.
type DischargeChecker interface {
	// CheckDischarge returns nil if the caveat is discharged.
	CheckDischarge(req *DischargeRequest) error
}

// DischargeFunc is an adapter to allow the use of ordinary functions as
// discharge checkers.
type DischargeFunc func(req *DischargeRequest) error

// CheckDischarge calls f(req).
func (f DischargeFunc) CheckDischarge(req *DischargeRequest) error {
	return f(req)
}

// Checker evaluates both kinds of caveats.
type Checker interface {
	Matcher
	DischargeChecker
}

// CaveatError reports which caveat of a token failed verification.
type CaveatError struct {
	// Index is the position of the caveat in the token.
	Index int

	// Caveat is the caveat that failed.
	Caveat macaroon.Caveat

	// Err is the underlying reason.
	Err error
}

// Error returns a description of the failed caveat.
func (e *CaveatError) Error() string {
	if e.Caveat.ThirdParty() {
		return fmt.Sprintf("caveat %d (third-party, id %x): %v",
			e.Index, e.Caveat.CaveatID(), e.Err)
	}

	return fmt.Sprintf("caveat %d (%q): %v", e.Index,
		e.Caveat.CaveatID(), e.Err)
}

// Unwrap returns the underlying reason.
func (e *CaveatError) Unwrap() error {
	return e.Err
}

// Verify checks the integrity of t under rootKey and then evaluates each of
// its caveats in order with c. The first failure is returned; caveat
// failures are reported as *CaveatError.
func Verify(rootKey []byte, t *macaroon.Token, c Checker) error {
	if err := t.VerifyIntegrity(rootKey); err != nil {
		return err
	}

	tags := t.ChainTags(rootKey)
	for i, caveat := range t.Caveats() {
		var err error
		switch cav := caveat.(type) {
		case macaroon.FirstPartyCaveat:
			if !c.Matches(cav.Predicate) {
				err = ErrFirstPartyCaveatFailed
			}

		case macaroon.ThirdPartyCaveat:
			err = c.CheckDischarge(&DischargeRequest{
				Token:  t,
				Index:  i,
				Tag:    tags[i],
				Caveat: cav,
			})
		}

		if err != nil {
			log.Debugf("Caveat %d of token failed: %v", i, err)

			return &CaveatError{
				Index:  i,
				Caveat: caveat,
				Err:    err,
			}
		}
	}

	return nil
}

// Verifier is a Checker backed by a set of registered matchers. A first-party
// caveat is satisfied if any registered matcher accepts it. It is safe for
// concurrent use.
type Verifier struct {
	mu        sync.RWMutex
	matchers  []Matcher
	discharge fn.Option[DischargeChecker]
}

// A compile-time check to ensure Verifier implements Checker.
var _ Checker = (*Verifier)(nil)

// NewVerifier creates a verifier with the given matchers registered.
func NewVerifier(ms ...Matcher) *Verifier {
	return &Verifier{
		matchers: append([]Matcher(nil), ms...),
	}
}

// Register adds matchers to the verifier.
func (v *Verifier) Register(ms ...Matcher) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.matchers = append(v.matchers, ms...)
}

// SetDischargeChecker installs the checker used for third-party caveats.
func (v *Verifier) SetDischargeChecker(d DischargeChecker) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.discharge = fn.Some(d)
}

// Matches returns true if any registered matcher accepts p.
func (v *Verifier) Matches(p macaroon.Predicate) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	for _, m := range v.matchers {
		if m.Matches(p) {
			return true
		}
	}

	return false
}

// CheckDischarge delegates to the configured discharge checker, or returns
// ErrThirdPartyNotImplemented if there is none.
func (v *Verifier) CheckDischarge(req *DischargeRequest) error {
	v.mu.RLock()
	discharge := v.discharge
	v.mu.RUnlock()

	d, err := discharge.UnwrapOrErr(ErrThirdPartyNotImplemented)
	if err != nil {
		return err
	}

	return d.CheckDischarge(req)
}

// Verify checks t against rootKey using the verifier's matchers.
func (v *Verifier) Verify(rootKey []byte, t *macaroon.Token) error {
	return Verify(rootKey, t, v)
}
