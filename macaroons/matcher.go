package macaroons

import (
	"errors"

	"github.com/lightningnetwork/lnmac/macaroon"
)

// Equality returns a matcher that accepts exactly the predicate
// "<tag> = <value>".
func Equality(tag, value string) Matcher {
	want := tag + " = " + value

	return MatcherFunc(func(p macaroon.Predicate) bool {
		return string(p) == want
	})
}

// OrMatcher returns a matcher that accepts a predicate if a or b does.
func OrMatcher(a, b Matcher) Matcher {
	return MatcherFunc(func(p macaroon.Predicate) bool {
		return a.Matches(p) || b.Matches(p)
	})
}

// orChecker is the disjunction of two checkers.
type orChecker struct {
	a, b Checker
}

// Or returns a checker that is satisfied whenever a or b is. Third-party
// caveats are passed to a first, and to b only if a rejects them.
func Or(a, b Checker) Checker {
	return &orChecker{a: a, b: b}
}

// Matches returns true if either checker accepts p.
func (o *orChecker) Matches(p macaroon.Predicate) bool {
	return o.a.Matches(p) || o.b.Matches(p)
}

// CheckDischarge returns nil if either checker accepts req, and both errors
// otherwise.
func (o *orChecker) CheckDischarge(req *DischargeRequest) error {
	errA := o.a.CheckDischarge(req)
	if errA == nil {
		return nil
	}

	errB := o.b.CheckDischarge(req)
	if errB == nil {
		return nil
	}

	return errors.Join(errA, errB)
}
