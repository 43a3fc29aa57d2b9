package macaroons

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnmac/macaroon"
	"gopkg.in/macaroon-bakery.v2/bakery/checkers"
)

// Constants for all the custom caveat conditions.
const (
	// CondIPAddress locks a token to a client IP address.
	CondIPAddress = "ipaddr"

	// CondTimeBefore limits the lifetime of a token.
	CondTimeBefore = checkers.CondTimeBefore

	// CondLndCustom is the first-party caveat condition name that is used
	// for all custom caveats. The name of the custom caveat comes right
	// after it, followed by an optional condition.
	CondLndCustom = "lnd-custom"
)

// Constraint type adds a layer of indirection over token caveats. Applying a
// constraint yields a new, more restricted token.
type Constraint func(*macaroon.Token) (*macaroon.Token, error)

// AddConstraints returns a new derived token by applying every passed
// constraint and tightening its restrictions. The passed token is left
// untouched.
func AddConstraints(t *macaroon.Token,
	cs ...Constraint) (*macaroon.Token, error) {

	var err error
	for _, constraint := range cs {
		t, err = constraint(t)
		if err != nil {
			return nil, err
		}
	}

	return t, nil
}

// GetCaveatArgOfCondition parses the first-party caveats of a token and
// returns the argument of the first one that matches the condition name
// given.
func GetCaveatArgOfCondition(t *macaroon.Token, cond string) string {
	for _, caveat := range t.Caveats() {
		if caveat.ThirdParty() {
			continue
		}

		caveatCond, arg, err := checkers.ParseCaveat(
			string(caveat.CaveatID()),
		)
		if err != nil {
			// If we can't parse the caveat, it probably doesn't
			// concern us.
			continue
		}
		if caveatCond == cond {
			return arg
		}
	}

	return ""
}

// firstParty returns a constraint that adds the given condition as a
// first-party caveat.
func firstParty(caveat string) Constraint {
	return func(t *macaroon.Token) (*macaroon.Token, error) {
		return t.AddFirstPartyCaveat(macaroon.Predicate(caveat)), nil
	}
}

// TimeoutConstraint restricts the lifetime of the token to the amount of
// seconds given, counted from the current time of c.
func TimeoutConstraint(seconds int64, c clock.Clock) Constraint {
	return func(t *macaroon.Token) (*macaroon.Token, error) {
		timeout := time.Duration(seconds) * time.Second
		caveat := checkers.TimeBeforeCaveat(c.Now().Add(timeout))

		return firstParty(caveat.Condition)(t)
	}
}

// IPLockConstraint locks a token to a specific IP address. If address is an
// empty string, this constraint does nothing to accommodate default value's
// desired behavior.
func IPLockConstraint(ipAddr string) Constraint {
	return func(t *macaroon.Token) (*macaroon.Token, error) {
		if ipAddr == "" {
			return t, nil
		}

		tokenIPAddr := net.ParseIP(ipAddr)
		if tokenIPAddr == nil {
			return nil, fmt.Errorf("incorrect token IP-lock "+
				"address %q", ipAddr)
		}

		caveat := checkers.Condition(
			CondIPAddress, tokenIPAddr.String(),
		)

		return firstParty(caveat)(t)
	}
}

// MethodConstraint restricts a token to calls of the given gRPC method.
func MethodConstraint(fullMethod string) Constraint {
	return firstParty(fmt.Sprintf("%s = %s", CondMethod, fullMethod))
}

// CustomConstraint returns a constraint that adds a custom caveat with the
// given name and an optional condition.
func CustomConstraint(name, condition string) Constraint {
	return func(t *macaroon.Token) (*macaroon.Token, error) {
		if len(name) == 0 {
			return nil, fmt.Errorf("name cannot be empty")
		}
		if strings.ContainsAny(name, " \t\n") {
			return nil, fmt.Errorf("name %q cannot contain "+
				"whitespace", name)
		}

		arg := name
		if len(condition) > 0 {
			arg = fmt.Sprintf("%s %s", name, condition)
		}
		caveat := checkers.Condition(CondLndCustom, arg)

		return firstParty(caveat)(t)
	}
}

// ParseCustomCaveat parses a custom caveat condition and returns the name of
// the custom caveat and its condition, if any.
func ParseCustomCaveat(caveat string) (string, string, error) {
	cond, arg, err := checkers.ParseCaveat(caveat)
	if err != nil {
		return "", "", err
	}
	if cond != CondLndCustom {
		return "", "", fmt.Errorf("not a custom caveat: %q", cond)
	}

	name, condition, _ := strings.Cut(arg, " ")
	if len(name) == 0 {
		return "", "", fmt.Errorf("custom caveat has no name")
	}

	return name, condition, nil
}

// conditionMatcher returns a matcher for predicates of the given condition
// that accepts the argument if accept returns true.
func conditionMatcher(cond string, accept func(arg string) bool) Matcher {
	return MatcherFunc(func(p macaroon.Predicate) bool {
		caveatCond, arg, err := checkers.ParseCaveat(string(p))
		if err != nil || caveatCond != cond {
			return false
		}

		return accept(arg)
	})
}

// TimeBeforeMatcher accepts "time-before" caveats whose deadline is still in
// the future according to c.
func TimeBeforeMatcher(c clock.Clock) Matcher {
	return conditionMatcher(CondTimeBefore, func(arg string) bool {
		deadline, err := time.Parse(time.RFC3339Nano, arg)
		if err != nil {
			return false
		}

		return c.Now().Before(deadline)
	})
}

// IPLockMatcher accepts "ipaddr" caveats locked to the given client IP.
func IPLockMatcher(clientIP net.IP) Matcher {
	return conditionMatcher(CondIPAddress, func(arg string) bool {
		return net.ParseIP(arg).Equal(clientIP)
	})
}

// CustomMatcher accepts every custom caveat with the given name, regardless
// of its condition. Interpreting the condition is left to the caller, see
// ParseCustomCaveat.
func CustomMatcher(name string) Matcher {
	return conditionMatcher(CondLndCustom, func(arg string) bool {
		caveatName, _, _ := strings.Cut(arg, " ")
		return caveatName == name
	})
}
