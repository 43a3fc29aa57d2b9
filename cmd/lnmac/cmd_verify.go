package main

import (
	"bytes"
	"fmt"
	"net"
	"strings"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnmac/macaroon"
	"github.com/lightningnetwork/lnmac/macaroons"
	"github.com/urfave/cli"
)

var verifyCommand = cli.Command{
	Name:      "verify",
	Category:  "Tokens",
	Usage:     "Verify a token against its root key.",
	ArgsUsage: "[--macaroon_file=] [token]",
	Description: `
	Check the signature chain of a token and evaluate each of its caveats.

	Time-before caveats are always checked against the current time. Any
	other first-party caveat must be accepted by one of --allow (exact
	predicate), --allow_eq (tag=value equality), --allow_custom (custom
	caveat name), --ip_address or --method. Third-party caveats can't be
	discharged by this command and cause the check to fail.

	If --root_key is not given, the root key is looked up in the root key
	store by the root key ID recorded in the token's identifier.
	`,
	Flags: []cli.Flag{
		macFileFlag,
		rootKeyFlag,
		cli.StringSliceFlag{
			Name:  "allow",
			Usage: "a first-party caveat predicate to accept",
		},
		cli.StringSliceFlag{
			Name:  "allow_eq",
			Usage: "accept caveats of the form \"tag = value\"",
		},
		cli.StringSliceFlag{
			Name:  "allow_custom",
			Usage: "accept custom caveats with this name",
		},
		cli.StringFlag{
			Name:  "ip_address",
			Usage: "the IP address to check IP-locked tokens " +
				"against",
		},
		cli.StringFlag{
			Name:  "method",
			Usage: "the method URI to check method-locked " +
				"tokens for",
		},
	},
	Action: verify,
}

func verify(ctx *cli.Context) error {
	// Show command help if no arguments or flags are set.
	if ctx.NArg() == 0 && ctx.NumFlags() == 0 {
		return cli.ShowCommandHelp(ctx, "verify")
	}

	token, err := readToken(ctx)
	if err != nil {
		return err
	}

	matchers, err := matchersFromFlags(
		ctx.StringSlice("allow"), ctx.StringSlice("allow_eq"),
		ctx.StringSlice("allow_custom"), ctx.String("ip_address"),
		ctx.String("method"),
	)
	if err != nil {
		return err
	}

	if ctx.IsSet(rootKeyFlag.Name) {
		rootKey, err := parseRootKey(ctx)
		if err != nil {
			return err
		}

		err = verifyWithRootKey(rootKey, token, clock.NewDefaultClock(),
			matchers...)
		if err != nil {
			return describeFailure(err)
		}
	} else {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		svc, cleanUp, err := openService(cfg, "", nil)
		if err != nil {
			return err
		}
		defer cleanUp()

		ctxc, cancel := getContext()
		defer cancel()

		err = svc.CheckMacaroon(ctxc, token, matchers...)
		if err != nil {
			return describeFailure(err)
		}
	}

	fmt.Println("Token is valid")

	return nil
}

// verifyWithRootKey checks the token against rootKey, accepting unexpired
// time-before caveats and anything accepted by ms.
func verifyWithRootKey(rootKey []byte, token *macaroon.Token, c clock.Clock,
	ms ...macaroons.Matcher) error {

	v := macaroons.NewVerifier(ms...)
	v.Register(macaroons.TimeBeforeMatcher(c))

	return v.Verify(rootKey, token)
}

// matchersFromFlags builds the matchers the verify command accepts caveats
// with.
func matchersFromFlags(allow, allowEq, allowCustom []string, ipAddress,
	method string) ([]macaroons.Matcher, error) {

	var matchers []macaroons.Matcher
	for _, predicate := range allow {
		want := []byte(predicate)
		matchers = append(matchers, macaroons.MatcherFunc(
			func(p macaroon.Predicate) bool {
				return bytes.Equal(p, want)
			},
		))
	}

	for _, pair := range allowEq {
		tag, value, ok := strings.Cut(pair, "=")
		tag, value = strings.TrimSpace(tag), strings.TrimSpace(value)
		if !ok || tag == "" {
			return nil, fmt.Errorf("unable to parse %q, expected "+
				"tag=value", pair)
		}

		matchers = append(matchers, macaroons.Equality(tag, value))
	}

	for _, name := range allowCustom {
		matchers = append(matchers, macaroons.CustomMatcher(name))
	}

	if ipAddress != "" {
		ip := net.ParseIP(ipAddress)
		if ip == nil {
			return nil, fmt.Errorf("unable to parse ip_address: %s",
				ipAddress)
		}

		matchers = append(matchers, macaroons.IPLockMatcher(ip))
	}

	if method != "" {
		matchers = append(matchers, macaroons.Equality(
			macaroons.CondMethod, method,
		))
	}

	return matchers, nil
}

// describeFailure wraps a verification error for display.
func describeFailure(err error) error {
	return fmt.Errorf("token is invalid: %w", err)
}
