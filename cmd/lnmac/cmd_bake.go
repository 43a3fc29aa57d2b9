package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"unicode"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnmac/macaroon"
	"github.com/lightningnetwork/lnmac/macaroons"
	"github.com/urfave/cli"
)

var (
	macTimeoutFlag = cli.Uint64Flag{
		Name: "timeout",
		Usage: "the number of seconds the token will be valid " +
			"before it times out",
	}
	macIPAddressFlag = cli.StringFlag{
		Name:  "ip_address",
		Usage: "the IP address the token will be bound to",
	}
	macMethodFlag = cli.StringFlag{
		Name:  "method",
		Usage: "the full gRPC method URI the token will be bound to",
	}
	macCustomCaveatNameFlag = cli.StringFlag{
		Name:  "custom_caveat_name",
		Usage: "the name of the custom caveat to add",
	}
	macCustomCaveatConditionFlag = cli.StringFlag{
		Name: "custom_caveat_condition",
		Usage: "the condition of the custom caveat to add, can be " +
			"empty if custom caveat doesn't need a value",
	}
	macFirstPartyFlag = cli.StringSliceFlag{
		Name:  "first_party",
		Usage: "a raw first-party caveat predicate to add",
	}
	macThirdPartyFlag = cli.StringSliceFlag{
		Name: "third_party",
		Usage: "a third-party caveat to add, formatted as " +
			"<hex caveat key>:<caveat id>:<location>",
	}
	rootKeyFlag = cli.StringFlag{
		Name: "root_key",
		Usage: "if the root key is known, it can be passed directly " +
			"as a hex encoded string, turning the command into " +
			"an offline operation",
	}
	saveToFlag = cli.StringFlag{
		Name:  "save_to",
		Usage: "save the created token to this file",
	}
	macFileFlag = cli.StringFlag{
		Name: "macaroon_file",
		Usage: "load the token from a file instead of the command " +
			"line directly",
	}
	locationFlag = cli.StringFlag{
		Name:  "location",
		Usage: "the location hint to record in the token",
	}

	constraintFlags = []cli.Flag{
		macTimeoutFlag,
		macIPAddressFlag,
		macMethodFlag,
		macCustomCaveatNameFlag,
		macCustomCaveatConditionFlag,
		macFirstPartyFlag,
		macThirdPartyFlag,
	}
)

var bakeCommand = cli.Command{
	Name:     "bake",
	Category: "Tokens",
	Usage:    "Bakes a new token with the provided restrictions.",
	ArgsUsage: "[--root_key= [--id=]] [--root_key_id=] [--location=] " +
		"[--timeout=] [--ip_address=] [--method=] " +
		"[--custom_caveat_name= [--custom_caveat_condition=]] " +
		"[--save_to=]",
	Description: `
	Bake a new token and optionally add restrictions (timeout, IP address,
	method, custom or raw caveats) to it.

	If the root key is known it can be passed as a hex encoded string
	using the --root_key flag. This turns the command into an offline
	operation. Together with --id, the token is minted with exactly that
	identifier. Otherwise the token carries an identifier that names the
	default root key, so it can be checked with "lnmac verify --root_key".

	Without --root_key the root key is taken from the password protected
	root key store in the data directory, looked up by --root_key_id.
	`,
	Flags: append([]cli.Flag{
		rootKeyFlag,
		cli.StringFlag{
			Name: "id",
			Usage: "the raw token identifier, only used together " +
				"with --root_key",
		},
		cli.StringFlag{
			Name:  "root_key_id",
			Value: string(macaroons.DefaultRootKeyID),
			Usage: "the root key ID to mint the token with",
		},
		locationFlag,
		saveToFlag,
	}, constraintFlags...),
	Action: bake,
}

func bake(ctx *cli.Context) error {
	constraints, err := parseConstraints(ctx)
	if err != nil {
		return err
	}

	location := ctx.String(locationFlag.Name)

	var token *macaroon.Token
	switch {
	case ctx.IsSet(rootKeyFlag.Name) && ctx.IsSet("id"):
		rootKey, err := parseRootKey(ctx)
		if err != nil {
			return err
		}

		loc := fn.None[[]byte]()
		if location != "" {
			loc = fn.Some([]byte(location))
		}

		token = macaroon.New(rootKey, []byte(ctx.String("id")), loc)
		token, err = macaroons.AddConstraints(token, constraints...)
		if err != nil {
			return fmt.Errorf("error adding constraints: %w", err)
		}

	case ctx.IsSet(rootKeyFlag.Name):
		rootKey, err := parseRootKey(ctx)
		if err != nil {
			return err
		}

		token, err = macaroons.BakeFromRootKey(
			rootKey, location, constraints...,
		)
		if err != nil {
			return fmt.Errorf("unable to bake token: %w", err)
		}

	default:
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		svc, cleanUp, err := openService(cfg, location, nil)
		if err != nil {
			return err
		}
		defer cleanUp()

		ctxc, cancel := getContext()
		defer cancel()

		rootKeyID := []byte(ctx.String("root_key_id"))
		token, err = svc.NewMacaroon(ctxc, rootKeyID, constraints...)
		if err != nil {
			return fmt.Errorf("unable to bake token: %w", err)
		}
	}

	return writeToken(ctx, token)
}

var constrainCommand = cli.Command{
	Name:      "constrain",
	Category:  "Tokens",
	Usage:     "Adds one or more restriction(s) to an existing token.",
	ArgsUsage: "[--macaroon_file=] [token] [--save_to=]",
	Description: `
	Add one or more caveat(s) to an existing token. This works offline,
	the root key is not needed to attenuate a token.

	Third-party caveats are given as <hex caveat key>:<caveat id>:<location>
	and must be discharged by the named third party before the token is
	accepted.
	`,
	Flags:  append([]cli.Flag{macFileFlag, saveToFlag}, constraintFlags...),
	Action: constrain,
}

func constrain(ctx *cli.Context) error {
	// Show command help if no token is given.
	if ctx.NArg() == 0 && !ctx.IsSet(macFileFlag.Name) {
		return cli.ShowCommandHelp(ctx, "constrain")
	}

	token, err := readToken(ctx)
	if err != nil {
		return err
	}

	constraints, err := parseConstraints(ctx)
	if err != nil {
		return err
	}

	// Now apply the desired constraints to the token. This will always
	// create a new token object, even if no constraints are added.
	token, err = macaroons.AddConstraints(token, constraints...)
	if err != nil {
		return fmt.Errorf("error adding constraints: %w", err)
	}

	return writeToken(ctx, token)
}

// parseRootKey decodes the hex encoded --root_key flag.
func parseRootKey(ctx *cli.Context) ([]byte, error) {
	rootKey, err := hex.DecodeString(ctx.String(rootKeyFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("unable to parse root key: %w", err)
	}
	if len(rootKey) == 0 {
		return nil, fmt.Errorf("root key cannot be empty")
	}

	return rootKey, nil
}

// parseConstraints parses all currently supported constraint flags from the
// command line.
func parseConstraints(ctx *cli.Context) ([]macaroons.Constraint, error) {
	return constraintsFromFlags(flagValues{
		timeoutSet:   ctx.IsSet(macTimeoutFlag.Name),
		timeout:      ctx.Int64(macTimeoutFlag.Name),
		ipAddress:    ctx.String(macIPAddressFlag.Name),
		method:       ctx.String(macMethodFlag.Name),
		customName:   ctx.String(macCustomCaveatNameFlag.Name),
		customCond:   ctx.String(macCustomCaveatConditionFlag.Name),
		customSet:    ctx.IsSet(macCustomCaveatNameFlag.Name),
		firstParties: ctx.StringSlice(macFirstPartyFlag.Name),
		thirdParties: ctx.StringSlice(macThirdPartyFlag.Name),
	}, clock.NewDefaultClock())
}

// flagValues holds the raw values of the constraint flags.
type flagValues struct {
	timeoutSet   bool
	timeout      int64
	ipAddress    string
	method       string
	customSet    bool
	customName   string
	customCond   string
	firstParties []string
	thirdParties []string
}

// constraintsFromFlags turns the raw flag values into constraints. The
// constraints are applied in a fixed order: timeout, IP lock, method, custom
// caveat, raw first-party caveats and finally third-party caveats.
func constraintsFromFlags(f flagValues,
	c clock.Clock) ([]macaroons.Constraint, error) {

	var constraints []macaroons.Constraint

	if f.timeoutSet {
		if f.timeout <= 0 {
			return nil, fmt.Errorf("timeout must be greater than 0")
		}
		constraints = append(
			constraints, macaroons.TimeoutConstraint(f.timeout, c),
		)
	}

	if f.ipAddress != "" {
		ipAddress := net.ParseIP(f.ipAddress)
		if ipAddress == nil {
			return nil, fmt.Errorf("unable to parse ip_address: %s",
				f.ipAddress)
		}

		constraints = append(
			constraints,
			macaroons.IPLockConstraint(ipAddress.String()),
		)
	}

	if f.method != "" {
		if !strings.HasPrefix(f.method, "/") {
			return nil, fmt.Errorf("method must be a full URI "+
				"like /package.Service/Method, got %q",
				f.method)
		}
		constraints = append(
			constraints, macaroons.MethodConstraint(f.method),
		)
	}

	if f.customSet {
		if f.customName == "" {
			return nil, fmt.Errorf("invalid custom caveat name")
		}
		if containsWhiteSpace(f.customName) {
			return nil, fmt.Errorf("unexpected white space found " +
				"in custom caveat name")
		}
		if containsWhiteSpace(f.customCond) {
			return nil, fmt.Errorf("unexpected white space found " +
				"in custom caveat condition")
		}

		// The custom caveat condition is optional, it could just be
		// a marker tag in the token with just a name.
		constraints = append(
			constraints, macaroons.CustomConstraint(
				f.customName, f.customCond,
			),
		)
	}

	for _, predicate := range f.firstParties {
		if predicate == "" {
			return nil, fmt.Errorf("first-party caveat cannot " +
				"be empty")
		}

		constraints = append(
			constraints, firstPartyConstraint(predicate),
		)
	}

	for _, raw := range f.thirdParties {
		constraint, err := parseThirdParty(raw)
		if err != nil {
			return nil, err
		}

		constraints = append(constraints, constraint)
	}

	return constraints, nil
}

// firstPartyConstraint adds the raw predicate as a first-party caveat.
func firstPartyConstraint(predicate string) macaroons.Constraint {
	return func(t *macaroon.Token) (*macaroon.Token, error) {
		p := macaroon.Predicate(predicate)
		return t.AddFirstPartyCaveat(p), nil
	}
}

// parseThirdParty parses a <hex caveat key>:<caveat id>:<location> triple
// into a constraint adding the third-party caveat. The location may itself
// contain colons.
func parseThirdParty(raw string) (macaroons.Constraint, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("unable to parse third-party caveat "+
			"%q, expected key:id:location", raw)
	}

	key, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("unable to parse third-party caveat "+
			"key: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("third-party caveat key cannot be " +
			"empty")
	}
	if parts[1] == "" {
		return nil, fmt.Errorf("third-party caveat id cannot be " +
			"empty")
	}

	id, location := []byte(parts[1]), []byte(parts[2])

	return func(t *macaroon.Token) (*macaroon.Token, error) {
		return t.AddThirdPartyCaveat(key, id, location)
	}, nil
}

// containsWhiteSpace returns true if the given string contains any character
// that is considered to be a white space or non-printable character such as
// space, tabulator, newline, carriage return and some more exotic ones.
func containsWhiteSpace(str string) bool {
	return strings.IndexFunc(str, unicode.IsSpace) >= 0
}
