package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnmac"
	"github.com/lightningnetwork/lnmac/macaroon"
	"github.com/lightningnetwork/lnmac/macaroons"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[lnmac] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "lnmac"
	app.Usage = "bake, attenuate and verify macaroon bearer tokens"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "lnmacdir",
			Value: lnmac.DefaultLnmacDir,
			Usage: "The path to lnmac's base directory.",
		},
		cli.StringFlag{
			Name:  "configfile",
			Usage: "The path to lnmac's config file.",
		},
		cli.StringFlag{
			Name: "debuglevel",
			Usage: "Logging level for all subsystems {trace, " +
				"debug, info, warn, error, critical}",
		},
	}
	app.Commands = []cli.Command{
		bakeCommand,
		constrainCommand,
		printMacaroonCommand,
		verifyCommand,
		rootKeysCommand,
		serveCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// loadConfig loads the lnmac config, applying the global command line flags
// on top of the config file.
func loadConfig(ctx *cli.Context) (*lnmac.Config, error) {
	var args []string
	for _, name := range []string{"lnmacdir", "configfile", "debuglevel"} {
		if !ctx.GlobalIsSet(name) {
			continue
		}

		args = append(
			args, fmt.Sprintf("--%s=%s", name,
				ctx.GlobalString(name)),
		)
	}

	return lnmac.LoadConfig(args)
}

// openService opens the root key store of the configured data directory,
// unlocks it with pw and returns a service on top of it. If pw is nil, the
// password is read from the terminal. The returned cleanup closure must be
// called when done.
func openService(cfg *lnmac.Config, location string,
	pw []byte) (*macaroons.Service, func(), error) {

	db, err := kvdb.Create(
		kvdb.BoltBackendName, cfg.RootKeyDBPath(), true,
		cfg.BoltTimeout, false,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open root key "+
			"database: %w", err)
	}

	store, err := macaroons.NewRootKeyStorage(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	cleanUp := func() {
		_ = store.Close()
		_ = db.Close()
	}

	if pw == nil {
		pw, err = readPassword("Root key store password: ")
		if err != nil {
			cleanUp()
			return nil, nil, err
		}
	}
	if err := store.CreateUnlock(&pw); err != nil {
		cleanUp()
		return nil, nil, fmt.Errorf("unable to unlock root key "+
			"store: %w", err)
	}

	if location == "" {
		location = cfg.Location
	}
	svc, err := macaroons.NewService(store, location)
	if err != nil {
		cleanUp()
		return nil, nil, err
	}

	return svc, cleanUp, nil
}

// readToken reads a serialized token either from the file given with
// --macaroon_file or from the first positional argument.
func readToken(ctx *cli.Context) (*macaroon.Token, error) {
	var raw string
	switch {
	case ctx.IsSet(macFileFlag.Name):
		path := lnmac.CleanAndExpandPath(ctx.String(macFileFlag.Name))
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read token file "+
				"%v: %w", path, err)
		}
		raw = string(content)

	case ctx.Args().Present():
		raw = ctx.Args().First()

	default:
		return nil, fmt.Errorf("token parameter missing")
	}

	token, err := macaroon.Deserialize([]byte(strings.TrimSpace(raw)))
	if err != nil {
		return nil, fmt.Errorf("unable to decode token: %w", err)
	}

	return token, nil
}

// writeToken serializes the token and either writes it to the file given with
// --save_to or prints it.
func writeToken(ctx *cli.Context, token *macaroon.Token) error {
	serialized, err := token.Serialize()
	if err != nil {
		return err
	}

	savePath := ctx.String(saveToFlag.Name)
	if savePath == "" {
		fmt.Printf("%s\n", serialized)
		return nil
	}

	savePath = lnmac.CleanAndExpandPath(savePath)
	if err := os.WriteFile(savePath, serialized, 0600); err != nil {
		return err
	}
	fmt.Printf("Token saved to %s\n", savePath)

	return nil
}

// getContext returns a context that is canceled on SIGINT or SIGTERM.
func getContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
}

func printJSON(resp interface{}) {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		fatal(err)
	}

	fmt.Printf("%s\n", b)
}

// readPassword reads a password from the terminal. This requires there to be
// an actual TTY so passing in a password from stdin won't work.
func readPassword(text string) ([]byte, error) {
	fmt.Print(text)

	// The variable syscall.Stdin is of a different type in the Windows API
	// that's why we need the explicit cast. And of course the linter
	// doesn't like it either.
	pw, err := term.ReadPassword(int(syscall.Stdin)) // nolint:unconvert
	fmt.Println()

	return pw, err
}
