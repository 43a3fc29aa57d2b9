package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lightningnetwork/lnmac/macaroon"
	"github.com/lightningnetwork/lnmac/macaroons"
	"github.com/urfave/cli"
)

// tokenContent is the printable content of a token. The root key ID and
// nonce are only set for tokens minted by a service.
type tokenContent struct {
	macaroon.Inspection

	RootKeyID string `json:"root_key_id,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
}

var printMacaroonCommand = cli.Command{
	Name:      "printmacaroon",
	Category:  "Tokens",
	Usage:     "Print the content of a token in a human readable format.",
	ArgsUsage: "[--macaroon_file=] [token]",
	Description: `
	Decode a token and show its content in a more human readable format.
	The token can either be passed as a positional parameter or loaded
	from a file.
	`,
	Flags: []cli.Flag{
		macFileFlag,
		cli.BoolFlag{
			Name:  "table",
			Usage: "print the caveats as a table instead of JSON",
		},
	},
	Action: printMacaroon,
}

func printMacaroon(ctx *cli.Context) error {
	// Show command help if no arguments or flags are set.
	if ctx.NArg() == 0 && ctx.NumFlags() == 0 {
		return cli.ShowCommandHelp(ctx, "printmacaroon")
	}

	token, err := readToken(ctx)
	if err != nil {
		return err
	}

	content := inspectToken(token)
	if ctx.Bool("table") {
		renderTable(os.Stdout, content)
		return nil
	}

	printJSON(content)

	return nil
}

// inspectToken returns the printable content of the token, including the
// decoded service identifier if it carries one.
func inspectToken(token *macaroon.Token) tokenContent {
	content := tokenContent{
		Inspection: token.Inspect(),
	}

	id, err := macaroons.DecodeIdentifier(token.Identifier())
	if err == nil {
		content.RootKeyID = string(id.RootKeyID)
		content.Nonce = hex.EncodeToString(id.Nonce[:])
	}

	return content
}

// renderTable writes the token content as a table to w.
func renderTable(w io.Writer, content tokenContent) {
	header := table.NewWriter()
	header.SetOutputMirror(w)
	header.SetStyle(table.StyleLight)
	header.AppendRows([]table.Row{
		{"Identifier", content.Identifier},
		{"Location", content.Location},
		{"Signature", content.Signature},
	})
	if content.RootKeyID != "" {
		header.AppendRow(table.Row{"Root key ID", content.RootKeyID})
	}
	header.Render()

	if len(content.Caveats) == 0 {
		fmt.Fprintln(w, "No caveats")
		return
	}

	caveats := table.NewWriter()
	caveats.SetOutputMirror(w)
	caveats.SetStyle(table.StyleLight)
	caveats.AppendHeader(table.Row{"#", "Type", "Caveat", "Location"})
	for _, c := range content.Caveats {
		kind := "first-party"
		if c.ThirdParty {
			kind = "third-party"
		}
		caveats.AppendRow(table.Row{c.Index, kind, c.ID, c.Location})
	}
	caveats.Render()
}
