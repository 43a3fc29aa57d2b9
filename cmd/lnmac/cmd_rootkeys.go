package main

import (
	"bytes"
	"fmt"

	"github.com/lightningnetwork/lnmac/macaroons"
	"github.com/urfave/cli"
)

var rootKeysCommand = cli.Command{
	Name:     "rootkeys",
	Category: "Root keys",
	Usage:    "Manage the password protected root key store.",
	Subcommands: []cli.Command{
		{
			Name:  "create",
			Usage: "Create the root key store or check its " +
				"password.",
			Description: `
	Create the encrypted root key store in the data directory if it
	doesn't exist yet, protected by the password read from the terminal.
	If the store exists, the password is checked against it.
	`,
			Action: createRootKeys,
		},
		{
			Name:   "list",
			Usage:  "List all root key IDs in use.",
			Action: listRootKeys,
		},
		{
			Name:      "delete",
			Usage:     "Delete a specific root key ID.",
			ArgsUsage: "root_key_id",
			Description: `
	Remove a root key using the specified root key ID.

	WARNING
	When the ID is deleted, all tokens created from that root key will
	be invalidated.

	Note that the default root key ID 0 cannot be deleted.
	`,
			Action: deleteRootKey,
		},
		{
			Name:  "rotate",
			Usage: "Replace every root key with a fresh one.",
			Description: `
	Generate new root keys for all root key IDs in use. All tokens minted
	before will be invalidated.
	`,
			Action: rotateRootKeys,
		},
		{
			Name:   "changepassword",
			Usage:  "Re-encrypt the root key store.",
			Action: changeRootKeyPassword,
		},
	},
}

func createRootKeys(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	_, cleanUp, err := openService(cfg, "", nil)
	if err != nil {
		return err
	}
	defer cleanUp()

	fmt.Printf("Root key store at %s is unlocked\n", cfg.RootKeyDBPath())

	return nil
}

func listRootKeys(ctx *cli.Context) error {
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

	ids, err := svc.ListMacaroonIDs(ctxc)
	if err != nil {
		return err
	}

	rootKeyIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		rootKeyIDs = append(rootKeyIDs, string(id))
	}

	printJSON(struct {
		RootKeyIDs []string `json:"root_key_ids"`
	}{
		RootKeyIDs: rootKeyIDs,
	})

	return nil
}

func deleteRootKey(ctx *cli.Context) error {
	// Validate args length. Only one argument is allowed.
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "delete")
	}

	rootKeyID := []byte(ctx.Args().First())

	// Check that the value is not equal to DefaultRootKeyID. Note that the
	// store also validates the root key ID when removing it. However, we
	// check it here too so that we can give users a nice warning.
	if bytes.Equal(rootKeyID, macaroons.DefaultRootKeyID) {
		return fmt.Errorf("deleting the default root key ID 0 is not " +
			"allowed")
	}

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

	deleted, err := svc.DeleteMacaroonID(ctxc, rootKeyID)
	if err != nil {
		return err
	}

	printJSON(struct {
		Deleted bool `json:"deleted"`
	}{
		Deleted: deleted != nil,
	})

	return nil
}

func rotateRootKeys(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	svc, cleanUp, err := openService(cfg, "", nil)
	if err != nil {
		return err
	}
	defer cleanUp()

	if err := svc.GenerateNewRootKey(); err != nil {
		return err
	}

	fmt.Println("All root keys were replaced")

	return nil
}

func changeRootKeyPassword(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	oldPw, err := readPassword("Current password: ")
	if err != nil {
		return err
	}
	newPw, err := readPassword("New password: ")
	if err != nil {
		return err
	}
	confirmPw, err := readPassword("Confirm new password: ")
	if err != nil {
		return err
	}
	if !bytes.Equal(newPw, confirmPw) {
		return fmt.Errorf("passwords don't match")
	}

	svc, cleanUp, err := openService(cfg, "", oldPw)
	if err != nil {
		return err
	}
	defer cleanUp()

	if err := svc.ChangePassword(oldPw, newPw); err != nil {
		return err
	}

	fmt.Println("Root key store password changed")

	return nil
}
