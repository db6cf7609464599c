// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/sealed"
)

// keygenCommand returns the "keygen" subcommand.
func keygenCommand() *cli.Command {
	var identityPath string

	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate a sealing identity",
		Description: `Generate an age x25519 keypair. The private key is written to the
identity file with 0600 permissions (an existing file is never
overwritten); the public recipient key is printed to stdout for use
with "conveyor secret seal --recipient".`,
		Usage: "conveyor secret keygen --identity FILE",
		Examples: []cli.Example{
			{
				Description: "Generate the runner's identity",
				Command:     "conveyor secret keygen --identity /etc/conveyor/identity",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVar(&identityPath, "identity", "", "where to write the private key")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q (all inputs are flags)", args[0])
			}
			if identityPath == "" {
				return errors.New("--identity is required")
			}

			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()

			if err := sealed.WriteIdentityFile(identityPath, keypair); err != nil {
				return err
			}

			logger.Info("identity written", "path", identityPath)
			fmt.Println(keypair.PublicKey)
			return nil
		},
	}
}
