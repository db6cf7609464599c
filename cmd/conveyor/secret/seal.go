// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/sealed"
	"github.com/conveyor-ci/conveyor/lib/secret"
)

// sealCommand returns the "seal" subcommand.
func sealCommand() *cli.Command {
	var recipients []string

	return &cli.Command{
		Name:    "seal",
		Summary: "Encrypt a value for a pipeline definition",
		Description: `Read a secret and print its sealed form for pasting into a
definition's env block. When stdin is a terminal the secret is
prompted without echo; otherwise stdin is read whole (with a trailing
newline stripped), so values can be piped in.

Sealing against several recipients produces one value any of their
identities can decrypt.`,
		Usage: "conveyor secret seal --recipient age1... [flags]",
		Examples: []cli.Example{
			{
				Description: "Seal an API token interactively",
				Command:     "conveyor secret seal --recipient age1ql3z7hjy54pw3hyww5ayyfg7zqgvc7w3j2elw8zmrj2kg5sfn9aqmcac8p",
			},
			{
				Description: "Seal a value from a file",
				Command:     "conveyor secret seal --recipient age1... < token.txt",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("seal", pflag.ContinueOnError)
			flagSet.StringArrayVar(&recipients, "recipient", nil, "age recipient public key (repeatable)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q (all inputs are flags)", args[0])
			}
			if len(recipients) == 0 {
				return errors.New("--recipient is required")
			}

			plaintext, err := readPlaintext()
			if err != nil {
				return err
			}
			defer plaintext.Close()

			value, err := sealed.Seal(plaintext.Bytes(), recipients)
			if err != nil {
				return err
			}

			fmt.Println(value)
			return nil
		},
	}
}

// readPlaintext reads the secret into protected memory: prompted
// without echo when stdin is a terminal, read whole otherwise.
func readPlaintext() (*secret.Buffer, error) {
	stdinFileDescriptor := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFileDescriptor) {
		fmt.Fprint(os.Stderr, "Secret: ")
		raw, err := term.ReadPassword(stdinFileDescriptor)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading secret: %w", err)
		}
		if len(raw) == 0 {
			return nil, errors.New("empty secret")
		}
		return secret.NewFromBytes(raw)
	}

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	raw = bytes.TrimSuffix(raw, []byte("\n"))
	if len(raw) == 0 {
		return nil, errors.New("empty secret")
	}
	return secret.NewFromBytes(raw)
}
