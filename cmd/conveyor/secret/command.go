// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret implements the "conveyor secret" subcommands for
// sealed pipeline secrets: keygen writes an age identity, seal
// encrypts a value for pasting into a definition's env block.
package secret

import (
	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
)

// Command returns the top-level "secret" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "secret",
		Summary: "Manage sealed pipeline secrets",
		Description: `Sealed secrets let a pipeline definition carry encrypted env values
("sealed:" + age ciphertext) that only a holder of the identity file
can decrypt. Generate an identity once with keygen, seal values
against its printed recipient, and point runs at the identity with
--identity.`,
		Subcommands: []*cli.Command{
			keygenCommand(),
			sealCommand(),
		},
	}
}
