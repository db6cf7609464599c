// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"fmt"
	"os"

	"github.com/conveyor-ci/conveyor/lib/secret"
)

// WriteIdentityFile writes the keypair's private key to path with 0600
// permissions. Refuses to overwrite an existing file: a lost identity
// means re-sealing every secret.
func WriteIdentityFile(path string, keypair *Keypair) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("identity file %s already exists", path)
		}
		return fmt.Errorf("creating identity file %s: %w", path, err)
	}

	_, writeErr := file.Write(keypair.PrivateKey.Bytes())
	if writeErr == nil {
		_, writeErr = file.WriteString("\n")
	}
	if closeErr := file.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(path)
		return fmt.Errorf("writing identity file %s: %w", path, writeErr)
	}
	return nil
}

// LoadIdentity reads and validates an age identity from path ("-" for
// stdin). The returned buffer is mmap-backed and must be closed by the
// caller.
func LoadIdentity(path string) (*secret.Buffer, error) {
	buffer, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	if err := ParsePrivateKey(buffer); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("identity file %s: %w", path, err)
	}
	return buffer, nil
}
