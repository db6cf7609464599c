// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package provision creates the execution context a pipeline run
// needs: a working directory, a merged environment with sealed values
// decrypted, and any system packages the definition asks for. The
// context is acquired before the first step and released exactly once
// when the run reaches a terminal state, whatever path it took there.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/conveyor-ci/conveyor/lib/schema"
	"github.com/conveyor-ci/conveyor/lib/sealed"
	"github.com/conveyor-ci/conveyor/lib/secret"
)

// Provisioner builds execution contexts from pipeline definitions.
// The zero value provisions with the process environment, no package
// installer, and no decryption identity; configure the fields before
// first use.
type Provisioner struct {
	// Installer handles the definition's packages list. Required
	// only for pipelines that declare packages; provisioning such a
	// pipeline without an installer is an error.
	Installer PackageInstaller

	// IdentityPath is the age identity file used to decrypt sealed
	// env values. Required only for pipelines that use them.
	IdentityPath string

	// Environ is the base process environment in "NAME=value" form.
	// Nil means os.Environ(). Pipeline env values override it.
	Environ []string

	// Logger receives provisioning progress. Nil means slog.Default.
	Logger *slog.Logger
}

// Context is a provisioned execution environment for one run. Steps
// execute in Workdir with Env. Release must be called when the run
// reaches a terminal state; calling it more than once is safe, only
// the first call releases anything.
type Context struct {
	// Workdir is the directory step commands run in.
	Workdir string

	// Env is the merged execution environment, sorted, one
	// "NAME=value" entry per variable: the process environment with
	// the pipeline's env overlay applied and sealed values
	// decrypted.
	Env []string

	temporary bool
	released  bool
	logger    *slog.Logger
}

// Release cleans up the context's temporary state. Safe to call more
// than once; later calls do nothing.
func (c *Context) Release() {
	if c.released {
		return
	}
	c.released = true
	if !c.temporary {
		return
	}
	if err := os.RemoveAll(c.Workdir); err != nil {
		c.logger.Warn("removing run directory", "workdir", c.Workdir, "error", err)
	}
}

// Provision builds the execution context for one run of the
// definition: the working directory (the definition's workdir,
// created if missing, or a fresh temporary directory), the merged
// environment, and the definition's system packages installed via the
// Installer. Any failure aborts the run before its first step; no
// partial context escapes.
func (p *Provisioner) Provision(ctx context.Context, content *schema.PipelineContent) (*Context, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workdir := content.Workdir
	temporary := false
	if workdir == "" {
		created, err := os.MkdirTemp("", "conveyor-run-")
		if err != nil {
			return nil, fmt.Errorf("creating run directory: %w", err)
		}
		workdir = created
		temporary = true
	} else if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workdir %s: %w", workdir, err)
	}

	// From here on an error must unwind the temporary directory.
	committed := false
	defer func() {
		if !committed && temporary {
			os.RemoveAll(workdir)
		}
	}()

	env, sealedCount, err := p.mergeEnv(content.Env)
	if err != nil {
		return nil, err
	}
	if sealedCount > 0 {
		logger.Info("decrypted sealed env values", "pipeline", content.Name, "count", sealedCount)
	}

	if len(content.Packages) > 0 {
		if p.Installer == nil {
			return nil, errors.New("pipeline requires system packages but no installer is configured")
		}
		logger.Info("installing system packages", "pipeline", content.Name, "packages", content.Packages)
		if err := p.Installer.Install(ctx, content.Packages); err != nil {
			return nil, fmt.Errorf("installing system packages: %w", err)
		}
	}

	committed = true
	return &Context{
		Workdir:   workdir,
		Env:       env,
		temporary: temporary,
		logger:    logger,
	}, nil
}

// mergeEnv applies the pipeline env overlay to the base environment
// and decrypts sealed values. Returns the merged environment sorted
// by name, plus how many sealed values were decrypted.
func (p *Provisioner) mergeEnv(overlay map[string]string) ([]string, int, error) {
	base := p.Environ
	if base == nil {
		base = os.Environ()
	}

	merged := make(map[string]string, len(base)+len(overlay))
	for _, entry := range base {
		name, value, found := strings.Cut(entry, "=")
		if !found || name == "" {
			continue
		}
		merged[name] = value
	}

	var identity *secret.Buffer
	defer func() {
		if identity != nil {
			identity.Close()
		}
	}()

	sealedCount := 0
	names := make([]string, 0, len(overlay))
	for name := range overlay {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := overlay[name]
		if sealed.IsSealed(value) {
			if identity == nil {
				if p.IdentityPath == "" {
					return nil, 0, fmt.Errorf("env %s is sealed but no identity file is configured", name)
				}
				loaded, err := sealed.LoadIdentity(p.IdentityPath)
				if err != nil {
					return nil, 0, fmt.Errorf("loading identity: %w", err)
				}
				identity = loaded
			}
			plaintext, err := sealed.Unseal(value, identity)
			if err != nil {
				return nil, 0, fmt.Errorf("decrypting sealed env %s: %w", name, err)
			}
			value = plaintext.String()
			plaintext.Close()
			sealedCount++
		}
		merged[name] = value
	}

	entries := make([]string, 0, len(merged))
	for name, value := range merged {
		entries = append(entries, name+"="+value)
	}
	sort.Strings(entries)
	return entries, sealedCount, nil
}
