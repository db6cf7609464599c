// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline loads pipeline definitions from disk and prepares
// their steps for execution. Definitions are authored in YAML or JSONC
// (JSON extended with comments and trailing commas); both decode into
// the same schema.PipelineContent.
//
// The typical flow:
//
//  1. ReadFile: definition bytes → schema.PipelineContent
//  2. content.Validate: structural checks, all issues reported
//  3. ResolveVariables: declarations + event variables + environment → variable map
//  4. ExpandStep: substitute ${NAME} references in each step before execution
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/conveyor-ci/conveyor/lib/schema"
)

// ParseJSONC strips JSONC comments and trailing commas from data, then
// unmarshals the result into a PipelineContent.
func ParseJSONC(data []byte) (*schema.PipelineContent, error) {
	stripped := jsonc.ToJSON(data)

	var content schema.PipelineContent
	if err := json.Unmarshal(stripped, &content); err != nil {
		return nil, fmt.Errorf("parsing pipeline: %w", err)
	}

	return &content, nil
}

// ParseYAML unmarshals a YAML pipeline definition into a
// PipelineContent.
func ParseYAML(data []byte) (*schema.PipelineContent, error) {
	var content schema.PipelineContent
	if err := yaml.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("parsing pipeline: %w", err)
	}

	return &content, nil
}

// ReadFile reads a pipeline definition from disk, choosing the format
// by file extension: .yaml and .yml parse as YAML, .json and .jsonc as
// JSONC. Returns a descriptive error if the extension is unknown, the
// file cannot be read, or the content is malformed.
func ReadFile(path string) (*schema.PipelineContent, error) {
	var parse func([]byte) (*schema.PipelineContent, error)
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		parse = ParseYAML
	case ".json", ".jsonc":
		parse = ParseJSONC
	default:
		return nil, fmt.Errorf("%s: unsupported definition extension (use .yaml, .yml, .json, or .jsonc)", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	content, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return content, nil
}
