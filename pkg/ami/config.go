// Copyright 2025 Esmero
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ami

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// OpMode is the operation a set performs against the target store.
type OpMode string

const (
	OpCreate OpMode = "create"
	OpUpdate OpMode = "update"
	OpPatch  OpMode = "patch"
	OpSync   OpMode = "sync"
	OpAction OpMode = "action"
)

// valid reports whether m is a known operation mode.
func (m OpMode) valid() bool {
	switch m {
	case OpCreate, OpUpdate, OpPatch, OpSync, OpAction:
		return true
	}
	return false
}

// SyncColumn is the reserved data column carrying the per-row
// synchronization directive (create, update, or delete) in sync mode.
const SyncColumn = "ami_synchronize"

// AdoMapping binds source columns to their ADO roles.
type AdoMapping struct {
	// UUIDColumn names the column holding each row's own UUID.
	UUIDColumn string `yaml:"uuid"`

	// TypeColumn names the column holding the row's type discriminator.
	TypeColumn string `yaml:"type"`

	// ParentColumns are the columns treated as parent-relationship
	// references, in declaration order. Order matters: it drives the
	// parents-first reordering pass.
	ParentColumns []string `yaml:"parents"`

	// FileColumns maps a row type to the columns whose ;-separated
	// values are file tokens to resolve. The "*" key applies to all
	// types.
	FileColumns map[string][]string `yaml:"filecolumns,omitempty"`
}

// ActionSpec describes the action applied in action mode.
type ActionSpec struct {
	ID     string            `yaml:"id"`
	Config map[string]string `yaml:"config,omitempty"`
}

// Safety holds the destructive-operation opt-ins a set must carry
// explicitly; they default to off.
type Safety struct {
	// AllowFileRemoval permits update/patch to drop files no longer
	// referenced by the source.
	AllowFileRemoval bool `yaml:"allow_file_removal"`

	// AllowMappingRemoval permits update/patch to drop mapped properties
	// absent from the source.
	AllowMappingRemoval bool `yaml:"allow_mapping_removal"`
}

// SetConfig is one ingestion run's configuration, loaded from a per-set
// YAML file.
type SetConfig struct {
	// SetID identifies the run; it scopes the queue, the run state, and
	// every log entry.
	SetID string `yaml:"set_id"`

	// Source is the path of the delimited source file.
	Source string `yaml:"source"`

	// ZipSource optionally points at an archive whose members file
	// tokens may reference.
	ZipSource string `yaml:"zip,omitempty"`

	Op          OpMode     `yaml:"op"`
	SecondaryOp OpMode     `yaml:"secondary_op,omitempty"`
	AdoMapping  AdoMapping `yaml:"adomapping"`
	Action      ActionSpec `yaml:"action,omitempty"`
	Safety      Safety     `yaml:"safety,omitempty"`

	// Status is the publish status applied to persisted objects
	// ("published", "unpublished", or "" to keep per-row values).
	Status string `yaml:"status,omitempty"`

	// UserID is the submitting user, recorded on every item.
	UserID string `yaml:"user,omitempty"`

	// Strict requires every ColumnKeys entry to be present as a source
	// header.
	Strict     bool     `yaml:"strict,omitempty"`
	ColumnKeys []string `yaml:"column_keys,omitempty"`

	// MaxAttempts bounds dependency-missing retries per record item.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// ActionBatchSize is the UUID chunk size for action items.
	ActionBatchSize int `yaml:"action_batch_size,omitempty"`

	// WorkDir is where the set keeps its queue database, run state,
	// spooled files, and logs. Defaults to ~/.ami/<set_id>.
	WorkDir string `yaml:"workdir,omitempty"`

	// TemplateDir optionally holds per-type metadata templates.
	TemplateDir string `yaml:"templates,omitempty"`
}

// Defaults for the observed magic numbers; both are configuration, not
// architecture.
const (
	DefaultMaxAttempts     = 3
	DefaultActionBatchSize = 10
)

// ConfigError reports missing or malformed structural configuration.
// Callers must treat it as "nothing to ingest", reported distinctly from
// a genuinely empty source, not as a crash.
type ConfigError struct {
	Reason  string
	Missing []string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("structural config error: %s (missing: %s)", e.Reason, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("structural config error: %s", e.Reason)
}

// LoadSetConfig reads and validates a set configuration file, applying
// defaults.
func LoadSetConfig(path string) (*SetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read set config: %w", err)
	}

	var cfg SetConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse set config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued tunables.
func (c *SetConfig) ApplyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ActionBatchSize <= 0 {
		c.ActionBatchSize = DefaultActionBatchSize
	}
	if c.Op == "" {
		c.Op = OpCreate
	}
}

// Validate checks the fields every command needs before touching the
// queue or the source.
func (c *SetConfig) Validate() error {
	if c.SetID == "" {
		return &ConfigError{Reason: "set_id is required"}
	}
	if c.Source == "" {
		return &ConfigError{Reason: "source is required"}
	}
	if !c.Op.valid() {
		return &ConfigError{Reason: fmt.Sprintf("unknown operation mode %q", c.Op)}
	}
	if c.Op == OpAction && c.Action.ID == "" {
		return &ConfigError{Reason: "action mode requires action.id"}
	}
	return nil
}

// QueueName returns the per-set queue name.
func (c *SetConfig) QueueName() string {
	return "ami_ingest_" + c.SetID
}

// Save writes the configuration to path as YAML.
func (c *SetConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal set config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write set config: %w", err)
	}
	return nil
}
