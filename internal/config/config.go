// Package config loads the soft-delete configuration file.
//
// Priority: CLI flags > environment variables > TOML file > defaults.
// Flags are applied by cmd/softdel; this package handles the rest.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"deletionmark/internal/core/apperror"
	"deletionmark/internal/domain/softdelete"
	"deletionmark/internal/infrastructure/storage"
)

// TimestampValue marks an attribute as the deletion time.
const TimestampValue = "@timestamp"

// Config is the whole configuration file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	Models   []ModelConfig  `toml:"model"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `toml:"driver"` // "postgres" or "sqlite"
	DSN    string `toml:"dsn"`

	// Outbox publishes applied operations to sys_outbox (postgres only).
	Outbox bool `toml:"outbox"`
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// ModelConfig describes soft delete for one table.
//
//	[[model]]
//	table = "products"
//	lock = "version"
//	attributes = ["deleted", { name = "deleted_at", value = "@timestamp" }]
//	guard = "record.locked == 0"
//
// deleted_value and restored_value default to 1 and 0. Set them to true and
// false for boolean columns; the postgres backend also converts 1 and 0 when
// the loaded row holds a boolean.
type ModelConfig struct {
	Table            string `toml:"table"`
	Lock             string `toml:"lock"`
	DeletedAttribute string `toml:"deleted_attribute"`
	DeletedValue     any    `toml:"deleted_value"`
	RestoredValue    any    `toml:"restored_value"`

	// Attributes is a string, or a list of strings and tables.
	Attributes any    `toml:"attributes"`
	Guard      string `toml:"guard"`
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "postgres"},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(string(data)); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML text over the defaults without environment overrides.
func Parse(data string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data string) error {
	md, err := toml.Decode(data, c)
	if err != nil {
		return apperror.NewValidation("invalid TOML").WithCause(err)
	}
	var keys []string
	for _, k := range md.Undecoded() {
		// Inline attribute tables are decoded into any and checked by parseAttributeTable.
		if len(k) > 2 && k[1] == "attributes" {
			continue
		}
		keys = append(keys, k.String())
	}
	if len(keys) > 0 {
		return apperror.NewValidation("unknown configuration keys").
			WithDetail("keys", strings.Join(keys, ", "))
	}
	return nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("SOFTDEL_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks driver, table names and every model's attribute list.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return apperror.NewValidation("unsupported driver").WithDetail("driver", c.Database.Driver)
	}
	if c.Database.Outbox && c.Database.Driver != "postgres" {
		return apperror.NewValidation("outbox requires the postgres driver")
	}

	seen := make(map[string]struct{}, len(c.Models))
	for _, m := range c.Models {
		if err := storage.ValidateIdentifier(m.Table); err != nil {
			return err
		}
		if _, dup := seen[m.Table]; dup {
			return apperror.NewValidation("duplicate model").WithDetail("table", m.Table)
		}
		seen[m.Table] = struct{}{}

		if m.Lock != "" {
			if err := storage.ValidateIdentifier(m.Lock); err != nil {
				return err
			}
		}
		sd, err := m.SoftDeleteConfig()
		if err != nil {
			return err
		}
		for _, a := range sd.Attributes {
			if err := storage.ValidateIdentifier(a.Name); err != nil {
				return err
			}
		}
		if _, err := m.NewGuard(); err != nil {
			return err
		}
	}
	return nil
}

// Model returns the configuration for table.
// A table without a [[model]] entry gets the default attribute list.
func (c *Config) Model(table string) ModelConfig {
	for _, m := range c.Models {
		if m.Table == table {
			return m
		}
	}
	return ModelConfig{Table: table}
}

// Tables lists configured tables in name order.
func (c *Config) Tables() []string {
	tables := make([]string, len(c.Models))
	for i, m := range c.Models {
		tables[i] = m.Table
	}
	sort.Strings(tables)
	return tables
}

// SoftDeleteConfig converts the model's attribute list.
func (m ModelConfig) SoftDeleteConfig() (softdelete.Config, error) {
	cfg := softdelete.Config{
		DeletedAttribute: m.DeletedAttribute,
		DeletedValue:     m.DeletedValue,
		RestoredValue:    m.RestoredValue,
	}

	switch v := m.Attributes.(type) {
	case nil:
	case string:
		cfg.Attribute = v
	case []any:
		for i, item := range v {
			a, err := parseAttribute(item)
			if err != nil {
				return cfg, fmt.Errorf("model %s attribute #%d: %w", m.Table, i+1, err)
			}
			cfg.Attributes = append(cfg.Attributes, a)
		}
	case []map[string]any:
		for i, item := range v {
			a, err := parseAttribute(item)
			if err != nil {
				return cfg, fmt.Errorf("model %s attribute #%d: %w", m.Table, i+1, err)
			}
			cfg.Attributes = append(cfg.Attributes, a)
		}
	default:
		return cfg, apperror.NewValidation("attributes must be a string or a list").
			WithDetail("table", m.Table)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("model %s: %w", m.Table, err)
	}
	return cfg, nil
}

// NewGuard compiles the model's guard, nil when none is configured.
func (m ModelConfig) NewGuard() (*softdelete.Guard, error) {
	if m.Guard == "" {
		return nil, nil
	}
	g, err := softdelete.NewGuard(m.Guard)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", m.Table, err)
	}
	return g, nil
}

func parseAttribute(item any) (softdelete.Attribute, error) {
	switch v := item.(type) {
	case string:
		return softdelete.Flag(v), nil
	case map[string]any:
		return parseAttributeTable(v)
	}
	return softdelete.Attribute{}, apperror.NewValidation("attribute must be a string or a table")
}

func parseAttributeTable(t map[string]any) (softdelete.Attribute, error) {
	name, _ := t["name"].(string)
	if name == "" {
		return softdelete.Attribute{}, apperror.NewValidation("attribute name is required")
	}

	value, hasValue := t["value"]
	onDelete, hasDelete := t["on_delete"]
	onRestore, hasRestore := t["on_restore"]

	for k := range t {
		switch k {
		case "name", "value", "on_delete", "on_restore":
		default:
			return softdelete.Attribute{}, apperror.NewValidation("unknown attribute key").
				WithDetail("attribute", name).
				WithDetail("key", k)
		}
	}

	switch {
	case hasValue && (hasDelete || hasRestore):
		return softdelete.Attribute{}, apperror.NewValidation("value and on_delete/on_restore are mutually exclusive").
			WithDetail("attribute", name)
	case hasValue:
		if value == TimestampValue {
			return softdelete.Timestamp(name), nil
		}
		return softdelete.Literal(name, value), nil
	case hasDelete && hasRestore:
		return softdelete.Values(name, onDelete, onRestore), nil
	case hasDelete || hasRestore:
		return softdelete.Attribute{}, apperror.NewValidation("on_delete and on_restore must be set together").
			WithDetail("attribute", name)
	}
	return softdelete.Flag(name), nil
}
