package regionfix

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"
)

// Config represents the regionfix configuration
type Config struct {
	configPath string
	ini        *ini.File
}

// ScanConfig represents scan configuration
type ScanConfig struct {
	Workers        int  `ini:"workers"`         // Number of scan workers (default: 1)
	EntityLimit    int  `ini:"entity_limit"`    // Entities above this mark a record (default: 300)
	DeleteEntities bool `ini:"delete_entities"` // Empty over-limit entity lists while scanning
}

// RepairConfig represents repair configuration
type RepairConfig struct {
	BackupBeforeRepair bool // Copy each container aside before its first mutation
}

// OutputConfig represents output format configuration
type OutputConfig struct {
	Format string // Default output format: human, json
}

// VerboseConfig represents verbosity configuration
type VerboseConfig struct {
	Level int    // Default verbose level (0=quiet, 1=basic, 2=detailed, 3=trace)
	Debug string // Default debug flags (comma-separated)
}

// ReportConfig represents the scan report store configuration
type ReportConfig struct {
	Path string // Report database path, empty disables the store
}

// AllConfig represents all configuration options
type AllConfig struct {
	Scan    *ScanConfig
	Repair  *RepairConfig
	Output  *OutputConfig
	Verbose *VerboseConfig
	Report  *ReportConfig
}

// DefaultConfigPath returns the per-user config file location
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".regionfix", "config")
	}
	return filepath.Join(dir, "regionfix", "config")
}

// LoadConfig loads configuration from configPath, writing the defaults
// there first if the file does not exist
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{
		configPath: configPath,
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg.ini = ini.Empty()
		if err := cfg.setDefaults(); err != nil {
			return nil, errors.Wrap(err, "failed to set default config")
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create config directory")
		}
		if err := cfg.Save(); err != nil {
			return nil, errors.Wrap(err, "failed to save default config")
		}
	} else {
		iniFile, err := ini.Load(configPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load config file")
		}
		cfg.ini = iniFile
	}

	return cfg, nil
}

// NewDefaultConfig returns an in-memory configuration holding the defaults
func NewDefaultConfig() *Config {
	cfg := &Config{ini: ini.Empty()}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() error {
	defaults := []struct {
		section, key, value string
	}{
		{"scan", "workers", fmt.Sprintf("%d", DefaultWorkers)},
		{"scan", "entity_limit", fmt.Sprintf("%d", DefaultEntityLimit)},
		{"scan", "delete_entities", "false"},
		{"repair", "backup_before_repair", "true"},
		{"output", "format", "human"},
		{"verbose", "level", "0"},
		{"verbose", "debug", ""},
		{"report", "path", ""},
	}
	for _, d := range defaults {
		section, err := c.ini.GetSection(d.section)
		if err != nil {
			if section, err = c.ini.NewSection(d.section); err != nil {
				return errors.Wrapf(err, "failed to create %s section", d.section)
			}
		}
		if _, err := section.NewKey(d.key, d.value); err != nil {
			return errors.Wrapf(err, "failed to set default %s.%s", d.section, d.key)
		}
	}
	return nil
}

// GetScanConfig returns the scan configuration
func (c *Config) GetScanConfig() *ScanConfig {
	scanConfig := &ScanConfig{
		Workers:     DefaultWorkers,     // fallback default
		EntityLimit: DefaultEntityLimit, // fallback default
	}

	if c.ini.HasSection("scan") {
		if err := c.ini.Section("scan").MapTo(scanConfig); err != nil {
			VerboseLog(1, "Warning: invalid [scan] section: %v", err)
		}
	}

	return scanConfig
}

// ScanOptions converts the scan configuration into options
func (sc *ScanConfig) ScanOptions() ScanOptions {
	return ScanOptions{
		Workers:        sc.Workers,
		EntityLimit:    sc.EntityLimit,
		DeleteEntities: sc.DeleteEntities,
	}
}

// GetRepairConfig returns the repair configuration
func (c *Config) GetRepairConfig() *RepairConfig {
	repairConfig := &RepairConfig{
		BackupBeforeRepair: true, // fallback default
	}

	if c.ini.HasSection("repair") {
		section := c.ini.Section("repair")
		if section.HasKey("backup_before_repair") {
			if backup, err := section.Key("backup_before_repair").Bool(); err == nil {
				repairConfig.BackupBeforeRepair = backup
			}
		}
	}

	return repairConfig
}

// GetOutputConfig returns the output configuration
func (c *Config) GetOutputConfig() *OutputConfig {
	outputConfig := &OutputConfig{
		Format: "human", // fallback default
	}

	if c.ini.HasSection("output") {
		section := c.ini.Section("output")
		if section.HasKey("format") {
			outputConfig.Format = section.Key("format").String()
		}
	}

	return outputConfig
}

// GetVerboseConfig returns the verbose configuration
func (c *Config) GetVerboseConfig() *VerboseConfig {
	verboseConfig := &VerboseConfig{}

	if c.ini.HasSection("verbose") {
		section := c.ini.Section("verbose")
		if section.HasKey("level") {
			if level, err := section.Key("level").Int(); err == nil {
				verboseConfig.Level = level
			}
		}
		if section.HasKey("debug") {
			verboseConfig.Debug = section.Key("debug").String()
		}
	}

	return verboseConfig
}

// GetReportConfig returns the report store configuration
func (c *Config) GetReportConfig() *ReportConfig {
	reportConfig := &ReportConfig{}
	if c.ini.HasSection("report") {
		reportConfig.Path = c.ini.Section("report").Key("path").String()
	}
	return reportConfig
}

// GetAllConfig returns all configuration options
func (c *Config) GetAllConfig() *AllConfig {
	return &AllConfig{
		Scan:    c.GetScanConfig(),
		Repair:  c.GetRepairConfig(),
		Output:  c.GetOutputConfig(),
		Verbose: c.GetVerboseConfig(),
		Report:  c.GetReportConfig(),
	}
}

// SetWorkers sets the number of scan workers
func (c *Config) SetWorkers(workers int) error {
	c.ini.Section("scan").Key("workers").SetValue(fmt.Sprintf("%d", workers))
	return c.Save()
}

// SetOutputFormat sets the default output format
func (c *Config) SetOutputFormat(format string) error {
	c.ini.Section("output").Key("format").SetValue(format)
	return c.Save()
}

// SetVerboseLevel sets the default verbose level
func (c *Config) SetVerboseLevel(level int) error {
	c.ini.Section("verbose").Key("level").SetValue(fmt.Sprintf("%d", level))
	return c.Save()
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	if c.configPath == "" {
		return nil
	}
	return c.ini.SaveTo(c.configPath)
}

// overrideKeys maps override keys onto their section
var overrideKeys = map[string]string{
	"workers":              "scan",
	"entity_limit":         "scan",
	"delete_entities":      "scan",
	"backup_before_repair": "repair",
	"format":               "output",
	"level":                "verbose",
	"debug":                "verbose",
	"path":                 "report",
}

// ApplyOverrides applies command-line overrides to the configuration
// Accepts strings like "workers:4", "format:json", "level:2", "debug:scan"
func (c *Config) ApplyOverrides(overrides []string) error {
	for _, override := range overrides {
		parts := strings.SplitN(override, ":", 2)
		if len(parts) != 2 {
			return errors.Errorf("invalid override format '%s', expected 'key:value'", override)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		section, ok := overrideKeys[key]
		if !ok {
			return errors.Errorf("unsupported override key '%s' (supported: workers, entity_limit, delete_entities, backup_before_repair, format, level, debug, path)", key)
		}
		c.ini.Section(section).Key(key).SetValue(value)
	}

	return nil
}

// Validate checks every configured value
func (c *Config) Validate() error {
	all := c.GetAllConfig()
	if err := ValidateWorkers(all.Scan.Workers); err != nil {
		return err
	}
	if err := ValidateEntityLimit(all.Scan.EntityLimit); err != nil {
		return err
	}
	if err := ValidateOutputFormat(all.Output.Format); err != nil {
		return err
	}
	return ValidateVerboseLevel(all.Verbose.Level)
}

// ValidateOutputFormat validates that an output format is supported
func ValidateOutputFormat(format string) error {
	switch strings.ToLower(format) {
	case "human", "json":
		return nil
	default:
		return errors.Errorf("unsupported output format: %s (supported: human, json)", format)
	}
}

// ValidateVerboseLevel validates that a verbose level is valid
func ValidateVerboseLevel(level int) error {
	if level < 0 || level > 3 {
		return errors.Errorf("invalid verbose level: %d (supported: 0-3)", level)
	}
	return nil
}

// ValidateWorkers validates that the worker count is reasonable
func ValidateWorkers(workers int) error {
	if workers < 1 {
		return errors.Errorf("workers must be at least 1, got: %d", workers)
	}
	if workers > 64 {
		return errors.Errorf("workers should not exceed 64, got: %d", workers)
	}
	return nil
}

// ValidateEntityLimit validates the entity limit
func ValidateEntityLimit(limit int) error {
	if limit < 0 {
		return errors.Errorf("entity limit must not be negative, got: %d", limit)
	}
	return nil
}
