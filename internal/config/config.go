// Package config loads and validates the pgsave configuration file.
//
// The configuration is resolved exactly once at startup into typed structs;
// defaults are applied in a single place and validation failures surface as
// one early error before any lock or remote session work.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tis24dev/pgsave/internal/types"
)

// DefaultPath is the configuration file consulted when --config is not given.
const DefaultPath = "/etc/pgsave.yaml"

const (
	defaultCompressLevel = 6
	defaultThreadMax     = 1
	defaultArchiveMaxMB  = 64
	defaultPsqlPath      = "psql"
	defaultDBPort        = 5432
)

// Endpoint describes one side (database or backup) of the topology.
// Host empty means the side is local to the running process.
type Endpoint struct {
	Host      string `yaml:"host"`
	User      string `yaml:"user"`
	RemoteCmd string `yaml:"remote-cmd"`
	KeyFile   string `yaml:"key-file"`
	Insecure  bool   `yaml:"insecure"`
}

// IsRemote reports whether this endpoint lives on another host.
func (e Endpoint) IsRemote() bool {
	return strings.TrimSpace(e.Host) != ""
}

// DBConfig holds the database-side settings of a stanza.
type DBConfig struct {
	Endpoint `yaml:",inline"`

	DataPath string `yaml:"data-path"`
	Port     int    `yaml:"port"`
	PsqlPath string `yaml:"psql-path"`
	DBUser   string `yaml:"db-user"`
	Database string `yaml:"database"`
}

// BackupConfig holds the repository-side settings of a stanza.
type BackupConfig struct {
	Endpoint `yaml:",inline"`

	RepoPath string `yaml:"repo-path"`
}

// ArchiveConfig holds the WAL archiving settings of a stanza.
type ArchiveConfig struct {
	SpoolPath string `yaml:"spool-path"`
	Async     bool   `yaml:"async"`
	MaxMB     int    `yaml:"max-mb"`
	Compress  bool   `yaml:"compress"`
	Checksum  bool   `yaml:"checksum"`

	// NoDetach runs the spool drain inline instead of re-executing the
	// binary as a detached process. Test hook only.
	NoDetach bool `yaml:"no-detach"`
}

// BackupOptions holds the backup copy engine policy of a stanza.
type BackupOptions struct {
	Compress        bool          `yaml:"compress"`
	CompressLevel   int           `yaml:"compress-level"`
	Hardlink        bool          `yaml:"hardlink"`
	NoChecksum      bool          `yaml:"no-checksum"`
	ThreadMax       int           `yaml:"thread-max"`
	ThreadTimeout   time.Duration `yaml:"-"`
	ArchiveRequired bool          `yaml:"archive-required"`
	StartFast       bool          `yaml:"start-fast"`
}

// RetentionConfig holds the retention policy of a stanza. Zero counts mean
// "keep everything" for that dimension.
type RetentionConfig struct {
	Full        int              `yaml:"full"`
	Diff        int              `yaml:"diff"`
	ArchiveType types.BackupType `yaml:"-"`
	Archive     int              `yaml:"archive"`
}

// EncryptionConfig holds the optional age encryption settings of a stanza.
type EncryptionConfig struct {
	AgeRecipients    []string `yaml:"age-recipients"`
	AgeIdentity      string   `yaml:"age-identity"`
	PassphrasePrompt bool     `yaml:"passphrase-prompt"`
}

// Enabled reports whether any encryption material is configured.
func (e EncryptionConfig) Enabled() bool {
	return len(e.AgeRecipients) > 0 || e.AgeIdentity != "" || e.PassphrasePrompt
}

// Stanza identifies one managed cluster. Immutable for the process lifetime
// once loaded.
type Stanza struct {
	Name       string
	DB         DBConfig
	Backup     BackupConfig
	Archive    ArchiveConfig
	Options    BackupOptions
	Retention  RetentionConfig
	Encryption EncryptionConfig
}

// Config is the fully resolved configuration.
type Config struct {
	Path     string
	LogLevel types.LogLevel
	UseColor bool
	Stanzas  map[string]*Stanza
}

// Stanza returns the named stanza or an error listing the known ones.
func (c *Config) Stanza(name string) (*Stanza, error) {
	if name == "" {
		return nil, fmt.Errorf("stanza name is required")
	}
	st, ok := c.Stanzas[name]
	if !ok {
		known := make([]string, 0, len(c.Stanzas))
		for n := range c.Stanzas {
			known = append(known, n)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("stanza %q not found in %s (known: %s)",
			name, c.Path, strings.Join(known, ", "))
	}
	return st, nil
}

// Raw file shapes. Pointers keep "unset" distinguishable from "false"/"0"
// so defaults can be applied centrally in resolve().

type rawFile struct {
	LogLevel string               `yaml:"log-level"`
	Color    *bool                `yaml:"color"`
	Stanzas  map[string]rawStanza `yaml:"stanzas"`
}

type rawStanza struct {
	DB struct {
		Endpoint `yaml:",inline"`
		DataPath string `yaml:"data-path"`
		Port     *int   `yaml:"port"`
		PsqlPath string `yaml:"psql-path"`
		DBUser   string `yaml:"db-user"`
		Database string `yaml:"database"`
	} `yaml:"db"`
	Backup struct {
		Endpoint `yaml:",inline"`
		RepoPath string `yaml:"repo-path"`
	} `yaml:"backup"`
	Archive struct {
		SpoolPath string `yaml:"spool-path"`
		Async     *bool  `yaml:"async"`
		MaxMB     *int   `yaml:"max-mb"`
		Compress  *bool  `yaml:"compress"`
		Checksum  *bool  `yaml:"checksum"`
		NoDetach  *bool  `yaml:"no-detach"`
	} `yaml:"archive"`
	Options struct {
		Compress        *bool  `yaml:"compress"`
		CompressLevel   *int   `yaml:"compress-level"`
		Hardlink        *bool  `yaml:"hardlink"`
		NoChecksum      *bool  `yaml:"no-checksum"`
		ThreadMax       *int   `yaml:"thread-max"`
		ThreadTimeout   *int   `yaml:"thread-timeout"`
		ArchiveRequired *bool  `yaml:"archive-required"`
		StartFast       *bool  `yaml:"start-fast"`
	} `yaml:"options"`
	Retention struct {
		Full        *int   `yaml:"full"`
		Diff        *int   `yaml:"diff"`
		ArchiveType string `yaml:"archive-type"`
		Archive     *int   `yaml:"archive"`
	} `yaml:"retention"`
	Encryption EncryptionConfig `yaml:"encryption"`
}

// Load reads, resolves, and validates the configuration file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg, err := resolve(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func resolve(path string, raw *rawFile) (*Config, error) {
	cfg := &Config{
		Path:     path,
		LogLevel: types.LogLevelInfo,
		UseColor: true,
		Stanzas:  make(map[string]*Stanza, len(raw.Stanzas)),
	}

	if raw.LogLevel != "" {
		level, ok := types.ParseLogLevel(raw.LogLevel)
		if !ok {
			return nil, fmt.Errorf("invalid log-level %q", raw.LogLevel)
		}
		cfg.LogLevel = level
	}
	if raw.Color != nil {
		cfg.UseColor = *raw.Color
	}

	if len(raw.Stanzas) == 0 {
		return nil, fmt.Errorf("no stanzas defined")
	}

	for name, rs := range raw.Stanzas {
		st, err := resolveStanza(name, rs)
		if err != nil {
			return nil, fmt.Errorf("stanza %q: %w", name, err)
		}
		cfg.Stanzas[name] = st
	}

	return cfg, nil
}

func resolveStanza(name string, rs rawStanza) (*Stanza, error) {
	st := &Stanza{
		Name: name,
		DB: DBConfig{
			Endpoint: rs.DB.Endpoint,
			DataPath: strings.TrimRight(rs.DB.DataPath, "/"),
			Port:     defaultDBPort,
			PsqlPath: defaultPsqlPath,
			DBUser:   rs.DB.DBUser,
			Database: rs.DB.Database,
		},
		Backup: BackupConfig{
			Endpoint: rs.Backup.Endpoint,
			RepoPath: strings.TrimRight(rs.Backup.RepoPath, "/"),
		},
		Archive: ArchiveConfig{
			SpoolPath: strings.TrimRight(rs.Archive.SpoolPath, "/"),
			MaxMB:     defaultArchiveMaxMB,
			Compress:  true,
			Checksum:  true,
		},
		Options: BackupOptions{
			Compress:        true,
			CompressLevel:   defaultCompressLevel,
			ThreadMax:       defaultThreadMax,
			ArchiveRequired: true,
		},
		Retention: RetentionConfig{
			ArchiveType: types.BackupFull,
		},
		Encryption: rs.Encryption,
	}

	if rs.DB.Port != nil {
		st.DB.Port = *rs.DB.Port
	}
	if rs.DB.PsqlPath != "" {
		st.DB.PsqlPath = rs.DB.PsqlPath
	}
	if rs.Archive.Async != nil {
		st.Archive.Async = *rs.Archive.Async
	}
	if rs.Archive.MaxMB != nil {
		st.Archive.MaxMB = *rs.Archive.MaxMB
	}
	if rs.Archive.Compress != nil {
		st.Archive.Compress = *rs.Archive.Compress
	}
	if rs.Archive.Checksum != nil {
		st.Archive.Checksum = *rs.Archive.Checksum
	}
	if rs.Archive.NoDetach != nil {
		st.Archive.NoDetach = *rs.Archive.NoDetach
	}
	if rs.Options.Compress != nil {
		st.Options.Compress = *rs.Options.Compress
	}
	if rs.Options.CompressLevel != nil {
		st.Options.CompressLevel = *rs.Options.CompressLevel
	}
	if rs.Options.Hardlink != nil {
		st.Options.Hardlink = *rs.Options.Hardlink
	}
	if rs.Options.NoChecksum != nil {
		st.Options.NoChecksum = *rs.Options.NoChecksum
	}
	if rs.Options.ThreadMax != nil {
		st.Options.ThreadMax = *rs.Options.ThreadMax
	}
	if rs.Options.ThreadTimeout != nil {
		st.Options.ThreadTimeout = time.Duration(*rs.Options.ThreadTimeout) * time.Second
	}
	if rs.Options.ArchiveRequired != nil {
		st.Options.ArchiveRequired = *rs.Options.ArchiveRequired
	}
	if rs.Options.StartFast != nil {
		st.Options.StartFast = *rs.Options.StartFast
	}
	if rs.Retention.Full != nil {
		st.Retention.Full = *rs.Retention.Full
	}
	if rs.Retention.Diff != nil {
		st.Retention.Diff = *rs.Retention.Diff
	}
	if rs.Retention.Archive != nil {
		st.Retention.Archive = *rs.Retention.Archive
	}
	if rs.Retention.ArchiveType != "" {
		bt, ok := types.ParseBackupType(rs.Retention.ArchiveType)
		if !ok || bt == types.BackupIncr {
			return nil, fmt.Errorf("invalid retention archive-type %q (want full or diff)", rs.Retention.ArchiveType)
		}
		st.Retention.ArchiveType = bt
	}

	if err := st.validate(); err != nil {
		return nil, err
	}
	return st, nil
}

func (st *Stanza) validate() error {
	if st.DB.DataPath == "" {
		return fmt.Errorf("db.data-path is required")
	}
	if st.Backup.RepoPath == "" {
		return fmt.Errorf("backup.repo-path is required")
	}
	if st.DB.Port <= 0 || st.DB.Port > 65535 {
		return fmt.Errorf("db.port %d out of range", st.DB.Port)
	}
	if st.Archive.MaxMB <= 0 {
		return fmt.Errorf("archive.max-mb must be positive (got %d)", st.Archive.MaxMB)
	}
	if st.Options.CompressLevel < 1 || st.Options.CompressLevel > 9 {
		return fmt.Errorf("options.compress-level %d out of range (1-9)", st.Options.CompressLevel)
	}
	if st.Options.ThreadMax < 1 {
		return fmt.Errorf("options.thread-max must be at least 1 (got %d)", st.Options.ThreadMax)
	}
	if st.Options.ThreadTimeout < 0 {
		return fmt.Errorf("options.thread-timeout must not be negative")
	}
	if st.Retention.Full < 0 || st.Retention.Diff < 0 || st.Retention.Archive < 0 {
		return fmt.Errorf("retention counts must not be negative")
	}
	if st.Archive.Async && st.Archive.SpoolPath == "" {
		return fmt.Errorf("archive.spool-path is required when archive.async is enabled")
	}
	return nil
}
