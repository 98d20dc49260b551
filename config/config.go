// Package config holds the agent's configuration: CLI-flag defaults,
// optional file overlay, and validation, plus the provider-lookup
// pattern shared by the sequence store and audit log.
package config

import (
	"crypto/md5"
	"fmt"
	"hash/crc32"
	"io"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	validatorpkg "github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config is the agent's full set of tunables. Struct tags
// double as flag names (matched by github.com/mreiferson/go-options
// against a flag.FlagSet built from the same names) and as file-overlay
// keys for both yaml and toml.
type Config struct {
	MasterNodes []string `yaml:"master_nodes" toml:"master_nodes" flag:"master_nodes"`
	IP          string   `yaml:"ip" toml:"ip" flag:"ip" validate:"required"`
	Port        int      `yaml:"port" toml:"port" flag:"port" validate:"gte=1000,lte=65535"`

	Label int `yaml:"label" toml:"label" flag:"label" validate:"gte=-1,lte=254"`

	Steps int `yaml:"steps" toml:"steps" flag:"steps" validate:"gte=1,lte=100000000"`

	ExpireSeconds   int `yaml:"expire" toml:"expire" flag:"expire" validate:"gte=10"`
	IntervalSeconds int `yaml:"interval" toml:"interval" flag:"interval" validate:"gte=1,lte=7200"`

	AdminAddress string `yaml:"admin_address" toml:"admin_address" flag:"admin_address"`

	SeqStoreProvider   string `yaml:"seqstore" toml:"seqstore" flag:"seqstore" validate:"oneof=file redis"`
	SeqStoreRedisAddr  string `yaml:"seqstore_redis_addr" toml:"seqstore_redis_addr" flag:"seqstore_redis_addr"`
	SeqStorePath       string `yaml:"seqstore_path" toml:"seqstore_path" flag:"seqstore_path"`

	AuditDSN string `yaml:"audit_dsn" toml:"audit_dsn" flag:"audit_dsn"`

	// NodeID is a hostname-derived id used only for log correlation,
	// never part of the wire protocol.
	NodeID int64 `yaml:"-" toml:"-"`

	// Logger is set by cmd/uniqd from NewLogger (the
	// UNIQD_LOG_LEVEL/UNIQD_LOG_TO_SCREEN environment); when it is nil,
	// agent.NewServer falls back to zap.NewDevelopment.
	Logger *zap.Logger `yaml:"-" toml:"-"`
}

// Expire returns ExpireSeconds as a time.Duration.
func (c *Config) Expire() time.Duration { return time.Duration(c.ExpireSeconds) * time.Second }

// Interval returns IntervalSeconds as a time.Duration.
func (c *Config) Interval() time.Duration { return time.Duration(c.IntervalSeconds) * time.Second }

// HasExplicitLabel reports whether --label was given.
func (c *Config) HasExplicitLabel() bool { return c.Label >= 0 }

// NewConfig returns the default configuration, with a hostname-derived
// NodeID filled in for log correlation.
func NewConfig() *Config {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	h := md5.New()
	_, _ = io.WriteString(h, hostname)
	nodeID := int64(crc32.ChecksumIEEE(h.Sum(nil)) % 1024)

	return &Config{
		IP:   "0.0.0.0",
		Port: 6200,

		Label: -1,

		Steps: 100000,

		ExpireSeconds:   1200,
		IntervalSeconds: 600,

		AdminAddress: "127.0.0.1:6201",

		SeqStoreProvider: "file",
		SeqStorePath:     ".uniq.seq",

		NodeID: nodeID,
	}
}

// LoadFile overlays the config named by path onto c. The format is
// chosen by extension: .toml uses BurntSushi/toml, anything else
// defaults to yaml.v2.
func (c *Config) LoadFile(path string) error {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	if strings.HasSuffix(path, ".toml") {
		if _, err := toml.Decode(string(buf), c); err != nil {
			return errors.Wrapf(err, "decode toml config file %s", path)
		}
		return nil
	}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return errors.Wrapf(err, "decode yaml config file %s", path)
	}
	return nil
}

var validate = validatorpkg.New()

// Validate enforces per-field constraints plus the two that cross
// fields: expire >= 2*interval and expire >= interval+10, plus either
// MasterNodes or an explicit Label being set.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "config")
	}
	if len(c.MasterNodes) == 0 && !c.HasExplicitLabel() {
		return errors.New("config: either master_nodes or an explicit label must be given")
	}
	if c.Expire() < 2*c.Interval() {
		return fmt.Errorf("config: expire (%s) must be >= 2*interval (%s)", c.Expire(), 2*c.Interval())
	}
	if c.Expire() < c.Interval()+10*time.Second {
		return fmt.Errorf("config: expire (%s) must be >= interval+10s (%s)", c.Expire(), c.Interval()+10*time.Second)
	}
	return nil
}
