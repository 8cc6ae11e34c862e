package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// redactedDSN is the placeholder used when serializing the DSN.
const redactedDSN = "[REDACTED]"

// Options defines configuration options for the relational database.
type Options struct {
	// Driver selects the database driver: sqlite, mysql or postgres.
	Driver string `json:"driver" mapstructure:"driver"`

	// DSN is the driver-specific data source name.
	// For sqlite this is the database file path (or ":memory:").
	DSN string `json:"-" mapstructure:"dsn"` // Excluded from JSON serialization

	MaxIdleConnections    int           `json:"max-idle-connections" mapstructure:"max-idle-connections"`
	MaxOpenConnections    int           `json:"max-open-connections" mapstructure:"max-open-connections"`
	MaxConnectionLifeTime time.Duration `json:"max-connection-life-time" mapstructure:"max-connection-life-time"`
	MaxIdleTime           time.Duration `json:"max-idle-time" mapstructure:"max-idle-time"`
	LogLevel              int           `json:"log-level" mapstructure:"log-level"`
}

// optionsForJSON is used for JSON marshaling with the DSN redacted.
type optionsForJSON struct {
	Driver                string        `json:"driver"`
	DSN                   string        `json:"dsn"`
	MaxIdleConnections    int           `json:"max-idle-connections"`
	MaxOpenConnections    int           `json:"max-open-connections"`
	MaxConnectionLifeTime time.Duration `json:"max-connection-life-time"`
	MaxIdleTime           time.Duration `json:"max-idle-time"`
	LogLevel              int           `json:"log-level"`
}

// MarshalJSON implements json.Marshaler with DSN redaction.
// The DSN may embed credentials, so it never appears in logs or debug output.
func (o *Options) MarshalJSON() ([]byte, error) {
	dsn := redactedDSN
	if o.DSN == "" {
		dsn = ""
	}

	return json.Marshal(optionsForJSON{
		Driver:                o.Driver,
		DSN:                   dsn,
		MaxIdleConnections:    o.MaxIdleConnections,
		MaxOpenConnections:    o.MaxOpenConnections,
		MaxConnectionLifeTime: o.MaxConnectionLifeTime,
		MaxIdleTime:           o.MaxIdleTime,
		LogLevel:              o.LogLevel,
	})
}

// String returns a string representation with the DSN redacted.
func (o *Options) String() string {
	dsn := redactedDSN
	if o.DSN == "" {
		dsn = ""
	}
	return fmt.Sprintf("Database{driver=%s, dsn=%s}", o.Driver, dsn)
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Driver:                DriverSQLite,
		DSN:                   "ragcore.db",
		MaxIdleConnections:    20,
		MaxOpenConnections:    100,
		MaxConnectionLifeTime: 3600 * time.Second,
		MaxIdleTime:           600 * time.Second,
		LogLevel:              1, // Silent
	}
}

// Complete fills in any fields not set that are required to have valid data.
func (o *Options) Complete() error {
	if o.Driver == "" {
		o.Driver = DriverSQLite
	}
	return nil
}

// Validate checks if the options are valid.
func (o *Options) Validate() error {
	switch o.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver: %s", o.Driver)
	}
	if o.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	return nil
}

// AddFlags adds flags for database options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, namePrefix string) {
	fs.StringVar(&o.Driver, namePrefix+"driver", o.Driver, "Database driver (sqlite, mysql, postgres)")
	fs.StringVar(&o.DSN, namePrefix+"dsn", o.DSN, "Database data source name")
	fs.IntVar(&o.MaxIdleConnections, namePrefix+"max-idle-connections", o.MaxIdleConnections, "Database max idle connections")
	fs.IntVar(&o.MaxOpenConnections, namePrefix+"max-open-connections", o.MaxOpenConnections, "Database max open connections")
	fs.DurationVar(&o.MaxConnectionLifeTime, namePrefix+"max-connection-life-time", o.MaxConnectionLifeTime, "Database max connection life time")
	fs.DurationVar(&o.MaxIdleTime, namePrefix+"max-idle-time", o.MaxIdleTime, "Database max idle time")
	fs.IntVar(&o.LogLevel, namePrefix+"log-level", o.LogLevel, "Database log level")
}
