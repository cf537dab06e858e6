package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/blueships/sync/src/common"
	"github.com/blueships/sync/src/transport"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the relay's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel      = "debug"
	DefaultServiceAddr   = "127.0.0.1:8000"
	DefaultStore         = false
	DefaultMaxPayload    = transport.DefaultCapacity
	DefaultLockTimeout   = 1000 * time.Millisecond
	DefaultLedgerTopic   = "shipment-records"
	DefaultLedgerRetries = 4
	DefaultLedgerBackoff = 100 * time.Millisecond
	DefaultLedgerTimeout = 10 * time.Second
)

// Config contains all the configuration properties of a relay node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, duplicates log output to a file via a logrus hook.
	LogFile string `mapstructure:"log-file"`

	// ServiceAddr is the address:port of the HTTP API service.
	ServiceAddr string `mapstructure:"service-listen"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// Store activates persistent storage.
	Store bool `mapstructure:"store"`

	// Bootstrap determines whether to load the relay from an existing
	// database. Forces Store.
	Bootstrap bool `mapstructure:"bootstrap"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// MaxPayload is the transport size ceiling, in bytes, applied to
	// submitted and delivered records.
	MaxPayload int `mapstructure:"max-payload"`

	// LockTimeout bounds how long a mutating call waits for a busy
	// transaction before telling the caller to retry.
	LockTimeout time.Duration `mapstructure:"lock-timeout"`

	// LedgerAddrs is the list of ledger broker addresses. When empty, the
	// relay runs standalone with an in-memory ledger.
	LedgerAddrs []string `mapstructure:"ledger-addr"`

	// LedgerTopic is the topic delivered records are published to.
	LedgerTopic string `mapstructure:"ledger-topic"`

	// LedgerRetries is the maximum number of push attempts per delivered
	// record, including the first one.
	LedgerRetries int `mapstructure:"ledger-retries"`

	// LedgerBackoff is the base delay between ledger retries.
	LedgerBackoff time.Duration `mapstructure:"ledger-backoff"`

	// LedgerTimeout bounds a single push to the ledger brokers.
	LedgerTimeout time.Duration `mapstructure:"ledger-timeout"`

	// Key is the relay's private key, used to sign the attestation headers
	// on ledger messages; it is loaded from the keyfile, not from
	// configuration files.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:       DefaultDataDir(),
		LogLevel:      DefaultLogLevel,
		ServiceAddr:   DefaultServiceAddr,
		Store:         DefaultStore,
		DatabaseDir:   DefaultDatabaseDir(),
		MaxPayload:    DefaultMaxPayload,
		LockTimeout:   DefaultLockTimeout,
		LedgerTopic:   DefaultLedgerTopic,
		LedgerRetries: DefaultLedgerRetries,
		LedgerBackoff: DefaultLedgerBackoff,
		LedgerTimeout: DefaultLedgerTimeout,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level data directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitly
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// Logger returns a formatted logrus Entry, with prefix set to "blueships".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			if _, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666); err != nil {
				c.logger.WithError(err).Warnf("Failed to open %s, using stderr only", c.LogFile)
			} else {
				c.logger.Hooks.Add(lfshook.NewHook(
					lfshook.PathMap{
						logrus.DebugLevel: c.LogFile,
						logrus.InfoLevel:  c.LogFile,
						logrus.WarnLevel:  c.LogFile,
						logrus.ErrorLevel: c.LogFile,
					},
					&logrus.TextFormatter{},
				))
			}
		}
	}
	return c.logger.WithField("prefix", "blueships")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir returns the default directory name for top-level config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".BlueShips")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "BlueShips")
		} else {
			return filepath.Join(home, ".blueships")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
