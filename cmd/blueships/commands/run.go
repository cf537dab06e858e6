package commands

import (
	"github.com/blueships/sync/src/blueships"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a relay node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run relay node",
		PreRunE: loadConfig,
		RunE:    runBlueships,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runBlueships(cmd *cobra.Command, args []string) error {
	engine := blueships.NewBlueships(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Optional file to duplicate log output to")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().Bool("bootstrap", _config.Bootstrap, "Load from an existing database")

	// Relay
	cmd.Flags().Int("max-payload", _config.MaxPayload, "Max size of an encoded record in bytes")
	cmd.Flags().Duration("lock-timeout", _config.LockTimeout, "Max wait for a busy transaction")

	// Ledger
	cmd.Flags().StringSlice("ledger-addr", _config.LedgerAddrs, "Ledger broker address (repeatable); empty runs standalone")
	cmd.Flags().String("ledger-topic", _config.LedgerTopic, "Topic delivered records are published to")
	cmd.Flags().Int("ledger-retries", _config.LedgerRetries, "Max push attempts per delivered record")
	cmd.Flags().Duration("ledger-backoff", _config.LedgerBackoff, "Base delay between ledger retries")
	cmd.Flags().Duration("ledger-timeout", _config.LedgerTimeout, "Timeout of a single ledger push")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":       _config.DataDir,
		"ServiceAddr":   _config.ServiceAddr,
		"NoService":     _config.NoService,
		"Store":         _config.Store,
		"LogLevel":      _config.LogLevel,
		"MaxPayload":    _config.MaxPayload,
		"LockTimeout":   _config.LockTimeout,
		"LedgerAddrs":   _config.LedgerAddrs,
		"LedgerTopic":   _config.LedgerTopic,
		"LedgerRetries": _config.LedgerRetries,
		"LedgerBackoff": _config.LedgerBackoff,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
		logFields["Bootstrap"] = _config.Bootstrap
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/blueships.toml (.json, .yaml also work)
	viper.SetConfigName("blueships")     // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
