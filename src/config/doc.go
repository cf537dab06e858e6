// Package config defines the configuration for a relay node.
//
// Regardless of how the relay is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// configuration options, the relay relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key  // a plain text file containing the raw private key (cf. blueships keygen).
//  badger_db // (optional) the Badger database when persistent storage is enabled.
package config
