// Package blueships ties the relay together: store, trust registry, bridge,
// ledger adapter and HTTP service, configured from a single Config object.
package blueships

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/blueships/sync/src/bridge"
	"github.com/blueships/sync/src/config"
	"github.com/blueships/sync/src/crypto/keys"
	"github.com/blueships/sync/src/ledger"
	"github.com/blueships/sync/src/service"
	"github.com/blueships/sync/src/trust"
)

// Blueships is the relay engine.
type Blueships struct {
	Config  *config.Config
	Store   bridge.Store
	Trust   *trust.Store
	Adapter ledger.SyncAdapter
	Bridge  *bridge.Bridge
	Service *service.Service
}

// NewBlueships creates an engine around a configuration object. Call Init
// before Run.
func NewBlueships(cfg *config.Config) *Blueships {
	engine := &Blueships{
		Config: cfg,
	}

	return engine
}

func (b *Blueships) initKey() error {
	if b.Config.Key == nil {
		keyfile := keys.NewSimpleKeyfile(b.Config.Keyfile())

		privKey, err := keyfile.ReadKey()
		if err != nil {
			b.Config.Logger().Warn("Cannot read private key from file", err)

			privKey, err = Keygen(b.Config.Keyfile())
			if err != nil {
				b.Config.Logger().Error("Cannot generate a new private key", err)
				return err
			}

			b.Config.Logger().Info("Created a new key:", keys.PublicKeyHex(&privKey.PublicKey))
		}

		b.Config.Key = privKey
	}
	return nil
}

func (b *Blueships) initStore() error {
	if !b.Config.Store {
		b.Store = bridge.NewInmemStore()

		b.Config.Logger().Debug("created new in-mem store")
	} else {
		var err error

		b.Config.Logger().WithField("path", b.Config.DatabaseDir).Debug("Attempting to load or create database")

		if b.Config.Bootstrap {
			b.Store, err = bridge.LoadBadgerStore(b.Config.DatabaseDir)
		} else {
			b.Store, err = bridge.LoadOrCreateBadgerStore(b.Config.DatabaseDir)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// initTrust creates the trust store and reloads previously registered parties
// from the persistent store, so that a restart does not lose the registry.
func (b *Blueships) initTrust() error {
	b.Trust = trust.NewStore()

	parties, err := b.Store.Parties()
	if err != nil {
		return err
	}

	for i := range parties {
		party := parties[i]
		if err := b.Trust.Register(&party); err != nil {
			return err
		}
	}

	if len(parties) > 0 {
		b.Config.Logger().WithField("count", len(parties)).Debug("Reloaded registered parties")
	}

	return nil
}

func (b *Blueships) initAdapter() error {
	if len(b.Config.LedgerAddrs) == 0 {
		b.Adapter = ledger.NewInmemAdapter()

		b.Config.Logger().Debug("no ledger brokers configured, running standalone")

		return nil
	}

	b.Adapter = ledger.NewKafkaAdapter(
		b.Config.LedgerAddrs,
		b.Config.LedgerTopic,
		b.Config.LedgerTimeout,
		b.Config.Key,
		b.Config.Logger(),
	)

	return nil
}

func (b *Blueships) initBridge() error {
	opts := bridge.Options{
		MaxPayload:     b.Config.MaxPayload,
		LockTimeout:    b.Config.LockTimeout,
		LedgerAttempts: b.Config.LedgerRetries,
		LedgerBackoff:  b.Config.LedgerBackoff,
	}

	b.Bridge = bridge.NewBridge(b.Store, b.Trust, b.Adapter, opts, b.Config.Logger())

	return nil
}

func (b *Blueships) initService() error {
	if !b.Config.NoService {
		b.Service = service.NewService(b.Config.ServiceAddr, b.Bridge, b.Config.Logger())
	}
	return nil
}

// Init initialises all components in dependency order.
func (b *Blueships) Init() error {
	if err := b.initKey(); err != nil {
		return err
	}

	if err := b.initStore(); err != nil {
		return err
	}

	if err := b.initTrust(); err != nil {
		return err
	}

	if err := b.initAdapter(); err != nil {
		return err
	}

	if err := b.initBridge(); err != nil {
		return err
	}

	if err := b.initService(); err != nil {
		return err
	}

	return nil
}

// Run serves the HTTP API until the process receives an interrupt, then
// shuts down cleanly.
func (b *Blueships) Run() {
	if b.Service != nil {
		go b.Service.Serve()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals

	b.Shutdown()
}

// Shutdown drains in-flight ledger syncs and closes the store.
func (b *Blueships) Shutdown() {
	b.Config.Logger().Info("Shutting down")

	b.Bridge.WaitLedgerSync()

	if err := b.Store.Close(); err != nil {
		b.Config.Logger().WithError(err).Error("Closing store")
	}
}

// Keygen generates a new private key and writes it to keyfile. It refuses to
// overwrite an existing key.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", keyfile)
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
