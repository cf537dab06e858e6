package commands

import (
	"github.com/blueships/sync/src/blueships"
	"github.com/blueships/sync/src/crypto/keys"
	"github.com/blueships/sync/src/dummy"
	"github.com/blueships/sync/src/transport"
	"github.com/blueships/sync/src/trust"
	"github.com/spf13/cobra"
)

// Demo party identifiers.
const (
	demoShipperID  = "SYTELINE-OH-001"
	demoCarrierID  = "CARRIER-TRK-042"
	demoReceiverID = "SAP-OH-009"
)

//NewDemoCmd returns the command that runs a complete handshake in-process
//with the three demo parties, then prints the resulting transaction.
func NewDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "demo",
		Short:   "Run a complete shipper-carrier-receiver handshake in-process",
		PreRunE: loadConfig,
		RunE:    runDemo,
	}
	AddRunFlags(cmd)
	return cmd
}

func runDemo(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	// the demo never serves HTTP, everything happens in-process
	_config.NoService = true

	engine := blueships.NewBlueships(_config)
	if err := engine.Init(); err != nil {
		return err
	}
	defer engine.Shutdown()

	shipperKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return err
	}
	carrierKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return err
	}
	receiverKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return err
	}

	register := func(id string, role trust.Role, hex string) error {
		party, err := trust.NewParty(id, role, hex)
		if err != nil {
			return err
		}
		return engine.Bridge.RegisterParty(party)
	}

	if err := register(demoShipperID, trust.RoleShipper, keys.PublicKeyHex(&shipperKey.PublicKey)); err != nil {
		return err
	}
	if err := register(demoCarrierID, trust.RoleCarrier, keys.PublicKeyHex(&carrierKey.PublicKey)); err != nil {
		return err
	}
	if err := register(demoReceiverID, trust.RoleReceiver, keys.PublicKeyHex(&receiverKey.PublicKey)); err != nil {
		return err
	}

	shipper := dummy.NewShipper(demoShipperID, shipperKey, engine.Bridge, logger.WithField("prefix", "shipper"))
	carrier := dummy.NewCarrier(demoCarrierID, engine.Bridge, logger.WithField("prefix", "carrier"))
	receiver := dummy.NewReceiver(demoReceiverID, engine.Bridge, logger.WithField("prefix", "receiver"))

	channel := transport.NewInmemChannel(_config.MaxPayload)

	record, err := shipper.NewOrder(demoReceiverID)
	if err != nil {
		return err
	}

	txID, err := shipper.Submit(record)
	if err != nil {
		return err
	}

	if err := carrier.Pickup(txID, channel); err != nil {
		return err
	}

	if _, err := receiver.ReceiveOne(channel); err != nil {
		return err
	}

	engine.Bridge.WaitLedgerSync()

	tx, err := engine.Bridge.GetStatus(txID)
	if err != nil {
		return err
	}

	logger.WithField("tx_id", txID).Infof("Final status: %s", tx.Status)
	for _, entry := range tx.Audit {
		logger.Infof("  %s -> %s by %s (%s)", entry.From, entry.To, entry.Actor, entry.Reason)
	}

	return nil
}
