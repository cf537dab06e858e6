package commands

import (
	"github.com/blueships/sync/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for the relay
var RootCmd = &cobra.Command{
	Use:              "blueships",
	Short:            "blueships shipment relay",
	TraverseChildren: true,
}
