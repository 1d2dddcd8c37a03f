package commands

import (
	"github.com/spf13/cobra"

	"github.com/tendermint/bazaar/config"
	"github.com/tendermint/bazaar/libs/log"
)

// MakeInitCommand returns the command that writes the configuration file,
// with any flags and environment overrides applied, to the home directory.
func MakeInitCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the configuration file to the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
				return err
			}
			logger.Info("wrote config file", "path", conf.ConfigFile())
			return nil
		},
	}
	addBusFlags(cmd, conf)
	cmd.Flags().String("participant.name", conf.Participant.Name, "participant name")
	return cmd
}
