package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tendermint/bazaar/cmd/bazaar/commands"
	"github.com/tendermint/bazaar/config"
	"github.com/tendermint/bazaar/libs/cli"
	"github.com/tendermint/bazaar/libs/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conf := config.DefaultConfig()

	logger, err := log.NewDefaultLogger(config.LogFormatPlain, config.DefaultLogLevel)
	if err != nil {
		panic(err)
	}

	rcmd := commands.RootCommand(conf, logger)
	rcmd.AddCommand(
		commands.MakeInitCommand(conf, logger),
		commands.MakeBrokerCommand(conf, logger),
		commands.MakeLedgerCommand(conf, logger),
		commands.MakeParticipantCommand(conf, logger),
		commands.MakeSimulateCommand(conf, logger),
		commands.VersionCmd,
	)

	if err := cli.RunWithTrace(ctx, rcmd); err != nil {
		stop()
		os.Exit(1)
	}
}
