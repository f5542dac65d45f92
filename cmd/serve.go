package cmd

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/attnmt/attnmt/envconfig"
	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/model"
	"github.com/attnmt/attnmt/server"
)

func RunServer(cmd *cobra.Command, _ []string) error {
	cfg, err := decodeConfig(cmd)
	if err != nil {
		return err
	}

	set, err := model.LoadSet(modelPaths(cmd)...)
	if err != nil {
		return err
	}
	cfg.UnkID = set.Target.Unk()

	backend, err := ml.NewBackend("cpu")
	if err != nil {
		return err
	}

	s, err := server.New(set, cfg, backend, slog.Default())
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", envconfig.Host)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Serve(ctx, ln, s)
}
