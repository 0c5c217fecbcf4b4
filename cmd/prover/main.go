// The prover command runs the JSON-RPC proving service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/automata-network/linea-prover/prover"
)

var (
	portFlag = &cli.IntFlag{
		Name:    "port",
		Aliases: []string{"p"},
		Value:   18400,
		Usage:   "JSON-RPC listen port",
	}
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config/prover.json",
		Usage:   "path to the configuration file",
	}
)

func main() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	app := &cli.App{
		Name:   "prover",
		Usage:  "zero-knowledge block prover service",
		Flags:  []cli.Flag{portFlag, configFlag},
		Action: run,
	}

	if err := app.Run(filterArgs(os.Args)); err != nil {
		log.Error("Prover failed", "err", err)
		os.Exit(1)
	}
}

// filterArgs drops options the service does not know, with a warning,
// instead of refusing to start.
func filterArgs(args []string) []string {
	known := map[string]bool{
		"-p": true, "--port": true,
		"-c": true, "--config": true,
	}
	out := []string{args[0]}
	for i := 1; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			out = append(out, arg)
			continue
		}
		name := arg
		if idx := strings.IndexByte(arg, '='); idx >= 0 {
			name = arg[:idx]
		}
		if !known[name] {
			log.Warn("Ignoring unknown option", "opt", arg)
			if name == arg && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				i++
			}
			continue
		}
		out = append(out, arg)
	}
	return out
}

func run(cCtx *cli.Context) error {
	cfg, err := prover.LoadConfig(cCtx.String(configFlag.Name))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := prover.NewProver(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	srv, err := prover.NewServer(cfg.Server, cCtx.Int(portFlag.Name), p)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := srv.Run(ctx); err != nil {
		return err
	}
	log.Info("Prover shut down")
	return nil
}
