package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/gridsingularity/gsy-e-sub006/params"
	"github.com/gridsingularity/gsy-e-sub006/pkg/api"
	"github.com/gridsingularity/gsy-e-sub006/pkg/sim"
	"github.com/gridsingularity/gsy-e-sub006/pkg/storage"
	"github.com/gridsingularity/gsy-e-sub006/pkg/transport"
	"github.com/gridsingularity/gsy-e-sub006/pkg/util"
)

func main() {
	// "" loads .env from the current directory
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logFile := cfg.Node.LogFile
	if logFile == "" {
		logFile = filepath.Join(cfg.Node.DataDir, "node.log")
	}
	logger, err := util.NewLoggerWithFile(logFile, cfg.Node.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Errorw("node_failed", "err", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg params.Config, log *zap.SugaredLogger) error {
	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return err
	}

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "trades"))
	if err != nil {
		return fmt.Errorf("open trade store: %w", err)
	}
	defer store.Close()
	journal, err := storage.NewFileJournal(filepath.Join(cfg.Node.DataDir, "events.jsonl"))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	opts := []sim.Option{
		sim.WithLogger(log),
		sim.WithLoadGenerator(),
		sim.WithObserver(storage.NewRecorder(store, journal, log)),
	}

	// ---- Transport (optional) ----
	ch, err := openChannel(ctx, cfg.Node, log)
	if err != nil {
		return err
	}
	if ch != nil {
		defer ch.Close()
		opts = append(opts, sim.WithObserver(transport.NewPublisher(ctx, ch, cfg.Node.Topic, log)))
		err := transport.Listen(ch, cfg.Node.Topic, log, func(r transport.Record) {
			log.Debugw("record_received", "kind", r.Kind, "id", r.ID, "market", r.MarketID)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", cfg.Node.Topic, err)
		}
	}

	coord, err := sim.New(cfg, opts...)
	if err != nil {
		return err
	}

	// ---- API Server ----
	apiServer := api.NewServer(coord, api.WithTradeStore(store), api.WithLogger(log))
	go func() {
		if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
			log.Errorw("api_server_failed", "err", err)
		}
	}()

	log.Infow("node_starting",
		"market_type", cfg.Market.MarketType.String(),
		"grid_fee_type", cfg.Market.GridFeeType.String(),
		"grid_fee_rate", cfg.Market.GridFeeRate,
		"slots", cfg.Simulation.Slots,
		"ticks_per_slot", cfg.Simulation.TicksPerSlot,
		"transport", cfg.Node.Transport)

	err = coord.Run(ctx, cfg.Node.TickInterval)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := journal.Flush(); err != nil {
		log.Warnw("journal_flush_failed", "err", err)
	}
	log.Infow("simulation_finished",
		"tick", coord.CurrentTick(),
		"trades", len(coord.Ledger()),
		"fee_revenue", coord.FeeRevenue().String(),
		"state_digest", coord.StateDigest().Hex())

	// keep serving the final state until interrupted
	<-ctx.Done()
	return nil
}

func openChannel(ctx context.Context, node params.Node, log *zap.SugaredLogger) (transport.Channel, error) {
	switch node.Transport {
	case "local":
		return transport.NewLocalChannel(), nil
	case "libp2p":
		ch, err := transport.NewLibp2pChannel(ctx, transport.Libp2pConfig{
			ListenAddr: node.ListenAddr,
			Bootstrap:  node.Bootstrap,
			Logger:     log,
		})
		if err != nil {
			return nil, fmt.Errorf("libp2p init: %w", err)
		}
		return ch, nil
	default:
		return nil, nil
	}
}
