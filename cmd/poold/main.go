package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/natefinch/lumberjack.v2"

	"nftpool/config"
	"nftpool/native/pool"
	"nftpool/native/token"
	"nftpool/observability/logging"
	"nftpool/rpc"
	"nftpool/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "poold.toml", "path to poold config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var logOutput io.Writer
	if cfg.LogFile != "" {
		logOutput = &lumberjack.Logger{
			Filename: cfg.LogFile,
			MaxSize:  cfg.LogMaxSizeMB,
			MaxAge:   cfg.LogMaxAge,
			Compress: true,
		}
	}
	logger := logging.Setup("poold", cfg.Env, logOutput)

	params, err := cfg.PoolParams()
	if err != nil {
		logger.Error("invalid pool parameters", "error", err)
		os.Exit(1)
	}
	poolAddr := cfg.PoolAddress()
	if poolAddr == (common.Address{}) {
		logger.Error("pool address not configured")
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "error", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "pool"))
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	currency := token.NewLedger(poolAddr)
	collateral := token.NewNFTLedger()
	collab := pool.Collaborators{
		Currency:     currency,
		Collateral:   collateral,
		DelegationV1: token.NewRegistry(),
		DelegationV2: token.NewRegistry(),
	}
	p, err := pool.NewPool(poolAddr, params, collab)
	if err != nil {
		logger.Error("construct pool", "error", err)
		os.Exit(1)
	}
	if err := p.Load(db); err != nil {
		logger.Error("restore pool state", "error", err)
		os.Exit(1)
	}

	server := rpc.NewServer(p, db, logger, rpc.ServerConfig{
		MutationRate:  cfg.MutationRate,
		MutationBurst: cfg.MutationBurst,
	})
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", "address", cfg.RPCAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("rpc server failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	if err := p.Save(db); err != nil {
		logger.Error("final snapshot failed", "error", err)
	}
	logger.Info("stopped")
}
