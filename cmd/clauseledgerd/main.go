package main

import (
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clauseledger/config"
	"clauseledger/native/clause"
	"clauseledger/observability"
	"clauseledger/observability/logging"
	"clauseledger/rpc"
	"clauseledger/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CLAUSE_ENV"))
	logger := logging.Setup("clauseledgerd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "path", *configFile, "err", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("failed to open database", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	pauses := clause.NewStaticPauses(cfg.PausedModules)
	emitter := observability.NewMeteredEmitter(nil)

	token := config.RPCToken()
	if token == "" {
		logger.Warn("no RPC token configured, mutating methods are unauthenticated", "env", config.RPCTokenEnv)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("starting metrics server", "addr", cfg.MetricsAddress)
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	server := rpc.NewServer(db, emitter, token, pauses)
	logger.Info("clause ledger starting", "network", cfg.NetworkName, "rpc", cfg.RPCAddress)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "err", err)
		os.Exit(1)
	}
}
