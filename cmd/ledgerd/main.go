// Command ledgerd wires together the storage, transaction-protocol shell,
// intent-gossip mempool, and matchmaker driver into one node process.
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"vpledger/internal/gossip"
	"vpledger/internal/matchmaker"
	"vpledger/internal/shell"
	"vpledger/internal/storage"
	"vpledger/internal/storedb"
	"vpledger/pkg/config"
	"vpledger/pkg/logging"
)

func main() {
	env := flag.String("env", "", "environment overlay name (merges config/<env>.yaml)")
	flag.Parse()

	cfg, err := config.Load(*env)
	if err != nil {
		logging.For("main").Fatalf("load config: %v", err)
	}
	if err := logging.Configure(cfg.Logging.Level, cfg.Logging.File); err != nil {
		logging.For("main").Fatalf("configure logging: %v", err)
	}
	log := logging.For("main")

	db, err := storedb.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("open storedb: %v", err)
	}
	defer db.Close()

	st, err := storage.Open(db)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}

	limits := shell.GasLimits{Block: cfg.Storage.Gas.BlockLimit, Tx: cfg.Storage.Gas.TxLimit}
	sh := shell.New(st, limits)
	host := shell.NewHost(sh, shell.StructuralValidator{})
	go host.Run()

	var filter *gossip.Filter
	if path := cfg.Gossip.Mempool.FilterWasmPath; path != "" {
		code, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read filter wasm: %v", err)
		}
		filter, err = gossip.CompileFilter(code)
		if err != nil {
			log.Fatalf("compile filter wasm: %v", err)
		}
	}

	// server owns the mempool that both the gossip transport (inbound
	// messages) and the matchmaker driver (outbound intents it admits)
	// share; the matchmaker is wired as server's MatchRunner once
	// constructed below, closing the new-intent -> admit -> run-matchmaker
	// loop.
	server := gossip.NewServer(filter, nil)

	var mm *matchmaker.Driver
	if path := cfg.Gossip.Matchmaker.WasmPath; path != "" {
		mmCode, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read matchmaker wasm: %v", err)
		}
		txCode, err := os.ReadFile(cfg.Gossip.Matchmaker.TxCodeWasmPath)
		if err != nil {
			log.Fatalf("read matchmaker tx code wasm: %v", err)
		}
		mmPub, mmPriv, err := ed25519.GenerateKey(nil)
		if err != nil {
			log.Fatalf("generate matchmaker signing key: %v", err)
		}
		mm, err = matchmaker.New(mmCode, txCode, mmPub, mmPriv, server.Mempool, host, matchmaker.Options{
			OutboundCapacity:   cfg.Gossip.Matchmaker.OutboundCapacity,
			PanicOnRunnerError: cfg.Gossip.Matchmaker.PanicOnRunnerError,
		})
		if err != nil {
			log.Fatalf("construct matchmaker driver: %v", err)
		}
		server.SetMatchRunner(mm)
	}

	if mm != nil {
		go func() {
			for ob := range mm.Outbound() {
				log.Infof("matchmaker command id=%s kind=%d", ob.CorrelationID, ob.Command.Kind)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	transport, err := gossip.NewTransport(ctx, gossip.TransportConfig{
		ListenAddr:     cfg.Network.ListenAddr,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
		BootstrapPeers: cfg.Network.BootstrapPeers,
	}, server)
	if err != nil {
		log.Fatalf("start gossip transport: %v", err)
	}
	defer transport.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	done := make(chan shell.Reply, 1)
	host.Commands() <- shell.Command{Kind: shell.CmdTerminate, Reply: done}
}
