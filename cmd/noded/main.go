// Command noded is the node composition root: it loads configuration,
// wires the consensus core's components together (state store, chain
// store, mempool, fork choice, governance, block pipeline, loopback
// gossip bus), creates the genesis block on a fresh data directory, and
// runs until an OS signal asks it to stop. Grounded on the teacher's
// cmd/empower1d/main.go: a runNode helper that builds every component
// and returns a handle the caller can Stop(), plus a main that waits on
// os.Signal for graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ledgerforge/consensuscore/internal/blockchain"
	"github.com/ledgerforge/consensuscore/internal/clock"
	"github.com/ledgerforge/consensuscore/internal/config"
	"github.com/ledgerforge/consensuscore/internal/consensus"
	"github.com/ledgerforge/consensuscore/internal/constants"
	"github.com/ledgerforge/consensuscore/internal/core/types"
	"github.com/ledgerforge/consensuscore/internal/cryptoverify"
	"github.com/ledgerforge/consensuscore/internal/forkchoice"
	"github.com/ledgerforge/consensuscore/internal/gossip"
	"github.com/ledgerforge/consensuscore/internal/governance"
	"github.com/ledgerforge/consensuscore/internal/kv"
	"github.com/ledgerforge/consensuscore/internal/logging"
	"github.com/ledgerforge/consensuscore/internal/mempool"
	"github.com/ledgerforge/consensuscore/internal/state"
	"github.com/ledgerforge/consensuscore/internal/wal"
)

// node bundles every long-lived component runNode wires up, so main can
// stop them in the right order.
type node struct {
	logBackend *logging.Backend
	kvEngine   *kv.LevelEngine
	walLog     *wal.Log
	gossipBus  *gossip.Bus
	pipeline   *consensus.Pipeline
	chain      *blockchain.ChainStore
	governance *governance.Controller
}

func (n *node) Stop() {
	if n.gossipBus != nil {
		n.gossipBus.Close()
	}
	if n.walLog != nil {
		n.walLog.Close()
	}
	if n.kvEngine != nil {
		n.kvEngine.Close()
	}
	if n.logBackend != nil {
		n.logBackend.Close()
	}
}

// runNode performs the full startup sequence: open the KV engine and
// WAL, open or create the chain store (mining a genesis block on a
// fresh data directory), build the state store, mempool, fork choice,
// governance controller, gossip bus, and finally the block pipeline
// that ties them together.
func runNode(cfg *config.Config) (*node, error) {
	logBackend, err := logging.New(filepath.Join(cfg.DataDir, config.DefaultLogFilename))
	if err != nil {
		return nil, fmt.Errorf("open log backend: %w", err)
	}
	if err := logBackend.SetLevels(cfg.LogLevel); err != nil {
		logBackend.Close()
		return nil, fmt.Errorf("apply log level %q: %w", cfg.LogLevel, err)
	}
	pipeLog := logBackend.Logger(logging.SubsystemPipeline)

	params := constants.Default()
	params.SchemaVersion = 1
	if cfg.VDFRoundsOverride > 0 {
		params.VDFRounds = cfg.VDFRoundsOverride
	}

	kvEngine, err := kv.OpenLevel(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		logBackend.Close()
		return nil, fmt.Errorf("open chain kv engine: %w", err)
	}

	walLog, err := wal.Open(filepath.Join(cfg.DataDir, "wal"))
	if err != nil {
		kvEngine.Close()
		logBackend.Close()
		return nil, fmt.Errorf("open wal: %w", err)
	}

	chainStore, err := blockchain.Open(kvEngine, params)
	if err != nil {
		walLog.Close()
		kvEngine.Close()
		logBackend.Close()
		return nil, fmt.Errorf("open chain store: %w", err)
	}

	store := state.New(kvEngine)
	if err := store.Load(); err != nil {
		walLog.Close()
		kvEngine.Close()
		logBackend.Close()
		return nil, fmt.Errorf("load state store: %w", err)
	}

	clk := clock.Real{}
	verifier := cryptoverify.NewVerifier(cfg.ChainID)

	if chainStore.CurrentHeight() < 0 {
		treasury := types.Address("genesis-treasury")
		genesis, err := blockchain.CreateGenesisBlock(store, params, clk.NowMillis(), treasury, 0, 0)
		if err != nil {
			walLog.Close()
			kvEngine.Close()
			logBackend.Close()
			return nil, fmt.Errorf("create genesis block: %w", err)
		}
		genesisPipe := consensus.New(params, verifier, store, nil, chainStore, clk, walLog, pipeLog)
		if err := genesisPipe.CommitBlock(genesis, nil, chainStore.AddBlock); err != nil {
			walLog.Close()
			kvEngine.Close()
			logBackend.Close()
			return nil, fmt.Errorf("commit genesis block: %w", err)
		}
		pipeLog.Infof("created genesis block, hash=%x", genesis.Hash)
	} else {
		pipeLog.Infof("loaded existing chain at height %d", chainStore.CurrentHeight())
	}

	// history is a placeholder HistoryChecker: a real deployment would
	// consult a transaction index the chain store does not yet maintain,
	// so every transaction is currently treated as unconfirmed.
	history := func(types.Hash32) bool { return false }
	mp := mempool.New(params, verifier, store, clk, history)

	unl := forkchoice.NewUNL()
	govLog := logBackend.Logger(logging.SubsystemGovernance)
	govRegistry := governance.DefaultRegistry(params)
	govController := governance.New(govRegistry, unl, params)
	govLog.Infof("governance controller ready, %d registered parameters", len(govRegistry))

	gossipLog := logBackend.Logger(logging.SubsystemGossip)
	bus, err := gossip.NewBus(cfg.GossipListenAddr, gossipLog)
	if err != nil {
		walLog.Close()
		kvEngine.Close()
		logBackend.Close()
		return nil, fmt.Errorf("start gossip bus: %w", err)
	}
	for _, peer := range cfg.GossipPeers {
		if err := bus.Dial(context.Background(), peer); err != nil {
			gossipLog.Warnf("failed to dial peer %s: %v", peer, err)
		}
	}
	pipeLog.Infof("gossip bus listening on %s", bus.Addr())

	pipe := consensus.New(params, verifier, store, mp, chainStore, clk, walLog, pipeLog)

	return &node{
		logBackend: logBackend,
		kvEngine:   kvEngine,
		walLog:     walLog,
		gossipBus:  bus,
		pipeline:   pipe,
		chain:      chainStore,
		governance: govController,
	}, nil
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	n, err := runNode(cfg)
	if err != nil {
		log.Fatalf("node initialization failed: %v", err)
	}
	log.Printf("noded running at height %d, press Ctrl+C to stop", n.chain.CurrentHeight())

	shutdownChannel := make(chan os.Signal, 1)
	signal.Notify(shutdownChannel, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdownChannel
	log.Printf("caught signal %v, shutting down", sig)
	n.Stop()
	log.Println("noded shut down gracefully.")
}
