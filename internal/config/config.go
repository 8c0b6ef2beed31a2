// Package config defines the node's library-level configuration struct
// and its go-flags parser, grounded on the teacher pack's own
// cmd/txgen-style config.go (a plain struct tagged for
// github.com/jessevdk/go-flags, parsed by a small parseConfig-shaped
// function, with post-parse validation and defaulting). This is not a
// CLI surface itself — spec §6 keeps the CLI boundary out of the core's
// contract — it is a loader cmd/noded (or any other composition root)
// calls with its own argv.
package config

import (
	"fmt"

	"github.com/jessevdk/go-flags"
)

const (
	defaultChainID               = 1
	defaultSnapshotIntervalSecs  = 30
	defaultGossipListenAddr      = "127.0.0.1:0"
	defaultLogFilename           = "noded.log"
)

// Config is the node's full set of startup options (spec's ambient
// stack: "data dir, chain id, VDF rounds override, listen spec for the
// loopback gossip bus, snapshot interval").
type Config struct {
	DataDir             string  `long:"datadir" description:"Directory for the chain store, WAL, and governance trees" required:"true"`
	ChainID             uint32  `long:"chainid" description:"Chain identifier folded into the domain-separation tag"`
	VDFRoundsOverride   uint64  `long:"vdf-rounds" description:"Override the VDF anchor's configured round count (0 keeps the compiled default)"`
	GossipListenAddr    string  `long:"gossip-listen" description:"Address the loopback gossip bus listens on"`
	GossipPeers         []string `long:"gossip-peer" description:"Address of a peer to dial on startup (repeatable)"`
	SnapshotIntervalSecs uint64 `long:"snapshot-interval" description:"Seconds between chain store snapshots"`
	LogLevel            string  `long:"loglevel" description:"Log level or subsys=level,... spec (see internal/logging)"`
}

// Load parses args (typically os.Args[1:], supplied by the composition
// root) into a Config, applying the same defaulting and validation
// shape the teacher's parseConfig functions use.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("config: --datadir is required")
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = defaultChainID
	}
	if cfg.GossipListenAddr == "" {
		cfg.GossipListenAddr = defaultGossipListenAddr
	}
	if cfg.SnapshotIntervalSecs == 0 {
		cfg.SnapshotIntervalSecs = defaultSnapshotIntervalSecs
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// DefaultLogFilename is the log filename cmd/noded joins onto DataDir
// when constructing the logging.Backend, kept here so the composition
// root and any test harness agree on it without duplicating the
// literal.
const DefaultLogFilename = defaultLogFilename
