// axnode runs a single edge node: local event store, Banyan block store,
// gossip replication, retention sweeps, and the HTTP API.
package main

import (
	"context"
	"database/sql"
	"embed"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgemesh/axcore/pkg/api"
	"github.com/edgemesh/axcore/pkg/banyan"
	"github.com/edgemesh/axcore/pkg/blockstore"
	"github.com/edgemesh/axcore/pkg/config"
	"github.com/edgemesh/axcore/pkg/database"
	"github.com/edgemesh/axcore/pkg/eventstore"
	"github.com/edgemesh/axcore/pkg/gossip"
	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/replication"
	"github.com/edgemesh/axcore/pkg/retention"

	"github.com/coder/websocket"
)

//go:embed migrations/*.sql
var migrations embed.FS

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting axnode", "config_dir", *configDir)

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.WorkingDir, 0o750); err != nil {
		log.Fatalf("failed to create working directory: %v", err)
	}
	paths := cfg.StoragePaths()

	node, err := loadOrCreateIdentity(ctx, paths.NodeDB)
	if err != nil {
		log.Fatalf("failed to establish node identity: %v", err)
	}
	slog.Info("node identity", "node_id", node.String(), "topic", cfg.Swarm.Topic)

	bs, err := blockstore.Open(ctx, paths.BlockDB)
	if err != nil {
		log.Fatalf("failed to open block store: %v", err)
	}
	defer bs.Close()

	tree, err := banyan.New(bs, cfg.Tree.ToTreeConfig(), 256)
	if err != nil {
		log.Fatalf("failed to open banyan tree: %v", err)
	}

	repl := replication.New()
	store := eventstore.New(tree, bs, repl, node)
	if err := store.Restore(ctx); err != nil {
		log.Fatalf("failed to restore event store: %v", err)
	}
	store.Start(ctx)
	defer store.Stop()

	engine := gossip.New(node, store, bs, banyan.Children, repl, cfg.Gossip.ToEngineConfig())
	store.SetLocalRootHook(func(stream nodeid.StreamID, root blockstore.CID, offset uint64, lamport uint64) {
		engine.PublishRoot(stream, root, offset, lamport, nil)
	})
	engine.Start(ctx)
	defer engine.Stop()

	for _, seed := range cfg.Gossip.Seeds {
		peerID, err := nodeid.Parse(seed.NodeID)
		if err != nil {
			slog.Error("skipping seed with malformed node_id", "node_id", seed.NodeID, "error", err)
			continue
		}
		go dialSeed(ctx, engine, node, peerID, seed.Address)
	}

	retentionSvc := retention.NewService(cfg.Retention, tree, bs, store)
	retentionSvc.Start(ctx)
	defer retentionSvc.Stop()

	server := api.NewServer(node, store, engine, repl)
	server.SetDefaultFeatures(cfg.Query.FeatureSet())

	if cfg.Gossip.ListenAddr != "" {
		go serveSwarm(ctx, engine, cfg.Gossip.ListenAddr)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
	}()

	slog.Info("http api listening", "addr", cfg.HTTP.ListenAddr)
	if err := server.Start(cfg.HTTP.ListenAddr); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server failed: %v", err)
	}

	slog.Info("axnode stopped")
}

// loadOrCreateIdentity opens the node's keystore database and returns its
// persisted identity, minting and storing a fresh one on first run (spec
// §6 "node.sqlite (keystore/metadata)"). The identity is fixed for the
// lifetime of a working directory: restarting a node must not change
// which streams it owns.
func loadOrCreateIdentity(ctx context.Context, path string) (nodeid.NodeID, error) {
	db, err := database.Open(ctx, path, migrations, "migrations")
	if err != nil {
		return nodeid.NodeID{}, err
	}
	defer db.Close()

	var raw []byte
	err = db.QueryRowContext(ctx, `SELECT node_id FROM node_identity WHERE id = 1`).Scan(&raw)
	switch {
	case err == nil:
		if len(raw) != nodeid.Size {
			return nodeid.NodeID{}, nodeid.ErrInvalidLength
		}
		var id nodeid.NodeID
		copy(id[:], raw)
		return id, nil
	case err == sql.ErrNoRows:
		id, err := nodeid.New()
		if err != nil {
			return nodeid.NodeID{}, err
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO node_identity (id, node_id) VALUES (1, ?)`, id[:]); err != nil {
			return nodeid.NodeID{}, err
		}
		return id, nil
	default:
		return nodeid.NodeID{}, err
	}
}

// dialSeed connects to a configured swarm peer and hands the connection to
// the gossip engine, retrying failed dials with backoff until one succeeds
// or the node shuts down (spec §4.5 "peers are discovered... or configured
// directly as seeds"); a connection that later drops is not redialled. Our own
// node id is passed as a query parameter so the peer's accept handler can
// identify us without a dedicated handshake frame.
func dialSeed(ctx context.Context, engine *gossip.Engine, self, peerID nodeid.NodeID, addr string) {
	dialURL := addr + "?node=" + self.String()
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := engine.Dial(ctx, peerID, dialURL); err != nil {
			slog.Warn("seed dial failed, retrying", "addr", addr, "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		return
	}
}

// serveSwarm accepts incoming swarm WebSocket connections and hands each to
// the gossip engine (spec §4.5 transport).
func serveSwarm(ctx context.Context, engine *gossip.Engine, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/swarm", func(w http.ResponseWriter, r *http.Request) {
		peerID, err := nodeid.Parse(r.URL.Query().Get("node"))
		if err != nil {
			http.Error(w, "missing or malformed node query parameter", http.StatusBadRequest)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Warn("swarm accept failed", "error", err)
			return
		}
		engine.HandleConnection(r.Context(), peerID, conn)
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("swarm transport listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("swarm transport failed", "error", err)
	}
}
