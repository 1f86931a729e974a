// Command rhemad starts a single rhema node: the knowledge engine, lock
// file subsystem, scope manager, and coordination plane, wired together
// the way cmd/cliaimonitor wires dashboard/server/captain/memory in the
// teacher repo. CLI surfaces beyond startup and graceful shutdown are out
// of scope; see SPEC_FULL.md's Non-goals.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rhema-core/rhema/internal/cache"
	"github.com/rhema-core/rhema/internal/cache/disktier"
	"github.com/rhema-core/rhema/internal/cache/memtier"
	"github.com/rhema-core/rhema/internal/coordination"
	"github.com/rhema-core/rhema/internal/coordination/bridge"
	"github.com/rhema-core/rhema/internal/knowledge"
	"github.com/rhema-core/rhema/internal/lockfile"
	"github.com/rhema-core/rhema/internal/metrics"
	rnats "github.com/rhema-core/rhema/internal/nats"
	"github.com/rhema-core/rhema/internal/scope"
	"github.com/rhema-core/rhema/internal/storage"
	"github.com/rhema-core/rhema/internal/vector"
)

func main() {
	root := flag.String("root", ".", "repository root to manage")
	dataDir := flag.String("data", "data", "directory for rhema's own state (db, jetstream)")
	natsPort := flag.Int("nats-port", 4222, "embedded NATS port (0 disables JetStream persistence)")
	bridgeURL := flag.String("bridge-url", "", "external NATS URL for cross-instance coordination (empty disables the bridge)")
	flag.Parse()

	basePath, err := filepath.Abs(*root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve root: %v\n", err)
		os.Exit(1)
	}
	if !filepath.IsAbs(*dataDir) {
		*dataDir = filepath.Join(basePath, *dataDir)
	}
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "create data dir: %v\n", err)
		os.Exit(1)
	}

	// GASM: discover scopes under root before anything else needs them.
	tree, err := scope.DiscoverScopes(basePath, scope.DefaultMarkerFiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discover scopes: %v\n", err)
		os.Exit(1)
	}
	log.Printf("rhemad: discovered %d scope(s) under %s", len(tree.All()), basePath)

	db, err := storage.Open(filepath.Join(*dataDir, "rhema.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open storage: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// LFS: back-fill a rhema.lock for any discovered scope that doesn't
	// already have one, recording the generation in the audit trail.
	lockAuditor := lockfile.NewAuditor(db)
	for _, s := range tree.All() {
		lockPath := filepath.Join(s.Path, "rhema.lock")
		if _, statErr := os.Stat(lockPath); statErr == nil {
			continue
		}
		if _, genErr := lockfile.GenerateAndWrite(context.Background(), lockAuditor, lockPath, "rhemad", map[string]lockfile.LockedScope{}); genErr != nil {
			log.Printf("rhemad: failed to generate lock for scope %s: %v", s.Path, genErr)
		}
	}

	// UKE: cache tiers backing the knowledge engine. Network tier is
	// intentionally left unconfigured here; a deployment wanting the
	// shared Redis tier wires networktier.New(redisURL, poolSize) in.
	memTier := memtier.New(cache.EvictionAdaptive, cache.AdaptiveWeights{}, 64<<20)
	diskTier, err := disktier.New(db, filepath.Join(*dataDir, "cache"), cache.CompressionZstd, 4, 512<<20)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open disk cache tier: %v\n", err)
		os.Exit(1)
	}

	embedder := vector.NewRateLimitedEmbedder(vector.NewHashEmbedder(256), 50, 10)
	vectorStore := vector.NewStore(vector.Config{
		Backend:        vector.BackendLocal,
		Dimension:      256,
		DistanceMetric: vector.DistanceCosine,
		Failover:       true,
	}, embedder, vector.NewLocalBackend())

	cacheCfg := cache.Config{
		Memory: cache.MemoryConfig{Enabled: true, MaxSizeBytes: 64 << 20, EvictionPolicy: cache.EvictionAdaptive},
		Disk:   cache.DiskConfig{Enabled: true, Dir: filepath.Join(*dataDir, "cache"), MaxSizeBytes: 512 << 20, CompressionEnabled: true, CompressionAlgorithm: cache.CompressionZstd, CompressionThresholdKB: 4},
	}
	rhemaCache := cache.New(cacheCfg, memTier, diskTier, nil, vectorStore)
	engine := knowledge.NewEngine(rhemaCache, vectorStore, 0.75)
	_ = engine

	// RTAC: metrics registry and coordinator, with lock-file-awareness
	// wired back into LFS via the OutdatedChecker hook.
	metricsReg := metrics.NewRegistry("rhema")
	isOutdated := func(scopePath string) (bool, error) {
		lockPath := filepath.Join(scopePath, "rhema.lock")
		if _, err := os.Stat(lockPath); err != nil {
			return false, nil
		}
		return lockfile.IsOutdated(lockPath, []string{scopePath})
	}
	coord := coordination.NewCoordinator(coordination.FaultToleranceConfig{
		MaxRetryAttempts:        3,
		CircuitBreakerThreshold: 5,
	}, coordination.AIServiceConfig{
		EnableLockFileAwareness: true,
	}, isOutdated, metricsReg)

	var embeddedNATS *rnats.EmbeddedServer
	if *natsPort != 0 {
		embeddedNATS, err = rnats.NewEmbeddedServer(rnats.EmbeddedServerConfig{
			Port:      *natsPort,
			JetStream: true,
			DataDir:   filepath.Join(*dataDir, "jetstream"),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "start embedded NATS: %v\n", err)
			os.Exit(1)
		}
		if err := embeddedNATS.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "start embedded NATS: %v\n", err)
			os.Exit(1)
		}
		defer embeddedNATS.Shutdown()
		log.Printf("rhemad: embedded NATS listening at %s", embeddedNATS.URL())
	}

	var br *bridge.Bridge
	if *bridgeURL != "" {
		br, err = bridge.Connect(bridge.Config{URL: *bridgeURL}, func(msg coordination.Message) {
			coord.Dispatcher.Enqueue(msg, nil)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "connect coordination bridge: %v\n", err)
			os.Exit(1)
		}
		defer br.Close()
		log.Printf("rhemad: bridged to %s", *bridgeURL)
	}

	log.Println("rhemad: ready")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown
	log.Println("rhemad: shutting down")
}
