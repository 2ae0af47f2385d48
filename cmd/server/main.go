package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/loomcollab/relay/internal/api"
	"github.com/loomcollab/relay/internal/config"
	"github.com/loomcollab/relay/internal/crdt"
	"github.com/loomcollab/relay/internal/persist"
	"github.com/loomcollab/relay/internal/room"
	"github.com/loomcollab/relay/internal/store"
	"github.com/loomcollab/relay/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var (
		st          *store.Store
		writer      *persist.Writer
		snapshotter *persist.Snapshotter
	)
	if cfg.DBPath != "" {
		st, err = store.Open(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		defer st.Close()

		writer = persist.NewWriter(st)
		snapshotter = persist.NewSnapshotter(st, persist.Config{
			Interval:       cfg.SnapshotInterval,
			DeltaThreshold: cfg.SnapshotThreshold,
		})
		snapshotter.Start()
	}

	opts := room.RegistryOptions{
		NewDocument: func(key room.Key) crdt.Document {
			if st == nil {
				return crdt.NewUpdateLog()
			}
			return loadDocument(st, key)
		},
		GracePeriod: cfg.RoomGracePeriod,
	}
	if writer != nil {
		opts.OnDelta = writer.Enqueue
	}
	if snapshotter != nil {
		opts.OnReap = func(key room.Key) {
			if err := snapshotter.SnapshotNow(key); err != nil {
				log.Printf("Final snapshot for room %s: %v", key, err)
			}
		}
	}
	registry := room.NewRegistry(opts)

	wsHandler := ws.NewHandler(registry, ws.Options{
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MaxAwarenessBytes: cfg.MaxAwarenessBytes,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
	})
	apiHandler := api.New(registry, st)

	http.Handle("/collab/", wsHandler)
	http.HandleFunc("/health", apiHandler.HealthHandler)
	http.HandleFunc("/api/stats", apiHandler.StatsHandler)

	handler := corsMiddleware(http.DefaultServeMux)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down relay...")
		registry.Close()
		if snapshotter != nil {
			snapshotter.Stop()
		}
		if writer != nil {
			writer.Stop()
		}
		if st != nil {
			st.Close()
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Printf("Relay starting on %s", addr)
	if st != nil {
		log.Printf("Persistence: %s", cfg.DBPath)
	} else {
		log.Println("Persistence: disabled (memory-only)")
	}
	log.Println("Endpoints:")
	log.Println("  - Collab:  /collab/{roomType}/{roomId}/ws?client={clientId}")
	log.Println("  - Health:  GET /health")
	log.Println("  - Stats:   GET /api/stats")

	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

// loadDocument rehydrates a room's document from the store, falling back to
// an empty one on any failure.
func loadDocument(st *store.Store, key room.Key) crdt.Document {
	snapshot, deltas, err := st.LoadDocument(key)
	if err != nil {
		log.Printf("Load document for room %s: %v", key, err)
		return crdt.NewUpdateLog()
	}
	doc := crdt.NewUpdateLogFromSnapshot(snapshot)
	for _, d := range deltas {
		if err := doc.ApplyDelta(d); err != nil {
			log.Printf("Replay delta for room %s: %v", key, err)
		}
	}
	return doc
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
