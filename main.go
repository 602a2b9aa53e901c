package main

import (
	"context"
	"log"
	"os"
	"time"

	"flightchat/internal/api"
	"flightchat/internal/client"
	"flightchat/internal/config"
	"flightchat/internal/redis"
	"flightchat/internal/service/chat"
	"flightchat/internal/storage"
	"flightchat/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("FLIGHTCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	backend := os.Getenv("FLIGHTCHAT_STORAGE")
	if backend == "" {
		backend = cfg.StorageBackend
	}
	log.Printf("storage backend: %s\n", backend)

	var kv storage.KV
	switch backend {
	case "redis":
		rdb, err := redis.NewClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		kv = storage.NewRedisKV(rdb)
	default:
		db, err := storage.Open(backend, cfg)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		// Create the kv_entries table holding serialized session state.
		if err := storage.Migrate(db, backend); err != nil {
			db.Close()
			log.Fatalf("migrate database: %v", err)
		}
		kv = storage.NewSQLKV(db, backend)
	}
	defer kv.Close()
	store := storage.NewStore(kv)

	streamTimeout := time.Duration(cfg.BasicConfig.StreamTimeout) * time.Minute
	agent := client.New(cfg.BasicConfig.AgentURL, streamTimeout)

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})
	defer dispatcher.Stop()

	service := chat.NewService(context.Background(), agent, store, dispatcher)
	defer service.Close()

	handlers := api.NewHandler(service)
	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
