package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/TrTueTah/ventidole-core/pkg/auth"
	"github.com/TrTueTah/ventidole-core/pkg/chat"
	"github.com/TrTueTah/ventidole-core/pkg/config"
	"github.com/TrTueTah/ventidole-core/pkg/db"
	"github.com/TrTueTah/ventidole-core/pkg/gateway"
	"github.com/TrTueTah/ventidole-core/pkg/membership"
	"github.com/TrTueTah/ventidole-core/pkg/messagestore"
	"github.com/TrTueTah/ventidole-core/pkg/notify"
	"github.com/TrTueTah/ventidole-core/pkg/snowflake"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	v, err := config.LoadConfig("config")
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		logger.Error("config parse failed", "err", err)
		os.Exit(1)
	}

	pg, err := db.NewPostgres(cfg.Postgres.DSN)
	if err != nil {
		logger.Error("postgres connect failed", "err", err)
		os.Exit(1)
	}
	defer pg.Close()

	scylla, err := db.NewSession(cfg.Scylla.Hosts, cfg.Scylla.Keyspace)
	if err != nil {
		logger.Error("scylla connect failed", "err", err)
		os.Exit(1)
	}
	defer scylla.Close()

	rdb, err := db.NewRedis(cfg.Redis.Addr)
	if err != nil {
		logger.Error("redis connect failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Node id should be unique per instance in production (env var or
	// service discovery).
	ids, err := snowflake.NewNode(1)
	if err != nil {
		logger.Error("snowflake init failed", "err", err)
		os.Exit(1)
	}

	membershipRepo := membership.NewRepository(pg, logger)
	messageRepo := messagestore.NewRepository(scylla, logger)

	publisher := gateway.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	hub := gateway.NewHub(membershipRepo, publisher, rdb, logger)

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Push.Endpoint != "" {
		notifier = notify.NewHTTPNotifier(cfg.Push.Endpoint, cfg.Push.ServerKey, logger)
	}

	service := chat.NewService(membershipRepo, messageRepo, ids, publisher, hub, notifier, logger)
	hub.SetPolicy(service)

	consumer := gateway.NewEventConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	go consumer.Run(context.Background(), hub.Route)

	verifier := auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.ExpiredIn)

	mux := http.NewServeMux()
	api := NewAPI(service, verifier, rdb, logger)
	api.Routes(mux)
	mux.Handle("GET /ws", gateway.ServeWS(hub, verifier, logger))

	addr := ":" + cfg.Server.Port
	logger.Info("chat service starting", "addr", addr, "env", cfg.Server.Environment)
	if err := http.ListenAndServe(addr, CORSMiddleware(mux)); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
