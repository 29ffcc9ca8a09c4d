package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/invoiceai/invoice-pipeline-service/api"
	"github.com/invoiceai/invoice-pipeline-service/internal/auth"
	"github.com/invoiceai/invoice-pipeline-service/internal/config"
	"github.com/invoiceai/invoice-pipeline-service/internal/queue"
	"github.com/invoiceai/invoice-pipeline-service/internal/storage"
	"github.com/invoiceai/invoice-pipeline-service/internal/store"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	jwt, err := auth.NewJWT(cfg.Auth.JWTSecret)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize auth")
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database.URL, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer st.Close()

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to object storage")
	}

	q := queue.New(queue.RedisOpt(cfg.Redis))
	defer q.Close()

	ledger := store.NewLedger(st, cfg.Quota.DailyFreeTokens)

	handler := api.NewHandler(cfg, st, ledger, objects, q, log)
	router := handler.SetupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.WithFields(logrus.Fields{
		"addr":      addr,
		"version":   api.Version,
		"providers": len(cfg.AI.Providers),
	}).Info("starting invoice pipeline API")

	if err := http.ListenAndServe(addr, jwt.Middleware(router)); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}
