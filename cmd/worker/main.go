package main

import (
	"context"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/invoiceai/invoice-pipeline-service/internal/ai"
	"github.com/invoiceai/invoice-pipeline-service/internal/config"
	"github.com/invoiceai/invoice-pipeline-service/internal/fraud"
	"github.com/invoiceai/invoice-pipeline-service/internal/ocr"
	"github.com/invoiceai/invoice-pipeline-service/internal/pipeline"
	"github.com/invoiceai/invoice-pipeline-service/internal/queue"
	"github.com/invoiceai/invoice-pipeline-service/internal/storage"
	"github.com/invoiceai/invoice-pipeline-service/internal/store"
	"github.com/invoiceai/invoice-pipeline-service/internal/tax"
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

	ledger := store.NewLedger(st, cfg.Quota.DailyFreeTokens)

	engine := ocr.NewTesseractEngine(cfg.OCR.TesseractBinary)
	var remote ocr.RemoteEngine
	if cfg.OCR.RemoteAPIKey != "" {
		remote = ocr.NewRemoteClient(cfg.OCR.RemoteEndpoint, cfg.OCR.RemoteAPIKey)
	}
	chain := ocr.NewChain(cfg.OCR, engine, remote, log)

	specs := make([]ai.ProviderSpec, 0, len(cfg.AI.Providers))
	for _, p := range cfg.AI.Providers {
		specs = append(specs, ai.ProviderSpec{
			Name:       p.Name,
			APIKey:     p.APIKey,
			BaseURL:    p.BaseURL,
			Model:      p.Model,
			Priority:   p.Priority,
			DailyQuota: p.DailyQuota,
			UnitCost:   p.UnitCost,
		})
	}
	router := ai.NewRouter(ai.BuildProviders(specs), st,
		time.Duration(cfg.AI.TimeoutSeconds)*time.Second, log)
	extractor := ai.NewExtractor(router, cfg.AI.Categories)

	scorer := fraud.NewScorer(fraud.Config{
		HighAmountThreshold: decimal.NewFromFloat(cfg.Fraud.HighAmountThreshold),
		DeviationMultiplier: decimal.NewFromFloat(cfg.Fraud.DeviationMultiplier),
		DuplicateWindow:     time.Duration(cfg.Fraud.DuplicateWindowDays) * 24 * time.Hour,
		StaleAge:            time.Duration(cfg.Fraud.StaleAfterDays) * 24 * time.Hour,
	})
	taxEval := tax.NewEvaluator(cfg.Tax.DefaultRegion)

	orchestrator := pipeline.NewOrchestrator(
		st, st, ledger, objects, chain, extractor, scorer, taxEval,
		cfg.StageCost, cfg.Fraud.HistoryLimit, log,
	)

	// Daily quota sweep at UTC midnight. Debits also reset lazily, this
	// keeps idle accounts from reporting stale balances.
	go func() {
		for {
			time.Sleep(time.Until(store.NextUTCMidnight(time.Now())))
			reset, err := ledger.ResetDueDailyQuotas(ctx)
			if err != nil {
				log.WithError(err).Error("daily quota sweep failed")
				continue
			}
			log.WithField("accounts", reset).Info("daily quotas reset")
		}
	}()

	worker := queue.NewWorker(orchestrator, log)
	server := queue.NewServer(queue.RedisOpt(cfg.Redis), 10)

	log.WithField("queue", queue.QueueName).Info("starting pipeline worker")
	if err := server.Run(worker.Mux()); err != nil {
		log.WithError(err).Fatal("worker failed")
	}
}
