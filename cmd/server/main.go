package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clob/api/httpserver"
	"clob/domain/ledger"
	"clob/domain/orderbook"
	"clob/domain/registry"
	"clob/infra/config"
	infrakafka "clob/infra/kafka"
	"clob/infra/logging"
	"clob/infra/outbox"
	"clob/infra/sequence"
	entrywal "clob/infra/wal/entry"
	"clob/jobs/broadcaster"
	"clob/jobs/depth"
	"clob/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not configured yet.
		println("config load failed:", err.Error())
		os.Exit(1)
	}

	log := logging.Setup(cfg.Logging.Level, cfg.Logging.Dir)

	// ---------------- Durable state ----------------

	journal, err := entrywal.Open(entrywal.Config{
		Dir:         cfg.Journal.Dir,
		SegmentSize: cfg.Journal.SegmentSize,
	})
	if err != nil {
		log.WithError(err).Fatal("journal init failed")
	}
	defer journal.Close()

	box, err := outbox.Open(cfg.Outbox.Dir)
	if err != nil {
		log.WithError(err).Fatal("outbox init failed")
	}
	defer box.Close()

	// ---------------- Domain ----------------

	led := ledger.New(ledger.Config{
		FeeReceiver:  cfg.Fees.Receiver,
		MakerFeeRate: cfg.Fees.MakerRate,
		TakerFeeRate: cfg.Fees.TakerRate,
	})
	reg := registry.New(led)
	seqGen := sequence.New(0)

	svc := service.NewExchange(led, reg, journal, box, seqGen, cfg.Server.RouterAddr, log)

	for _, p := range cfg.Pools {
		_, err := svc.CreatePool(orderbook.Config{
			Base:         p.Base,
			Quote:        p.Quote,
			BaseDecimals: p.BaseDecimals,
			Owner:        p.Owner,
			TTL:          p.OrderTTL,
			Rules: orderbook.Rules{
				MinTradeAmount:    p.MinTradeAmount,
				MinAmountMovement: p.MinAmountMovement,
				MinOrderSize:      p.MinOrderSize,
				MinPriceMovement:  p.MinPriceMovement,
				SlippageThreshold: p.SlippageThreshold,
			},
		})
		if err != nil {
			log.WithError(err).Fatal("pool creation failed")
		}
	}

	// ---------------- Replay ----------------

	if err := svc.ReplayJournal(cfg.Journal.Dir); err != nil {
		log.WithError(err).Fatal("journal replay failed")
	}

	// ---------------- Background jobs ----------------

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(cfg.Kafka.Brokers) > 0 {
		bc, err := broadcaster.New(box, cfg.Kafka.Brokers, cfg.Kafka.TradesTopic, 250*time.Millisecond, log)
		if err != nil {
			log.WithError(err).Fatal("broadcaster init failed")
		}
		defer bc.Close()
		go bc.Run(ctx)

		depthProducer := infrakafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.DepthTopic)
		defer depthProducer.Close()
		go depth.New(reg, depthProducer, 2*time.Second, log).Run(ctx)
	}

	// ---------------- HTTP ----------------

	srv := httpserver.New(svc, cfg.Server.AuthToken, log)
	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv.Routes(),
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", cfg.Server.ListenAddr).Info("exchange listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("http server exited")
	}
}
