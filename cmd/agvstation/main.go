package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linetrack/config"
	"linetrack/engine"
	"linetrack/messaging"
	"linetrack/protocol"
	"linetrack/snapshot"
	"linetrack/store"
	"linetrack/syncchan"
	"linetrack/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "agvstation.yaml", "path to config file")
	port := flag.Int("port", 0, "web server port (overrides config)")
	dbPath := flag.String("db", "", "sqlite session log path (overrides config)")
	debug := flag.Bool("debug", false, "log every health round")
	flag.Parse()

	if *showVersion {
		fmt.Println("agvstation", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port != 0 {
		cfg.Web.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.SQLite.Path = *dbPath
	}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("agvstation: session log open (%s)", db.Driver())

	// Redis
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	cache, err := snapshot.New(ctx, &cfg.Redis)
	cancel()
	switch {
	case err != nil:
		log.Printf("agvstation: redis not available (%v), running without cache", err)
	case cache != nil:
		log.Printf("agvstation: redis connected (%s)", cfg.Redis.Address)
		defer cache.Close()
	}

	var (
		eng       *engine.Engine
		health    syncchan.HealthSource
		commands  engine.CommandSink
		msgConn   engine.Conn
		msgClient *messaging.Client
		bind      func()
	)

	switch cfg.Sync.Transport {
	case "", "http":
		health = syncchan.NewClient(cfg.Station.VehicleURL, cfg.Sync.Timeout)
		log.Printf("agvstation: probing vehicle at %s", cfg.Station.VehicleURL)

	case "mqtt", "kafka":
		codec, err := protocol.CodecByName(cfg.Sync.Codec)
		if err != nil {
			log.Fatalf("sync codec: %v", err)
		}
		msgClient = messaging.NewClient(cfg.Sync.Transport, &cfg.Messaging, cfg.Messaging.StationID)
		if err := msgClient.Connect(); err != nil {
			log.Printf("agvstation: messaging connect failed (%v)", err)
		} else {
			log.Printf("agvstation: messaging connected (%s)", msgClient.Backend())
		}
		defer msgClient.Close()
		msgConn = msgClient

		src := protocol.Address{Role: protocol.RoleStation, Node: cfg.Messaging.StationID}
		dst := protocol.Address{Role: protocol.RoleVehicle, Node: cfg.NodeID()}
		commands = syncchan.NewBrokerSink(msgClient, codec, cfg.Messaging.CommandsTopic, src, dst)

		cell := &syncchan.Cell[protocol.HealthStatus]{}
		health = &syncchan.HealthCell{CellSource: syncchan.CellSource[protocol.HealthStatus]{
			Cell:   cell,
			MaxAge: 3 * cfg.Messaging.HealthInterval,
		}}
		// Subscribed once the engine exists.
		bind = func() {
			handler := messaging.NewStationHandler(eng.HandleReport, cell)
			if err := messaging.Bind(msgClient, codec, handler, protocol.DestinedFor(cfg.Messaging.StationID),
				cfg.Messaging.ReportsTopic, cfg.Messaging.HealthTopic); err != nil {
				log.Printf("agvstation: subscribe failed: %v", err)
			}
		}

	default:
		log.Fatalf("unknown sync transport %q", cfg.Sync.Transport)
	}

	if cfg.Sync.DropRate > 0 || cfg.Sync.Latency > 0 {
		lossy := syncchan.NewLossy(cfg.Sync.DropRate, cfg.Sync.Latency, time.Now().UnixNano())
		health = lossy.Health(health)
		log.Printf("agvstation: simulating %.0f%% loss on health probes", cfg.Sync.DropRate*100)
	}

	// Engine
	eng = engine.New(engine.Config{
		AppConfig: cfg,
		DB:        db,
		Cache:     cache,
		Health:    health,
		Commands:  commands,
		MsgClient: msgConn,
		Debug:     *debug,
	})
	if bind != nil {
		bind()
	}
	eng.Start()
	defer eng.Stop()

	// Outbox drainer (station events to observers)
	if msgClient != nil {
		drainer := messaging.NewOutboxDrainer(db, msgClient, cfg.Messaging.OutboxDrainInterval)
		drainer.Start()
		defer drainer.Stop()
	}

	// Web server
	handler, stopWeb := www.NewRouter(eng)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		log.Printf("agvstation: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("agvstation: ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("agvstation: shutting down...")
	stopWeb()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Printf("agvstation: stopped")
}
