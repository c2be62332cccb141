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
	"linetrack/linefollow"
	"linetrack/messaging"
	"linetrack/motorlink"
	"linetrack/protocol"
	"linetrack/syncchan"
	"linetrack/telemetry"
	"linetrack/vehicle"
	"linetrack/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "agvvehicle.yaml", "path to config file")
	port := flag.String("port", "", "serial port (overrides config)")
	sim := flag.Bool("sim", false, "run against the built-in bench simulator")
	listPorts := flag.Bool("list-ports", false, "list serial ports and exit")
	debug := flag.Bool("debug", false, "log dispatched missions")
	flag.Parse()

	if *showVersion {
		fmt.Println("agvvehicle", Version)
		return
	}
	if *listPorts {
		ports, err := motorlink.ListPorts()
		if err != nil {
			log.Fatalf("list ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port != "" {
		cfg.Serial.Port = *port
		cfg.Serial.Bridge = ""
	}
	nodeID := cfg.NodeID()

	// Motor controller
	transport, err := openTransport(cfg, *sim)
	if err != nil {
		log.Fatalf("motor link: %v", err)
	}
	link := motorlink.New(transport, motorlink.Options{
		Limit:       cfg.Serial.SpeedLimit,
		JoinTimeout: cfg.Serial.JoinTimeout,
	})
	defer link.Close()

	bus := engine.NewEventBus()
	machine := vehicle.NewMachine(vehicleConfig(cfg), engine.NewVehicleEmitter(bus))

	// Sync transport
	var (
		reports  syncchan.ReportSink
		commands syncchan.CommandSource
		events   *syncchan.BrokerSink
		beacon   *messaging.HealthBeacon
		runner   *vehicle.Runner
	)
	switch cfg.Sync.Transport {
	case "", "http":
		client := syncchan.NewClient(cfg.Sync.StationURL, cfg.Sync.Timeout)
		reports, commands = client, client
		log.Printf("agvvehicle: syncing with %s over http", client.BaseURL())

	case "mqtt", "kafka":
		codec, err := protocol.CodecByName(cfg.Sync.Codec)
		if err != nil {
			log.Fatalf("sync codec: %v", err)
		}
		msgClient := messaging.NewClient(cfg.Sync.Transport, &cfg.Messaging, nodeID)
		if err := msgClient.Connect(); err != nil {
			log.Printf("agvvehicle: messaging connect failed (%v)", err)
		} else {
			log.Printf("agvvehicle: messaging connected (%s)", msgClient.Backend())
		}
		defer msgClient.Close()

		src := protocol.Address{Role: protocol.RoleVehicle, Node: nodeID}
		dst := protocol.Address{Role: protocol.RoleStation, Node: cfg.Messaging.StationID}
		reports = syncchan.NewBrokerSink(msgClient, codec, cfg.Messaging.ReportsTopic, src, dst)
		events = syncchan.NewBrokerSink(msgClient, codec, cfg.Messaging.EventsTopic, src, dst)

		cell := &syncchan.Cell[protocol.StationCommand]{}
		commands = &syncchan.CommandCell{CellSource: syncchan.CellSource[protocol.StationCommand]{
			Cell:   cell,
			MaxAge: cfg.Vehicle.LivenessWindow,
		}}
		if err := messaging.Bind(msgClient, codec, messaging.NewVehicleHandler(cell),
			protocol.DestinedFor(nodeID), cfg.Messaging.CommandsTopic, cfg.Messaging.EventsTopic); err != nil {
			log.Printf("agvvehicle: subscribe failed: %v", err)
		}

		healthSink := syncchan.NewBrokerSink(msgClient, codec, cfg.Messaging.HealthTopic, src, dst)
		beacon = messaging.NewHealthBeacon(healthSink, func() protocol.HealthStatus { return runner.Health() }, cfg.Messaging.HealthInterval)

	default:
		log.Fatalf("unknown sync transport %q", cfg.Sync.Transport)
	}

	if cfg.Sync.DropRate > 0 || cfg.Sync.Latency > 0 {
		lossy := syncchan.NewLossy(cfg.Sync.DropRate, cfg.Sync.Latency, time.Now().UnixNano())
		reports = lossy.Reports(reports)
		commands = lossy.Commands(commands)
		log.Printf("agvvehicle: simulating %.0f%% loss, %v latency", cfg.Sync.DropRate*100, cfg.Sync.Latency)
		defer func() {
			dropped, passed := lossy.Counts()
			log.Printf("agvvehicle: lossy link dropped %d, passed %d", dropped, passed)
		}()
	}

	wireVehicleEvents(bus, events, *debug)

	runner = vehicle.NewRunner(vehicle.RunnerConfig{
		VehicleID:       nodeID,
		Tick:            cfg.Control.Tick,
		ReportInterval:  cfg.Sync.ReportInterval,
		CommandInterval: cfg.Sync.CommandInterval,
		CallTimeout:     cfg.Sync.Timeout,
		LivenessWindow:  cfg.Vehicle.LivenessWindow,
		JoinTimeout:     cfg.Serial.JoinTimeout,
		MinBattery:      cfg.Vehicle.MinBattery,
	}, machine, link, reports, commands)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	if beacon != nil {
		beacon.Start()
	}

	// Health server
	addr := fmt.Sprintf("%s:%d", cfg.VehicleWeb.Host, cfg.VehicleWeb.Port)
	srv := &http.Server{Addr: addr, Handler: www.NewVehicleRouter(runner)}
	go func() {
		log.Printf("agvvehicle: health server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("health server: %v", err)
		}
	}()

	log.Printf("agvvehicle: ready (%s)", nodeID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("agvvehicle: shutting down...")
	if beacon != nil {
		beacon.Stop()
	}
	runner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	st := link.Stats()
	log.Printf("agvvehicle: stopped (frames %d, decode errors %d, commands %d)", st.Frames, st.DecodeErrors, st.CommandsSent)
}

func openTransport(cfg *config.Config, sim bool) (motorlink.Transport, error) {
	switch {
	case sim:
		log.Printf("agvvehicle: using bench simulator")
		return motorlink.NewBench(20*time.Millisecond, telemetry.Frame{
			Mode:          telemetry.ModeVehicle,
			StateOfCharge: 90,
			ObstacleMm:    2000,
		}), nil
	case cfg.Serial.Bridge != "":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b, err := motorlink.OpenBridge(ctx, cfg.Serial.Bridge, cfg.Serial.ReadTimeout)
		if err != nil {
			return nil, err
		}
		log.Printf("agvvehicle: serial bridge %s", b)
		return b, nil
	default:
		s, err := motorlink.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.ReadTimeout)
		if err != nil {
			return nil, err
		}
		log.Printf("agvvehicle: serial %s", s)
		return s, nil
	}
}

func vehicleConfig(cfg *config.Config) vehicle.Config {
	vc := vehicle.DefaultConfig()
	vc.Control = linefollow.Params{TurnSpeed: cfg.Control.TurnSpeed}
	vc.Speed = linefollow.SpeedPolicy{
		BaseSpeed:     cfg.Control.BaseSpeed,
		MaxSpeed:      cfg.Control.MaxSpeed,
		PrestartSpeed: cfg.Control.PrestartSpeed,
	}
	vc.Obstacle = vehicle.ObstacleGuard{
		StopBelow:    cfg.Obstacle.StopBelowMm,
		RecoverAbove: cfg.Obstacle.RecoverAboveMm,
		Dwell:        cfg.Obstacle.Dwell,
	}
	vc.StaleAfter = cfg.Vehicle.StaleAfter
	vc.StaleLimit = cfg.Vehicle.StaleLimit
	vc.LinkLossLimit = cfg.Vehicle.LinkLossLimit
	vc.AutoStartTag = cfg.Vehicle.AutoStartTag
	return vc
}

// wireVehicleEvents logs transitions and, on a broker, publishes them.
func wireVehicleEvents(bus *engine.EventBus, events *syncchan.BrokerSink, debug bool) {
	bus.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.VehicleStateChangedEvent)
		if events == nil || events.Topic() == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err := events.SendEvent(ctx, protocol.StationEvent{
			Machine: "vehicle",
			From:    string(ev.From),
			To:      string(ev.To),
			Reason:  ev.Reason,
			At:      evt.Timestamp.UTC(),
		})
		if err != nil {
			log.Printf("agvvehicle: publish transition: %v", err)
		}
	}, engine.EventVehicleStateChanged)

	if debug {
		bus.SubscribeTypes(func(evt engine.Event) {
			ev := evt.Payload.(engine.MissionDispatchedEvent)
			log.Printf("agvvehicle: mission for tag %d", ev.Tag.ID)
		}, engine.EventMissionDispatched)
	}
}
