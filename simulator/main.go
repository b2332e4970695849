// Command simulator emulates a device gateway speaking the node's point
// protocol over MQTT, for local runs and end-to-end tests.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kilianp07/transactive/infra/logger"
)

func main() {
	cfg := parseFlags()
	log := logger.New("simulator")
	if err := cfg.Validate(); err != nil {
		log.Errorf("invalid config: %v", err)
		os.Exit(2)
	}
	level := "info"
	if cfg.Verbose {
		level = "debug"
	}
	if err := logger.Configure(logger.Config{Level: level}); err != nil {
		log.Errorf("logger: %v", err)
	}

	devices := defaultDevices()
	if cfg.DevicesFile != "" {
		data, err := os.ReadFile(cfg.DevicesFile)
		if err != nil {
			log.Errorf("devices file: %v", err)
			os.Exit(1)
		}
		if devices, err = LoadDevices(data); err != nil {
			log.Errorf("devices file: %v", err)
			os.Exit(1)
		}
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	strat := RandomAck{Delay: cfg.AckLatency, DropRate: cfg.DropRate, RejectRate: cfg.RejectRate}
	gw, err := NewGateway(cfg, strat, devices)
	if err != nil {
		log.Errorf("gateway: %v", err)
		os.Exit(1)
	}
	if err := gw.Run(ctx); err != nil {
		log.Errorf("gateway: %v", err)
		os.Exit(1)
	}
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&cfg.ClientID, "client-id", "gateway-sim", "MQTT client id")
	flag.StringVar(&cfg.TopicPrefix, "topic-prefix", "tns", "MQTT topic prefix")
	flag.StringVar(&cfg.DevicesFile, "devices-file", "", "JSON list of simulated devices")
	flag.DurationVar(&cfg.Interval, "interval", 10*time.Second, "reading publish interval")
	flag.DurationVar(&cfg.AckLatency, "ack-latency", 0, "ack latency")
	flag.Float64Var(&cfg.DropRate, "drop-rate", 0, "ack drop rate")
	flag.Float64Var(&cfg.RejectRate, "reject-rate", 0, "command rejection rate")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	flag.Parse()
	return cfg
}

// defaultDevices is one battery and one office load.
func defaultDevices() []Device {
	return []Device{
		&StorageDevice{Name: "bess", Battery: &Battery{CapacityKWh: 200, Soc: 0.5, ChargeRateKW: 50, DischargeRateKW: 50}},
		&LoadDevice{Name: "building", Profile: [24]float64{
			20, 18, 18, 18, 19, 22, 30, 45, 60, 65, 68, 70,
			70, 69, 68, 66, 62, 55, 45, 38, 32, 28, 24, 22,
		}},
	}
}
