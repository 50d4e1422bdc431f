// Command ingestion runs the sensor-telemetry ingestion service: an HTTP
// front-end, a bounded task queue, and a pool of ClickHouse writers.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/sensorpulse/ingest/internal/config"
	"github.com/sensorpulse/ingest/internal/supervisor"
	"github.com/sensorpulse/ingest/pkg/logger"
)

func main() {
	configPath := flag.String("config", "server.json", "path to the JSON config file")
	flag.Parse()

	log, err := logger.FromEnv()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load(*configPath)

	sup := supervisor.New(cfg, log, nil)
	os.Exit(sup.Run(context.Background()))
}
