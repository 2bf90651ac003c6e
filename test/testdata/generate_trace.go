//go:build ignore

// This program generates a sample 802.11 trace for testing --stats-only.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"rawsim/internal/config"
	"rawsim/internal/pcap"
	"rawsim/internal/scenario"
)

func main() {
	filename := "test/testdata/sample.pcap"
	if len(os.Args) > 1 {
		filename = os.Args[1]
	}

	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	cfg.Station.Count = 4
	cfg.Traffic.StartMs = 200
	cfg.Traffic.DownlinkIntervalMs = 500
	cfg.Simulation.DurationMs = 2000

	runner, err := scenario.NewRunner(cfg, nil)
	if err != nil {
		panic(err)
	}

	w, err := pcap.Create(filename, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		panic(err)
	}
	defer w.Close()
	runner.AddTap(w)

	res, err := runner.Run(context.Background())
	if err != nil {
		panic(err)
	}
	fmt.Printf("Generated %s: %d frames, %d/%d stations associated\n",
		filename, w.Packets(), res.Associated, res.Stations)
}
