package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/SoundMap"
)

// Runs unattended and prints both session outcomes and archived readings.
func main() {
	cfg, err := soundmap.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.Autopilot.Enabled = true
	cfg.Autopilot.AutoStart = true

	sink, batches, closeBatches := soundmap.NewChannelSink("readings", 8)
	defer closeBatches()

	rt, err := soundmap.NewRuntime(cfg, soundmap.WithReadingSink(sink))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	go func() {
		for batch := range batches {
			for _, r := range batch {
				fmt.Printf("[archive] %s %s intensity=%.1f low_confidence=%t\n", r.SessionID, r.TargetTag, r.Intensity, r.LowConfidence)
			}
		}
	}()
	go func() {
		for r := range rt.Controller().Outcomes() {
			status := "completed"
			if r.Aborted {
				status = "aborted: " + r.AbortReason
			}
			fmt.Printf("[session] %s %s %s\n", r.SessionID, r.TargetTag, status)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}
