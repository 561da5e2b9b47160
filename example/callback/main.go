package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/SoundMap/pkg/soundmap"
)

func main() {
	flow, err := soundmap.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(batch []soundmap.Reading) error {
		for _, r := range batch {
			fmt.Printf("%s user=%s target=%s intensity=%.1f accepted=%d rejected=%d upload=%q\n",
				r.StartedAt.Format(time.RFC3339),
				r.User,
				r.TargetTag,
				r.Intensity,
				r.Accepted,
				r.Rejected,
				r.UploadResult,
			)
		}
		return nil
	}

	if err := flow.Run(ctx, soundmap.DeliverCallback("stdout", callback)); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}
