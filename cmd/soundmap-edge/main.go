package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ghalamif/SoundMap"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "probe":
		err = probeCommand(os.Args[2:])
	case "inspect":
		err = inspectCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("soundmap-edge %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "Path to edge configuration file")
	user := fs.String("user", "", "Override the participant name")
	debug := fs.Bool("debug", false, "Bypass the proximity checks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := soundmap.Conf(*cfgPath, soundmap.AsUser(*user), soundmap.DebugMode(*debug))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := soundmap.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func probeCommand(args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "Path to edge configuration file")
	lat := fs.Float64("lat", 0, "Latitude reported by the simulated sensor")
	lng := fs.Float64("lng", 0, "Longitude reported by the simulated sensor")
	timeout := fs.Duration("timeout", 90*time.Second, "Give up after this long, wait replies included")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := soundmap.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if fs.Changed("lat") || fs.Changed("lng") {
		flow.Sense(soundmap.SenseFrom(soundmap.GeoPoint{Latitude: *lat, Longitude: *lng}))
	}
	rt, err := flow.Deliver()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap, pollErr := rt.Probe(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return err
	}
	return pollErr
}

func inspectCommand(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("inspect needs at least one container path")
	}

	var failed []error
	for _, path := range fs.Args() {
		info, err := soundmap.InspectContainer(path)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		state := "finalized"
		if !info.Finalized {
			state = "unfinalized"
		}
		fmt.Printf("%s: %d Hz, %d ch, %d-bit, %d data bytes, %s, %s\n",
			info.Path, info.SampleRate, info.Channels, info.BitDepth, info.DataBytes, info.Duration, state)
	}
	return errors.Join(failed...)
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	once := fs.Bool("once", false, "Print one snapshot and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *once {
		return printMetricsSnapshot(*url)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsKeys = []string{
	"soundmap_controller_state",
	"soundmap_sessions_completed_total",
	"soundmap_sessions_aborted_total",
	"soundmap_uploads_total",
	"soundmap_upload_failures_total",
	"soundmap_queue_length",
}

var stateNames = []string{"idle", "armed", "recording", "finalizing", "aborted"}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values := make(map[string]float64, len(statsKeys))
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range statsKeys {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					values[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	state := "unknown"
	if i := int(values["soundmap_controller_state"]); i >= 0 && i < len(stateNames) {
		state = stateNames[i]
	}
	fmt.Printf("[%s] state=%s completed=%.0f aborted=%.0f uploads=%.0f upload_failures=%.0f queue=%.0f\n",
		time.Now().Format(time.RFC3339),
		state,
		values["soundmap_sessions_completed_total"],
		values["soundmap_sessions_aborted_total"],
		values["soundmap_uploads_total"],
		values["soundmap_upload_failures_total"],
		values["soundmap_queue_length"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`SoundMap edge CLI

Usage:
  soundmap-edge <command> [flags]

Commands:
  run        Start the recording runtime using the provided config
  validate   Load and validate a config file without starting the runtime
  probe      Poll the coordination service once and print the result
  inspect    Print the header of recorded WAV containers
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  soundmap-edge run --config ./data/config.yaml --user alice
  soundmap-edge validate -c ./data/config.yaml
  soundmap-edge probe -c ./data/config.yaml --lat 45.5048 --lng -73.5772
  soundmap-edge inspect ./recordings/alice_1712000000.wav
  soundmap-edge stats --url http://localhost:9100/metrics --interval 1s
`)
}
