// Command crnctl is a tiny offline operator tool for forcing a CRN's
// tracked state back to closed, grounded on
// original_source/reset_crn_state.py: a manual escape hatch for when a
// registrar glitch corrupts observed state, clearing
// consecutive_closed_checks and each tracking user's notified-CRN dedup
// entry so the next poller tick re-fires notifications cleanly.
//
// Kept on the teacher's plain "log" package rather than internal/obslog:
// this is a one-shot, human-run CLI, not a long-running service, and
// structured JSON output adds nothing here.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/reapergt/poller/internal/config"
	"github.com/reapergt/poller/internal/store"
	"github.com/reapergt/poller/internal/store/badgerstore"
	"github.com/reapergt/poller/internal/store/memstore"
	"github.com/reapergt/poller/internal/store/redisstore"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to XDG config dir)")
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: crnctl [-config path] [-yes] <reset|status> <crn>")
		os.Exit(2)
	}
	cmd, crn := args[0], args[1]

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("crnctl: failed to load config from %s: %v", cfgPath, err)
	}

	gateway, closeStore, err := openStore(context.Background(), cfg.Store)
	if err != nil {
		log.Fatalf("crnctl: failed to open store: %v", err)
	}
	defer closeStore()

	ctx := context.Background()
	switch cmd {
	case "status":
		if err := printStatus(ctx, gateway, crn); err != nil {
			log.Fatalf("crnctl: %v", err)
		}
	case "reset":
		if !*yes && !confirm(crn) {
			fmt.Println("aborted")
			return
		}
		if err := resetCRN(ctx, gateway, crn); err != nil {
			log.Fatalf("crnctl: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "crnctl: unknown command %q\n", cmd)
		os.Exit(2)
	}
}

func confirm(crn string) bool {
	fmt.Printf("Reset CRN %s to closed and clear its notification dedup state? (y/N): ", crn)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func printStatus(ctx context.Context, gateway store.Gateway, crn string) error {
	rec, err := gateway.GetCRN(ctx, crn)
	if err != nil {
		return fmt.Errorf("get crn %s: %w", crn, err)
	}
	fmt.Printf("CRN %s: %s %s-%s\n", rec.CRN, rec.CourseName, rec.CourseID, rec.CourseSection)
	fmt.Printf("  open: %v  seats: %d/%d  consecutive_closed_checks: %d\n",
		rec.IsOpen, rec.SeatsRemaining, rec.TotalSeats, rec.ConsecutiveClosedCheck)
	fmt.Printf("  tracking users: %d  last updated: %s\n", len(rec.TrackingUsers), rec.LastUpdated)
	return nil
}

// resetCRN forces rec back to a clean closed state and clears every
// tracking user's notified-CRN entry for it, so the poller's Transition
// Detector sees a fresh CLOSED->OPEN episode on the next observation.
func resetCRN(ctx context.Context, gateway store.Gateway, crn string) error {
	rec, err := gateway.GetCRN(ctx, crn)
	if err != nil {
		return fmt.Errorf("get crn %s: %w", crn, err)
	}

	rec.IsOpen = false
	rec.SeatsRemaining = 0
	rec.ConsecutiveClosedCheck = 0
	rec.LastStatusChange = nil
	if err := gateway.PutCRN(ctx, rec); err != nil {
		return fmt.Errorf("put crn %s: %w", crn, err)
	}
	log.Printf("reset crn %s to closed", crn)

	cleared := 0
	for userID := range rec.TrackingUsers {
		user, err := gateway.GetUser(ctx, userID)
		if err != nil {
			log.Printf("warning: get user %s: %v", userID, err)
			continue
		}
		if !user.HasNotified(crn) {
			continue
		}
		user.ClearNotified(crn)
		if err := gateway.PutUser(ctx, user); err != nil {
			log.Printf("warning: put user %s: %v", userID, err)
			continue
		}
		cleared++
	}
	log.Printf("cleared notification dedup state for %d of %d tracking users", cleared, len(rec.TrackingUsers))
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Gateway, func(), error) {
	switch cfg.Backend {
	case "redis":
		s, err := redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, zerolog.Nop())
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, func() {}, nil
	case "badger":
		s, err := badgerstore.Open(cfg.Badger.Path, zerolog.Nop())
		if err != nil {
			return nil, nil, fmt.Errorf("open badger store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case "memory", "":
		return memstore.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
