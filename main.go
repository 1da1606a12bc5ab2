package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", filepath.Join(getUserDataDir(), "config.yaml"), "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable detailed debug logging")
	lang := flag.String("lang", "", "Operator language (e.g. en_US), defaults to the system locale")
	at := flag.String("at", "", "Run the command at these UTC times, comma separated (e.g. \"2025-01-15 16:00,2025-01-15 20:00\")")
	grace := flag.Int("grace", 20, "Minutes a scheduled wave stays eligible after its start")
	login := flag.Bool("login", false, "Capture fresh sessions from the browser before running")
	flag.Usage = usage
	flag.Parse()

	if err := InitLocale(*lang); err != nil {
		log.Printf("Warning: Locale initialization failed, using default English: %v", err)
	}

	checkUserDataDirPermissions()

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *debug {
		config.DebugMode = true
	}

	logger, closer := NewLogger(config)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, config, logger)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer app.Close()

	if config.MetricsAddr != "" {
		app.metrics.Serve(ctx, config.MetricsAddr, logger)
	}

	argv := flag.Args()
	if len(argv) == 0 {
		usage()
		os.Exit(2)
	}

	if *login && len(argv) > 1 {
		if err := captureSessions(ctx, app, argv[1]); err != nil {
			log.Fatalf("Failed to capture session: %v", err)
		}
	}

	job := func(ctx context.Context) (bool, error) {
		lines, ok := app.Execute(ctx, argv)
		PrintLines(os.Stdout, lines)
		return ok, nil
	}

	if *at == "" {
		if ok, _ := job(ctx); !ok {
			os.Exit(1)
		}
		return
	}

	waves, err := ParseScheduleTimes(*at)
	if err != nil {
		log.Fatalf("Invalid -at: %v", err)
	}

	scheduler := NewScheduler(NewTimeSync(config.TimeServers, logger), logger)
	if err := scheduler.RunWaves(ctx, waves, time.Duration(*grace)*time.Minute, job); err != nil {
		fmt.Println(FormatStaticResponse("%v", err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: cartpilot [flags] COMMAND <accounts|all> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands: %s\n\nFlags:\n", strings.Join(CommandNames(), ", "))
	flag.PrintDefaults()
}

// captureSessions runs the browser login for every named account, one at a
// time since each needs the operator.
func captureSessions(ctx context.Context, app *App, names string) error {
	sessions, err := app.SelectSessions(names)
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		acc, ok := app.cfg.Account(sess.Name)
		if !ok {
			continue
		}

		fmt.Printf(T("login_for_account")+"\n", acc.Name)
		automation := NewAutomation(app.cfg, acc.ProfilePath, app.log)
		cookies, err := automation.CaptureSession(ctx)
		automation.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", acc.Name, err)
		}

		// the captured cookie carries the current token
		acc.AccessToken, acc.SteamID = "", 0
		fresh, err := NewSessionFromAccount(app.cfg, acc, cookies)
		if err != nil {
			return fmt.Errorf("%s: %w", acc.Name, err)
		}
		app.ReplaceSession(fresh)
	}
	return nil
}

// Store init error for later display (after locale is loaded)
var initUserDataDirError error

func init() {
	if err := os.MkdirAll(getUserDataDir(), 0755); err != nil {
		initUserDataDirError = err
	}
}

func checkUserDataDirPermissions() {
	if initUserDataDirError != nil {
		log.Printf(T("error_user_data_dir_warning"), getUserDataDir(), initUserDataDirError)
	}
}

func getUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./cartpilot-data"
	}
	return filepath.Join(home, ".cartpilot")
}
