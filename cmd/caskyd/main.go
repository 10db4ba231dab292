// caskyd - line-oriented TCP daemon in front of a casky key-value store.
//
// Usage:
//
//	caskyd [flags]
//
// Flags:
//
//	--addr string         Server address (default ":5050")
//	--data string          Data directory (default "data")
//	--sync                 Fsync every write before acknowledging
//	--single-threaded       Disable the engine's internal mutex
//	--maxclients int        Maximum number of concurrent clients (default 1000)
//	--loglevel string       Log level: debug, info, warn, error (default "info")
//	--config string         Path to a JSON config file to load before flags/env
//	--version               Show version and exit
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/thesp0nge/casky"
	"github.com/thesp0nge/casky/internal/config"
	"github.com/thesp0nge/casky/internal/daemon"
)

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBoolOrDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func main() {
	configPath := flag.String("config", "", "Path to a JSON config file")
	flag.CommandLine.ParseErrorsWhitelist.UnknownFlags = true
	flag.Parse() // first pass, just to pick up --config before building the rest
	flag.CommandLine.ParseErrorsWhitelist.UnknownFlags = false

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("caskyd: failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}

	addr := flag.String("addr", envOrDefault("CASKYD_ADDR", cfg.Addr), "Server address")
	dataDir := flag.String("data", envOrDefault("CASKYD_DATA", cfg.DataDir), "Data directory")
	syncOnWrite := flag.Bool("sync", envBoolOrDefault("CASKYD_SYNC", cfg.SyncOnWrite), "Fsync every write before acknowledging")
	singleThreaded := flag.Bool("single-threaded", !cfg.ThreadSafe, "Disable the engine's internal mutex")
	maxClients := flag.Int("maxclients", cfg.MaxClients, "Maximum number of concurrent clients")
	logLevel := flag.String("loglevel", envOrDefault("CASKYD_LOG_LEVEL", cfg.LogLevel), "Log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("caskyd v%s (built %s)\n", casky.Version(), casky.BuildTime())
		return
	}

	fmt.Println(`
   ____           _
  / ___|__ _ ___| | ___   _
 | |   / _' / __| |/ / | | |
 | |__| (_| \__ \   <| |_| |
  \____\__,_|___/_|\_\\__, |
                      |___/ `)
	log.Printf("caskyd v%s starting...", casky.Version())
	log.Printf("data directory: %s", *dataDir)
	log.Printf("max clients: %d", *maxClients)

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("caskyd: failed to create data directory: %v", err)
	}
	logPath := filepath.Join(*dataDir, "casky.log")

	threadSafe := !*singleThreaded
	db, err := casky.Open(logPath,
		casky.WithSyncOnWrite(*syncOnWrite),
		casky.WithThreadSafe(threadSafe),
	)
	if err != nil {
		if db == nil {
			log.Fatalf("caskyd: failed to open %s: %v", logPath, err)
		}
		log.Printf("caskyd: log recovered with warnings: %v", err)
	}
	defer db.Close()

	dcfg := daemon.DefaultConfig()
	dcfg.Addr = *addr
	dcfg.MaxClients = *maxClients
	dcfg.LogLevel = *logLevel
	dcfg.ThreadSafe = threadSafe

	srv := daemon.New(db, dcfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("caskyd: server error: %v", err)
	}

	log.Println("caskyd shutdown complete")
}
