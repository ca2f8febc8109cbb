package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wattline/internal/collect"
	"wattline/internal/config"
	"wattline/internal/daemon"
	"wattline/internal/domain"
	"wattline/internal/point"
	"wattline/internal/publish"
	"wattline/internal/upstream"
	"wattline/internal/util"
)

func main() {
	once := flag.Bool("once", false, "run a single collection cycle and exit, regardless of configured frequency")
	flag.Parse()

	cfgPath := "config/wattline.yaml"
	if p := os.Getenv("WATTLINE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/wattline-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, w)
	util.SetDefault(logger)

	influx, err := publish.NewInfluxWriter(
		cfg.InfluxDB.Addr,
		cfg.InfluxDB.Username,
		cfg.InfluxDB.Password,
		cfg.InfluxDB.Database,
		cfg.Timeout(),
	)
	if err != nil {
		log.Fatalf("failed to connect to influxdb: %v", err)
	}
	defer influx.Close()

	var archive *publish.ParquetArchive
	if cfg.Archive.DataDir != "" {
		archive = publish.NewParquetArchive(cfg.Archive.DataDir)
	}

	var journal *publish.Journal
	if cfg.Journal.SQLitePath != "" {
		journal, err = publish.OpenJournal(cfg.Journal.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open journal: %v", err)
		}
		defer journal.Close()
	}

	writer := publish.NewRecorder(influx, archive, journal)

	zone := point.SourceZone(cfg.Collector.SourceUTCOffsetHours)
	factory := func(acct domain.Account) upstream.AccountClient {
		return upstream.NewPortalClient(cfg.Upstream.BaseURL, cfg.Timeout(), cfg.Upstream.RateLimitPerMin, acct)
	}

	runner := collect.NewRunner(cfg.DomainAccounts(), factory, writer, zone, cfg.Collector.MaxWorkers)

	frequency := cfg.Frequency()
	if *once {
		frequency = 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting wattline daemon",
		"logFile", logFileName,
		"accounts", len(cfg.Accounts),
		"frequency", frequency,
		"archive", cfg.Archive.DataDir != "",
		"journal", cfg.Journal.SQLitePath != "",
	)

	d := daemon.New(runner, frequency)
	if err := d.Run(ctx); err != nil {
		log.Fatalf("daemon error: %v", err)
	}
}
