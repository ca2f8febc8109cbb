package main

import (
	"context"
	"flag"
	"log"
	"os"

	"wattline/internal/config"
	"wattline/internal/domain"
	"wattline/internal/point"
	"wattline/internal/publish"
	"wattline/internal/report"
	"wattline/internal/upstream"
	"wattline/internal/util"
)

func main() {
	account := flag.String("account", "", "portal username to report on (defaults to the first configured account)")
	contract := flag.String("contract", "", "contract ID to report on (defaults to all of the account's contracts)")
	output := flag.String("output", "text", "output format: text, json, or influx")
	hourly := flag.Bool("hourly", false, "include the hourly consumption table in text output")
	flag.Parse()

	cfgPath := "config/wattline.yaml"
	if p := os.Getenv("WATTLINE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.SetDefault(util.NewLogger("warn", "text", os.Stderr))

	acct, ok := pickAccount(cfg, *account)
	if !ok {
		log.Fatalf("account %q not found in config", *account)
	}

	contracts := acct.Contracts
	if *contract != "" {
		contracts = nil
		for _, c := range acct.Contracts {
			if c.ID == *contract {
				contracts = append(contracts, c)
			}
		}
		if len(contracts) == 0 {
			log.Fatalf("contract %q not configured for account %q", *contract, acct.Username)
		}
	}

	zone := point.SourceZone(cfg.Collector.SourceUTCOffsetHours)
	ctx := context.Background()

	client := upstream.NewPortalClient(cfg.Upstream.BaseURL, cfg.Timeout(), cfg.Upstream.RateLimitPerMin, acct)
	if err := client.Login(ctx); err != nil {
		log.Fatalf("login failed: %v", err)
	}
	defer client.CloseSession(ctx)

	for _, c := range contracts {
		data, err := report.Collect(ctx, client, c.ID, zone)
		if err != nil {
			log.Fatalf("collecting contract %s: %v", c.ID, err)
		}

		switch *output {
		case "text":
			if err := report.Text(os.Stdout, data, *hourly); err != nil {
				log.Fatalf("rendering report: %v", err)
			}
		case "json":
			if err := report.JSON(os.Stdout, data); err != nil {
				log.Fatalf("rendering report: %v", err)
			}
		case "influx":
			writer, err := publish.NewInfluxWriter(
				cfg.InfluxDB.Addr,
				cfg.InfluxDB.Username,
				cfg.InfluxDB.Password,
				cfg.InfluxDB.Database,
				cfg.Timeout(),
			)
			if err != nil {
				log.Fatalf("connecting to influxdb: %v", err)
			}
			err = report.Influx(ctx, writer, data, zone)
			writer.Close()
			if err != nil {
				log.Fatalf("writing to influxdb: %v", err)
			}
		default:
			log.Fatalf("unknown output format %q", *output)
		}
	}
}

func pickAccount(cfg *config.Config, username string) (acct domain.Account, ok bool) {
	accounts := cfg.DomainAccounts()
	if len(accounts) == 0 {
		return acct, false
	}
	if username == "" {
		return accounts[0], true
	}
	for _, a := range accounts {
		if a.Username == username {
			return a, true
		}
	}
	return acct, false
}
