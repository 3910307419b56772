package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"winetours/internal/app"
	"winetours/internal/config"
	"winetours/internal/logging"
)

// rates publishes a new rate table version from a JSON file, or prints the
// edit history.
func main() {
	file := flag.String("file", "", "rate table JSON to install")
	editor := flag.String("editor", "", "who is making the change")
	reason := flag.String("reason", "", "why the rates change")
	history := flag.Bool("history", false, "print recent versions and audits")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info").WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.LogLevel)
	ctx := context.Background()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer a.Close()

	if *history {
		versions, audits, err := a.Rates.History(ctx, 20)
		if err != nil {
			log.WithError(err).Fatal("loading history failed")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"versions": versions, "audits": audits})
		return
	}

	if *file == "" || *editor == "" || *reason == "" {
		flag.Usage()
		os.Exit(2)
	}
	payload, err := os.ReadFile(*file)
	if err != nil {
		log.WithError(err).Fatal("reading rate table failed")
	}
	version, err := a.Rates.UpdateRateTable(ctx, payload, *editor, *reason)
	if err != nil {
		log.WithError(err).Fatal("rate table rejected")
	}
	log.WithField("version_id", version).Info("rate table installed")
}
