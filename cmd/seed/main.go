package main

import (
	"context"
	"flag"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"winetours/internal/app"
	"winetours/internal/config"
	"winetours/internal/logging"
)

// seed migrates the schema and installs the default rate sheet. It can also
// mint a development JWT and hash a time clock token for .env.
func main() {
	tokenActor := flag.String("token", "", "print a JWT for this actor")
	tokenRole := flag.String("role", "staff", "role for -token (staff or admin)")
	clockToken := flag.String("timeclock-token", "", "print the bcrypt hash for TIMECLOCK_TOKEN_HASH")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info").WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.LogLevel)
	ctx := context.Background()

	a, err := app.New(ctx, cfg, log, app.Options{Migrate: true})
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer a.Close()

	version, created, err := a.Rates.Bootstrap(ctx, "seed")
	if err != nil {
		log.WithError(err).Fatal("installing default rate sheet failed")
	}
	if created {
		log.WithField("version_id", version).Info("default rate sheet installed")
	} else {
		log.WithField("version_id", version).Info("rate sheet already present")
	}

	if *tokenActor != "" {
		token, err := a.JWT.GenerateToken(*tokenActor, *tokenRole)
		if err != nil {
			log.WithError(err).Fatal("token generation failed")
		}
		fmt.Println(token)
	}
	if *clockToken != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*clockToken), bcrypt.DefaultCost)
		if err != nil {
			log.WithError(err).Fatal("hashing time clock token failed")
		}
		fmt.Println(string(hash))
	}
}
