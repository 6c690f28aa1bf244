// Command migrate applies the embedded schema migrations and optionally
// upserts a seed file of users.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/codepair/matchmaker/internal/config"
	"github.com/codepair/matchmaker/internal/logger"
	"github.com/codepair/matchmaker/internal/user"
)

func main() {
	seed := flag.String("seed", "", "JSON file of users to upsert after migrating")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.AppEnv, cfg.LogLevel)
	if cfg.PGDSN == "" {
		log.Fatal().Msg("PG_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Migrate consumes its handle, so seeding opens a second one.
	db, err := user.Open(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	if err := user.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	log.Info().Msg("migrations applied")

	if *seed == "" {
		return
	}
	users, err := user.LoadSeedFile(*seed)
	if err != nil {
		log.Fatal().Err(err).Msg("seed")
	}
	db, err = user.Open(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	defer db.Close()

	repo := user.NewPostgresRepository(db)
	for _, u := range users {
		if err := repo.Upsert(ctx, u); err != nil {
			log.Fatal().Err(err).Str("username", u.Username).Msg("seed")
		}
	}
	log.Info().Int("users", len(users)).Str("file", *seed).Msg("seed applied")
}
