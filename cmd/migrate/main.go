// Command migrate runs every package's inline migration against a target
// database, for operators who want schema setup separate from starting
// the engine process. Adapted from the teacher's migration CLI: this
// engine's schema is small enough that each package owns its own
// CREATE TABLE IF NOT EXISTS (internal/store, internal/directory,
// internal/channel, internal/enhancer) rather than a versioned migration
// directory, so this tool just calls them in dependency order.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arbedge/opportunity-engine/internal/channel"
	"github.com/arbedge/opportunity-engine/internal/directory"
	"github.com/arbedge/opportunity-engine/internal/enhancer"
	"github.com/arbedge/opportunity-engine/internal/store"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "database connection URL")
	flag.Parse()

	ctx := context.Background()

	db, err := store.New(ctx, *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"store (distribution_records, rate_budgets)", db.Migrate},
		{"directory (user_subscriptions)", directory.New(db.Pool()).Migrate},
		{"channel (telegram_chat_links, push_devices)", channel.NewDirectory(db.Pool()).Migrate},
		{"enhancer (user_preference_vectors)", enhancer.NewPreferenceStore(db.Pool()).Migrate},
	}

	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed (%s): %v\n", s.name, err)
			os.Exit(1)
		}
		log.Info().Str("step", s.name).Msg("migrated")
	}
}
