package main

import (
	"github.com/rs/zerolog/log"

	"github.com/cipherdrop/cipherdrop/internal/common"
	"github.com/cipherdrop/cipherdrop/pkg/config"
)

// migrate brings the artifact schema up to date. Run it once before
// starting server instances against a fresh database.
func main() {
	cfg := config.LoadFromEnv()

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	log.Info().Msg("database schema is up to date")
}
