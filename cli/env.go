// ABOUTME: Shared command environment for CLI handlers
// ABOUTME: Bundles the database, stores, token manager, and syncer
package cli

import (
	"database/sql"

	"github.com/hearthapp/calsync/db"
	"github.com/hearthapp/calsync/sync"
)

// Env carries the wired dependencies every command needs.
type Env struct {
	DB     *sql.DB
	Creds  *db.CredentialStore
	Tokens *sync.TokenManager
	Syncer *sync.Syncer
}

// NewEnv wires the command environment over an open database.
func NewEnv(database *sql.DB, cipher *db.TokenCipher, tokens *sync.TokenManager) *Env {
	return &Env{
		DB:     database,
		Creds:  db.NewCredentialStore(database, cipher),
		Tokens: tokens,
		Syncer: sync.NewSyncer(database, cipher, tokens),
	}
}
