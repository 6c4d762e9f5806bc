package repository

import (
	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/agent/repository/sqlite"
)

// Provide creates the SQLite agent repository on the shared pools.
func Provide(writer, reader *sqlx.DB) (*sqlite.Repository, error) {
	return sqlite.NewWithDB(writer, reader)
}
