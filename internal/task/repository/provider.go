package repository

import (
	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/task/repository/sqlite"
)

// Provide creates the SQLite repository using separate writer and reader
// pools. Pool lifecycle stays with the store; the repository does not close
// the handles it is given.
func Provide(writer, reader *sqlx.DB) (*sqlite.Repository, error) {
	return sqlite.NewWithDB(writer, reader)
}
