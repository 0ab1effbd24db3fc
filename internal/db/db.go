package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fetcharr/fetcharr/internal/logging"
)

type DB struct {
	*sql.DB
}

// Connect opens the Postgres pool and waits for the server to answer. A few
// ping retries cover the common case of the DB container still starting up.
func Connect(url string) (*DB, error) {
	log := logging.WithComponent("db")

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var pingErr error
	for attempt := 1; attempt <= 5; attempt++ {
		if pingErr = db.Ping(); pingErr == nil {
			break
		}
		log.Warn().Err(pingErr).Int("attempt", attempt).Msg("database not ready, retrying")
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{db}, nil
}
