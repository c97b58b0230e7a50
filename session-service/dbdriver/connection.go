package dbdriver // import "github.com/helixhq/helix/backend/services/session-service/dbdriver"

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	logger "github.com/helixhq/helix/backend/services/helixlogger"
	"github.com/helixhq/helix/backend/services/metadata"
	"github.com/helixhq/helix/backend/services/utils"
)

// Session database connection strings

const localDevDatabaseURL = "user=postgres host=localhost port=5432 dbname=postgres password=helixpass"

func getSessionDBConnString() (string, error) {
	if metadata.IsLocalEnv() {
		return localDevDatabaseURL, nil
	}

	result := os.Getenv("DATABASE_URL")
	if result == "" {
		return "", utils.MakeError("couldn't get DB connection string: DATABASE_URL is uninitialized")
	}

	return result, nil
}

// querier is the subset of pgxpool.Pool that the session store uses. We
// define it so tests can substitute a mock connection.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Initialize connects to the session database and returns a ready PGStore.
// When running in localdev without a database, it returns a disabled store
// whose operations are all no-ops, so every resolution looks like a first
// one.
func Initialize(ctx context.Context) (*PGStore, error) {
	if metadata.IsLocalEnvWithoutDB() {
		logger.Infof("Running in localdev without a database, so the session store is disabled.")
		return &PGStore{}, nil
	}

	connStr, err := getSessionDBConnString()
	if err != nil {
		return nil, utils.MakeError("couldn't initialize session store: %s", err)
	}

	pgxConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, utils.MakeError("couldn't initialize session store: unable to parse database connection string: %s", err)
	}
	pgxConfig.MaxConnIdleTime = 30 * time.Second

	pool, err := pgxpool.ConnectConfig(ctx, pgxConfig)
	if err != nil {
		return nil, utils.MakeError("couldn't initialize session store: unable to connect to the database: %s", err)
	}

	logger.Infof("Successfully connected to the session database.")
	return &PGStore{pool: pool, closer: pool}, nil
}

// Close closes the underlying connection pool, if one was opened.
func (s *PGStore) Close() {
	if s.closer != nil {
		logger.Infof("Closing the session database connection pool...")
		s.closer.Close()
	}
}
