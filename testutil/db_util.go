package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DBIntegrationSuite runs each embedding suite against a disposable
// PostgreSQL container initialized with the engine's schema. The container
// lives for the whole suite; tests clean up between runs with
// TruncateTables.
type DBIntegrationSuite struct {
	suite.Suite
	Pool             *pgxpool.Pool
	ConnectionString string
	pgContainer      *postgres.PostgresContainer
}

// SetupSuite starts the container. The schema init script is resolved
// relative to this source file, so embedding suites can live in any package.
func (s *DBIntegrationSuite) SetupSuite() {
	ctx := context.Background()

	_, thisFile, _, _ := runtime.Caller(0)
	schemaFile := filepath.Join(filepath.Dir(thisFile), "..", "infra", "postgres", "schema.sql")

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("projector"),
		postgres.WithUsername("projector"),
		postgres.WithPassword("projector"),
		postgres.WithInitScripts(schemaFile),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(10*time.Second),
		),
	)
	s.Require().NoError(err, "failed to start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err, "failed to get connection string")

	pool, err := pgxpool.New(ctx, connStr)
	s.Require().NoError(err, "failed to connect to test database")

	s.Pool = pool
	s.pgContainer = container
	s.ConnectionString = connStr
}

// TearDownSuite closes the pool and removes the container.
func (s *DBIntegrationSuite) TearDownSuite() {
	if s.Pool != nil {
		s.Pool.Close()
	}
	if s.pgContainer != nil {
		s.Require().NoError(s.pgContainer.Terminate(context.Background()))
	}
}

// TruncateTables clears the given tables and restarts their sequences.
func (s *DBIntegrationSuite) TruncateTables(tables ...string) {
	for _, table := range tables {
		_, err := s.Pool.Exec(context.Background(), fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY", table))
		s.Require().NoError(err, "failed to truncate table %s", table)
	}
}

// CountRows returns the number of rows in a table.
func (s *DBIntegrationSuite) CountRows(table string) int {
	var count int
	err := s.Pool.QueryRow(context.Background(), fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	s.Require().NoError(err, "failed to count rows in %s", table)
	return count
}
