//go:build integration

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/storage/database"
)

const (
	postgresImage    = "postgres:16-alpine"
	postgresPort     = "5432/tcp"
	postgresPassword = "postgres"
)

// PrepareDB starts a throwaway PostgreSQL container, creates the app database and applies every migration.
// The container is terminated when the test ends.
func PrepareDB(t *testing.T) (*sqlx.DB, *core.Config) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{postgresPort},
			Env: map[string]string{
				"POSTGRES_PASSWORD": postgresPassword,
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminating postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("postgres container host: %v", err)
	}
	port, err := container.MappedPort(ctx, postgresPort)
	if err != nil {
		t.Fatalf("postgres container port: %v", err)
	}

	conf := TestConfig()
	conf.Database.Engine = "postgres"
	conf.Database.Host = host
	conf.Database.Port = port.Port()
	conf.Database.Name = "smarthomecloud_test"
	conf.Database.User = "smarthomecloud"
	conf.Database.Password = "smarthomecloud"
	conf.Database.AdminUser = "postgres"
	conf.Database.AdminPassword = postgresPassword
	conf.Database.DisableTLS = true

	if err = database.CreateIfNotExist(ctx, conf); err != nil {
		t.Fatalf("creating database: %v", err)
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(ctx, db); err != nil {
		t.Fatalf("migrating database: %v", err)
	}
	return db, conf
}
