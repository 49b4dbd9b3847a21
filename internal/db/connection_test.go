package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDSN(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "host=localhost port=5432 user=postgres password=admin dbname=datastore sslmode=disable", cfg.DSN())
}

func TestConfigURLEscapesCredentials(t *testing.T) {
	cfg := Config{Host: "db", Port: 6543, User: "app", Password: "p@ss/word", DBName: "occams", SSLMode: "require"}
	assert.Equal(t, "pgx5://app:p%40ss%2Fword@db:6543/occams?sslmode=require", cfg.URL("pgx5"))
}

func TestPgx5URL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/d", pgx5URL("postgres://u:p@h:5432/d"))
	assert.Equal(t, "pgx5://u@h/d", pgx5URL("postgresql://u@h/d"))
	assert.Equal(t, "pgx5://already", pgx5URL("pgx5://already"))
}

func TestMigrationsAreEmbedded(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	assert.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_datastore.up.sql")
	assert.Contains(t, names, "000001_datastore.down.sql")
}
