package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/comphours-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "ledger", SSLMode: "disable"})
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=ledger sslmode=disable", dsn)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
}
