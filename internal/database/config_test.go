package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drallgood/weread-shelf-sync/internal/config"
)

func TestParseDatabaseType(t *testing.T) {
	tests := map[string]DatabaseType{
		"":           DatabaseTypeSQLite,
		"sqlite3":    DatabaseTypeSQLite,
		"PostgreSQL": DatabaseTypePostgreSQL,
		"postgres":   DatabaseTypePostgreSQL,
		"mariadb":    DatabaseTypeMariaDB,
		"mysql":      DatabaseTypeMySQL,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseDatabaseType(in), in)
	}
	assert.Error(t, (&DatabaseConfig{Type: ParseDatabaseType("oracle")}).Validate())
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Type = "postgres"
	cfg.Database.Host = "db"
	cfg.Database.Name = "weread"

	dc := FromConfig(cfg)
	assert.Equal(t, 5432, dc.Port)
	assert.Equal(t, "prefer", dc.SSLMode)
	assert.NoError(t, dc.Validate())
	assert.Equal(t, "host=db port=5432 dbname=weread sslmode=prefer", dc.GetDSN())

	cfg.Database.Type = "mysql"
	cfg.Database.User = "u"
	cfg.Database.Password = "p"
	dc = FromConfig(cfg)
	assert.Equal(t, "u:p@tcp(db:3306)/weread?charset=utf8mb4&parseTime=True&loc=Local", dc.GetDSN())
}
