package store

import "strings"

// DetectDSNType inspects a DSN and reports which driver it belongs to.
// Returns "postgres", "redis" or "sqlite".
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	if strings.HasPrefix(dsn, "redis://") || strings.HasPrefix(dsn, "rediss://") {
		return "redis"
	}
	// Anything else is treated as a SQLite file path.
	return "sqlite"
}
