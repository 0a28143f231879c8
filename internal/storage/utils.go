package storage

// InitStore opens the TaskZen Postgres store for the given connection string
// and verifies connectivity before handing it to callers.
func InitStore(dbConnStr string) (*PostgresStore, error) {
	return NewPostgresStore(dbConnStr)
}
