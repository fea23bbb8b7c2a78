package store

import "database/sql"

// DB exposes the internal *sql.DB for test helpers in store_test.
func (s *Store) DB() *sql.DB {
	return s.db
}
