// Package sqlite implements reference.Store and notify.Sink on SQLite via
// mattn/go-sqlite3. Suitable for local runs, CLI tools, and tests that want
// a real SQL engine without a server.
//
// The schema matches the postgres backend. Either let the package open the
// file, or pass a *sql.DB you own:
//
//	s, err := sqlite.Open("pricetrack.db")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
package sqlite
