// Package sqlite implements store.Store using the grove ORM with the SQLite
// dialect. It suits single-node deployments, CLI tools and tests that want
// a real SQL backend without a server.
//
// Open creates the database and owns it:
//
//	s, err := sqlite.Open(ctx, "/var/lib/clipqueue/jobs.db")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
//
// New wraps a *grove.DB the caller keeps ownership of; Close leaves it open:
//
//	drv, _ := grove.OpenDriver(ctx, "sqlite", dsn)
//	db, _ := grove.Open(drv)
//	s := sqlite.New(db)
//	s.Migrate(ctx)
//
// Writes are serialized in process and every status transition is one
// conditional UPDATE.
package sqlite
