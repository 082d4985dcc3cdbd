// Package postgres implements store.Store on PostgreSQL using pgx/v5 with
// raw SQL. Status transitions are a single conditional UPDATE, so
// concurrent reports for the same job resolve in the database. The schema
// ships as embedded SQL migrations applied by Migrate.
package postgres
