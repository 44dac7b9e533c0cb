// Package postgres implements the service repository contracts over
// database/sql with the lib/pq driver. All multi-statement writes run in
// transactions owned here; callers never see a half-applied mutation.
//
// The schema lives in scripts/schema.sql.
package postgres
