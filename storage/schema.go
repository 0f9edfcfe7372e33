package storage

import "strings"

// schemaVersion is the Feed Store's schema generation. It is not
// recorded in the store or checked on open: openSQLStore applies the
// CREATE TABLE IF NOT EXISTS statements below on every connect and
// never compares an existing store's version against this constant.
const schemaVersion = 1

// ddl returns the Feed Store's CREATE TABLE statements. pkType is the
// dialect's auto-incrementing integer primary key declaration
// ("INTEGER PRIMARY KEY AUTOINCREMENT" for SQLite, "SERIAL PRIMARY
// KEY" for Postgres) substituted for the {{PK}} token.
func ddl(pkType string) []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _feeds (
			id {{PK}},
			url TEXT NOT NULL,
			sha256sum TEXT NOT NULL,
			retrieved_at TEXT NOT NULL,
			UNIQUE(url, sha256sum)
		)`,
		`CREATE TABLE IF NOT EXISTS agency (
			_feed INTEGER NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			timezone TEXT NOT NULL,
			language TEXT NOT NULL,
			phone_human TEXT NOT NULL,
			phone_e164 TEXT NOT NULL,
			fare_url TEXT NOT NULL,
			PRIMARY KEY (_feed, id)
		)`,
		`CREATE TABLE IF NOT EXISTS stops (
			_feed INTEGER NOT NULL,
			id TEXT NOT NULL,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			zone TEXT NOT NULL,
			url TEXT NOT NULL,
			parent_station TEXT NOT NULL,
			timezone TEXT NOT NULL,
			location_type INTEGER NOT NULL,
			accessible INTEGER NOT NULL,
			PRIMARY KEY (_feed, id)
		)`,
		`CREATE TABLE IF NOT EXISTS routes (
			_feed INTEGER NOT NULL,
			id TEXT NOT NULL,
			agency_id TEXT NOT NULL,
			short_name TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			route_type INTEGER NOT NULL,
			url TEXT NOT NULL,
			color TEXT NOT NULL,
			text_color TEXT NOT NULL,
			PRIMARY KEY (_feed, id)
		)`,
		`CREATE TABLE IF NOT EXISTS calendar (
			_feed INTEGER NOT NULL,
			service_id TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			weekday INTEGER NOT NULL,
			PRIMARY KEY (_feed, service_id)
		)`,
		`CREATE TABLE IF NOT EXISTS calendar_dates (
			_feed INTEGER NOT NULL,
			service_id TEXT NOT NULL,
			date TEXT NOT NULL,
			exception_type INTEGER NOT NULL,
			PRIMARY KEY (_feed, service_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS trips (
			_feed INTEGER NOT NULL,
			id TEXT NOT NULL,
			route_id TEXT NOT NULL,
			service_id TEXT NOT NULL,
			headsign TEXT NOT NULL,
			short_name TEXT NOT NULL,
			direction_id INTEGER NOT NULL,
			bikes_ok INTEGER NOT NULL,
			min_arrival_time INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (_feed, id)
		)`,
		`CREATE TABLE IF NOT EXISTS stop_times (
			_feed INTEGER NOT NULL,
			trip_id TEXT NOT NULL,
			stop_id TEXT NOT NULL,
			stop_sequence INTEGER NOT NULL,
			headsign TEXT NOT NULL,
			arrival INTEGER,
			departure INTEGER,
			interpolated_arrival INTEGER,
			pickup_type INTEGER NOT NULL,
			dropoff_type INTEGER NOT NULL,
			PRIMARY KEY (_feed, trip_id, stop_sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS frequencies (
			_feed INTEGER NOT NULL,
			trip_id TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			headway_seconds INTEGER NOT NULL,
			exact_times INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS _stops_routes (
			_feed INTEGER NOT NULL,
			stop_id TEXT NOT NULL,
			route_id TEXT NOT NULL,
			direction_id INTEGER NOT NULL,
			headsign TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_times_trip ON stop_times (_feed, trip_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_times_stop ON stop_times (_feed, stop_id)`,
		`CREATE INDEX IF NOT EXISTS idx_frequencies_trip ON frequencies (_feed, trip_id)`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_dates_service ON calendar_dates (_feed, service_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stops_routes_stop ON _stops_routes (_feed, stop_id)`,
	}

	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = strings.ReplaceAll(s, "{{PK}}", pkType)
	}
	return out
}
