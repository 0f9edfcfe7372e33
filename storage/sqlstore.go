package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jftuga/geodist"
	"github.com/pkg/errors"

	"github.com/spaceboats/busbus/model"
	"github.com/spaceboats/busbus/timeutil"
)

// dialect abstracts the handful of places SQLite and Postgres diverge:
// placeholder syntax, the auto-increment primary key declaration, and
// how a new _feeds row is inserted and its id read back.
// Everything else -- table names, columns, query shape -- is shared.
type dialect struct {
	name       string
	autoIncrPK string

	// insertFeedRow inserts a _feeds row and returns its id. SQLite
	// exposes this via Exec's LastInsertId; lib/pq does not implement
	// LastInsertId at all, so Postgres needs a RETURNING clause and a
	// QueryRow instead.
	insertFeedRow func(tx *sql.Tx, d dialect, url, sha256sum string) (int64, error)
}

var sqliteDialect = dialect{
	name:       "sqlite",
	autoIncrPK: "INTEGER PRIMARY KEY AUTOINCREMENT",
	insertFeedRow: func(tx *sql.Tx, d dialect, url, sha256sum string) (int64, error) {
		res, err := tx.Exec(d.rebind("INSERT INTO _feeds (url, sha256sum, retrieved_at) VALUES (?, ?, datetime('now'))"), url, sha256sum)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	},
}

var postgresDialect = dialect{
	name:       "postgres",
	autoIncrPK: "SERIAL PRIMARY KEY",
	insertFeedRow: func(tx *sql.Tx, d dialect, url, sha256sum string) (int64, error) {
		var id int64
		row := tx.QueryRow(d.rebind("INSERT INTO _feeds (url, sha256sum, retrieved_at) VALUES (?, ?, now()) RETURNING id"), url, sha256sum)
		err := row.Scan(&id)
		return id, err
	},
}

// rebind rewrites a query written with "?" placeholders into the
// target dialect's syntax. SQLite accepts "?" natively; Postgres
// needs "$1", "$2", ...
func (d dialect) rebind(query string) string {
	if d.name == "sqlite" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore is the shared Storage implementation sitting on top of
// database/sql, used by both the SQLite and Postgres backends.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func openSQLStore(db *sql.DB, d dialect) (*sqlStore, error) {
	for _, stmt := range ddl(d.autoIncrPK) {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errors.Wrapf(err, "applying schema (%s)", d.name)
		}
	}
	return &sqlStore{db: db, d: d}, nil
}

func (s *sqlStore) q(query string) string { return s.d.rebind(query) }

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) ListFeeds(ctx context.Context, filter ListFeedsFilter) ([]model.Feed, error) {
	query := "SELECT id, url, sha256sum, retrieved_at FROM _feeds WHERE 1=1"
	var args []any
	if filter.URL != "" {
		query += " AND url = ?"
		args = append(args, filter.URL)
	}
	if filter.SHA256 != "" {
		query += " AND sha256sum = ?"
		args = append(args, filter.SHA256)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing feeds")
	}
	defer rows.Close()

	var out []model.Feed
	for rows.Next() {
		var f model.Feed
		var retrievedAt string
		if err := rows.Scan(&f.ID, &f.URL, &f.SHA256, &retrievedAt); err != nil {
			return nil, err
		}
		if t, err := parseStoredTimestamp(retrievedAt); err == nil {
			f.RetrievedAt = t
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// parseStoredTimestamp accepts either SQLite's datetime('now') format
// or Postgres's now() format, since the dialects write timestamps
// differently but both report them back through database/sql as
// strings when scanned into a Go string.
func parseStoredTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05Z",
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized timestamp format")
}

func (s *sqlStore) Ingest(ctx context.Context, url, sha256sum string) (*model.Feed, FeedWriter, error) {
	existing, err := s.ListFeeds(ctx, ListFeedsFilter{URL: url, SHA256: sha256sum})
	if err != nil {
		return nil, nil, err
	}
	if len(existing) > 0 {
		return &existing[0], nil, nil
	}
	superseded, err := s.ListFeeds(ctx, ListFeedsFilter{URL: url})
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "beginning ingest transaction")
	}

	for _, f := range superseded {
		for _, table := range dataTables {
			if _, err := tx.ExecContext(ctx, s.q(fmt.Sprintf("DELETE FROM %s WHERE _feed = ?", table)), f.ID); err != nil {
				tx.Rollback()
				return nil, nil, errors.Wrapf(err, "clearing superseded rows from %s", table)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, s.q("DELETE FROM _feeds WHERE url = ?"), url); err != nil {
		tx.Rollback()
		return nil, nil, errors.Wrap(err, "clearing superseded feed rows")
	}

	feedID, err := s.d.insertFeedRow(tx, s.d, url, sha256sum)
	if err != nil {
		tx.Rollback()
		return nil, nil, errors.Wrap(err, "inserting feed row")
	}

	return nil, &sqlFeedWriter{store: s, tx: tx, feedID: feedID}, nil
}

func (s *sqlStore) DeleteFeed(ctx context.Context, feedID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, table := range dataTables {
		if _, err := tx.ExecContext(ctx, s.q(fmt.Sprintf("DELETE FROM %s WHERE _feed = ?", table)), feedID); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "deleting from %s", table)
		}
	}
	if _, err := tx.ExecContext(ctx, s.q("DELETE FROM _feeds WHERE id = ?"), feedID); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) Reader(feedID int64) FeedReader {
	return &sqlFeedReader{store: s, feedID: feedID}
}

// dataTables is every _feed-scoped table, used for bulk cleanup.
var dataTables = []string{
	"agency", "stops", "routes", "calendar", "calendar_dates",
	"trips", "stop_times", "frequencies", "_stops_routes",
}

// sqlFeedWriter buffers one feed's ingestion inside a single
// transaction, matching the protocol's "delete-then-insert, single
// commit" shape; Commit additionally runs the derived-work pass
// before returning.
type sqlFeedWriter struct {
	store  *sqlStore
	tx     *sql.Tx
	feedID int64
	err    error
}

func (w *sqlFeedWriter) FeedID() int64 { return w.feedID }

func (w *sqlFeedWriter) exec(query string, args ...any) error {
	if w.err != nil {
		return w.err
	}
	_, err := w.tx.Exec(w.store.q(query), args...)
	if err != nil {
		w.err = err
	}
	return err
}

func (w *sqlFeedWriter) WriteAgency(a model.Agency) error {
	return w.exec(`INSERT INTO agency (_feed, id, name, url, timezone, language, phone_human, phone_e164, fare_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.feedID, a.ID, a.Name, a.URL, a.Timezone, a.Language, a.PhoneHuman, a.PhoneE164, a.FareURL)
}

func (w *sqlFeedWriter) WriteStop(st model.Stop) error {
	return w.exec(`INSERT INTO stops (_feed, id, code, name, description, lat, lon, zone, url, parent_station, timezone, location_type, accessible)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.feedID, st.ID, st.Code, st.Name, st.Description, st.Lat, st.Lon, st.Zone, st.URL,
		st.ParentStation, st.Timezone, int(st.LocationType), int(st.Accessible))
}

func (w *sqlFeedWriter) WriteRoute(r model.Route) error {
	return w.exec(`INSERT INTO routes (_feed, id, agency_id, short_name, name, description, route_type, url, color, text_color)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.feedID, r.ID, r.AgencyID, r.ShortName, r.Name, r.Description, int(r.Type), r.URL, r.Color, r.TextColor)
}

func (w *sqlFeedWriter) WriteTrip(t model.Trip) error {
	return w.exec(`INSERT INTO trips (_feed, id, route_id, service_id, headsign, short_name, direction_id, bikes_ok, min_arrival_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		w.feedID, t.ID, t.RouteID, t.ServiceID, t.Headsign, t.ShortName, t.DirectionID, int(t.BikesOk))
}

func (w *sqlFeedWriter) WriteCalendar(c model.Calendar) error {
	return w.exec(`INSERT INTO calendar (_feed, service_id, start_date, end_date, weekday) VALUES (?, ?, ?, ?, ?)`,
		w.feedID, c.ServiceID, c.StartDate, c.EndDate, c.Weekday)
}

func (w *sqlFeedWriter) WriteCalendarDate(c model.CalendarDate) error {
	return w.exec(`INSERT INTO calendar_dates (_feed, service_id, date, exception_type) VALUES (?, ?, ?, ?)`,
		w.feedID, c.ServiceID, c.Date, int(c.ExceptionType))
}

func (w *sqlFeedWriter) WriteStopTime(st model.StopTime) error {
	var arrival, departure any
	if st.ArrivalSet {
		arrival = st.Arrival
	}
	if st.DepartureSet {
		departure = st.Departure
	}
	return w.exec(`INSERT INTO stop_times (_feed, trip_id, stop_id, stop_sequence, headsign, arrival, departure, interpolated_arrival, pickup_type, dropoff_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		w.feedID, st.TripID, st.StopID, st.StopSequence, st.Headsign, arrival, departure, st.PickupType, st.DropoffType)
}

func (w *sqlFeedWriter) WriteFrequency(f model.Frequency) error {
	exact := 0
	if f.ExactTimes {
		exact = 1
	}
	return w.exec(`INSERT INTO frequencies (_feed, trip_id, start_time, end_time, headway_seconds, exact_times) VALUES (?, ?, ?, ?, ?, ?)`,
		w.feedID, f.TripID, f.StartTime, f.EndTime, f.HeadwaySeconds, exact)
}

func (w *sqlFeedWriter) Rollback() error {
	return w.tx.Rollback()
}

// Commit runs the derived-work pass (stop-time interpolation,
// min-arrival precomputation, stops x routes reverse index) in the
// same transaction as the row inserts, then commits.
func (w *sqlFeedWriter) Commit(ctx context.Context) error {
	if w.err != nil {
		w.tx.Rollback()
		return w.err
	}
	if err := w.interpolate(ctx); err != nil {
		w.tx.Rollback()
		return errors.Wrap(err, "interpolating stop times")
	}
	if err := w.minArrival(ctx); err != nil {
		w.tx.Rollback()
		return errors.Wrap(err, "computing min arrival times")
	}
	if err := w.stopsRoutesIndex(ctx); err != nil {
		w.tx.Rollback()
		return errors.Wrap(err, "building stops x routes index")
	}
	return w.tx.Commit()
}

type seqTime struct {
	seq              uint32
	arrival          int
	haveArrival      bool
	departureOrArriv int
}

// interpolate implements the ingestion protocol's stop-time
// interpolation step: for each trip with at least one known arrival,
// fill in interpolated_arrival for stop_times whose arrival is null
// by linear interpolation between the bracketing known times.
func (w *sqlFeedWriter) interpolate(ctx context.Context) error {
	rows, err := w.tx.QueryContext(ctx, w.store.q(
		`SELECT trip_id, stop_sequence, arrival, departure FROM stop_times WHERE _feed = ? ORDER BY trip_id, stop_sequence`),
		w.feedID)
	if err != nil {
		return err
	}

	byTrip := map[string][]seqTime{}
	for rows.Next() {
		var tripID string
		var seq uint32
		var arrival, departure sql.NullInt64
		if err := rows.Scan(&tripID, &seq, &arrival, &departure); err != nil {
			rows.Close()
			return err
		}
		st := seqTime{seq: seq}
		if arrival.Valid {
			st.haveArrival = true
			st.arrival = int(arrival.Int64)
			st.departureOrArriv = int(arrival.Int64)
		}
		if departure.Valid {
			st.departureOrArriv = int(departure.Int64)
		}
		byTrip[tripID] = append(byTrip[tripID], st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for tripID, seqs := range byTrip {
		if err := interpolateTrip(ctx, w.tx, w.store, w.feedID, tripID, seqs); err != nil {
			return err
		}
	}
	return nil
}

func interpolateTrip(ctx context.Context, tx *sql.Tx, store *sqlStore, feedID int64, tripID string, seqs []seqTime) error {
	anyKnown := false
	for _, s := range seqs {
		if s.haveArrival {
			anyKnown = true
			break
		}
	}
	if !anyKnown {
		return nil
	}

	for i := 0; i < len(seqs); {
		if seqs[i].haveArrival {
			i++
			continue
		}
		// Find the bracketing known entries: left is the nearest
		// known entry before this run, right is the nearest known
		// entry after it.
		leftIdx := i - 1
		runStart := i
		j := i
		for j < len(seqs) && !seqs[j].haveArrival {
			j++
		}
		runEnd := j // exclusive; seqs[runEnd] is known, or j==len(seqs)
		if leftIdx < 0 || runEnd >= len(seqs) {
			// No bracket on one side: nothing in the spec's algorithm
			// covers this (every known-containing trip interpolates
			// between brackets only); skip the unbracketed run.
			i = runEnd + 1
			continue
		}
		left := seqs[leftIdx]
		right := seqs[runEnd]
		gap := right.arrival - left.departureOrArriv
		count := runEnd - runStart + 1
		for idx, k := runStart, 0; idx < runEnd; idx, k = idx+1, k+1 {
			val := left.departureOrArriv + gap*(k+1)/count
			if _, err := tx.ExecContext(ctx, store.q(
				`UPDATE stop_times SET interpolated_arrival = ? WHERE _feed = ? AND trip_id = ? AND stop_sequence = ?`),
				val, feedID, tripID, seqs[idx].seq); err != nil {
				return err
			}
		}
		i = runEnd + 1
	}
	return nil
}

// minArrival implements the min-arrival precomputation step.
func (w *sqlFeedWriter) minArrival(ctx context.Context) error {
	rows, err := w.tx.QueryContext(ctx, w.store.q(
		`SELECT trip_id, arrival, interpolated_arrival FROM stop_times WHERE _feed = ?`), w.feedID)
	if err != nil {
		return err
	}
	mins := map[string]int{}
	have := map[string]bool{}
	for rows.Next() {
		var tripID string
		var arrival, interp sql.NullInt64
		if err := rows.Scan(&tripID, &arrival, &interp); err != nil {
			rows.Close()
			return err
		}
		var v int
		var ok bool
		if arrival.Valid {
			v, ok = int(arrival.Int64), true
		} else if interp.Valid {
			v, ok = int(interp.Int64), true
		}
		if !ok {
			continue
		}
		if cur, seen := mins[tripID]; !seen || v < cur {
			mins[tripID] = v
			have[tripID] = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for tripID, v := range mins {
		if _, err := w.tx.ExecContext(ctx, w.store.q(
			`UPDATE trips SET min_arrival_time = ? WHERE _feed = ? AND id = ?`), v, w.feedID, tripID); err != nil {
			return err
		}
	}
	return nil
}

// stopsRoutesIndex implements the stops x routes reverse index step.
func (w *sqlFeedWriter) stopsRoutesIndex(ctx context.Context) error {
	if _, err := w.tx.ExecContext(ctx, w.store.q(`DELETE FROM _stops_routes WHERE _feed = ?`), w.feedID); err != nil {
		return err
	}
	_, err := w.tx.ExecContext(ctx, w.store.q(`
		INSERT INTO _stops_routes (_feed, stop_id, route_id, direction_id, headsign)
		SELECT DISTINCT st._feed, st.stop_id, t.route_id, t.direction_id, t.headsign
		FROM stop_times st
		JOIN trips t ON t._feed = st._feed AND t.id = st.trip_id
		WHERE st._feed = ?`), w.feedID)
	return err
}

// sqlFeedReader answers read queries scoped to one feed.
type sqlFeedReader struct {
	store  *sqlStore
	feedID int64
}

func (r *sqlFeedReader) q(query string) string { return r.store.q(query) }

func (r *sqlFeedReader) Agencies(ctx context.Context) ([]model.Agency, error) {
	rows, err := r.store.db.QueryContext(ctx, r.q(
		`SELECT id, name, url, timezone, language, phone_human, phone_e164, fare_url FROM agency WHERE _feed = ?`), r.feedID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Agency
	for rows.Next() {
		var a model.Agency
		if err := rows.Scan(&a.ID, &a.Name, &a.URL, &a.Timezone, &a.Language, &a.PhoneHuman, &a.PhoneE164, &a.FareURL); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *sqlFeedReader) Agency(ctx context.Context, id string) (*model.Agency, error) {
	row := r.store.db.QueryRowContext(ctx, r.q(
		`SELECT id, name, url, timezone, language, phone_human, phone_e164, fare_url FROM agency WHERE _feed = ? AND id = ?`), r.feedID, id)
	var a model.Agency
	if err := row.Scan(&a.ID, &a.Name, &a.URL, &a.Timezone, &a.Language, &a.PhoneHuman, &a.PhoneE164, &a.FareURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *sqlFeedReader) Stops(ctx context.Context) ([]model.Stop, error) {
	rows, err := r.store.db.QueryContext(ctx, r.q(
		`SELECT id, code, name, description, lat, lon, zone, url, parent_station, timezone, location_type, accessible
		 FROM stops WHERE _feed = ?`), r.feedID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Stop
	for rows.Next() {
		s, err := scanStop(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanStop(rows *sql.Rows) (model.Stop, error) {
	var s model.Stop
	var locType, accessible int
	err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Description, &s.Lat, &s.Lon, &s.Zone, &s.URL,
		&s.ParentStation, &s.Timezone, &locType, &accessible)
	s.LocationType = model.LocationType(locType)
	s.Accessible = model.Tristate(accessible)
	return s, err
}

func (r *sqlFeedReader) Stop(ctx context.Context, id string) (*model.Stop, error) {
	row := r.store.db.QueryRowContext(ctx, r.q(
		`SELECT id, code, name, description, lat, lon, zone, url, parent_station, timezone, location_type, accessible
		 FROM stops WHERE _feed = ? AND id = ?`), r.feedID, id)
	var locType, accessible int
	var s model.Stop
	if err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Description, &s.Lat, &s.Lon, &s.Zone, &s.URL,
		&s.ParentStation, &s.Timezone, &locType, &accessible); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.LocationType = model.LocationType(locType)
	s.Accessible = model.Tristate(accessible)
	return &s, nil
}

func (r *sqlFeedReader) Routes(ctx context.Context) ([]model.Route, error) {
	rows, err := r.store.db.QueryContext(ctx, r.q(
		`SELECT id, agency_id, short_name, name, description, route_type, url, color, text_color FROM routes WHERE _feed = ?`), r.feedID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Route
	for rows.Next() {
		rt, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func scanRoute(rows *sql.Rows) (model.Route, error) {
	var rt model.Route
	var typ int
	err := rows.Scan(&rt.ID, &rt.AgencyID, &rt.ShortName, &rt.Name, &rt.Description, &typ, &rt.URL, &rt.Color, &rt.TextColor)
	rt.Type = model.RouteType(typ)
	return rt, err
}

func (r *sqlFeedReader) Route(ctx context.Context, id string) (*model.Route, error) {
	row := r.store.db.QueryRowContext(ctx, r.q(
		`SELECT id, agency_id, short_name, name, description, route_type, url, color, text_color FROM routes WHERE _feed = ? AND id = ?`), r.feedID, id)
	var rt model.Route
	var typ int
	if err := row.Scan(&rt.ID, &rt.AgencyID, &rt.ShortName, &rt.Name, &rt.Description, &typ, &rt.URL, &rt.Color, &rt.TextColor); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rt.Type = model.RouteType(typ)
	return &rt, nil
}

func (r *sqlFeedReader) Trips(ctx context.Context) ([]model.Trip, error) {
	rows, err := r.store.db.QueryContext(ctx, r.q(
		`SELECT id, route_id, service_id, headsign, short_name, direction_id, bikes_ok, min_arrival_time FROM trips WHERE _feed = ?`), r.feedID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrip(rows *sql.Rows) (model.Trip, error) {
	var t model.Trip
	var bikes int
	err := rows.Scan(&t.ID, &t.RouteID, &t.ServiceID, &t.Headsign, &t.ShortName, &t.DirectionID, &bikes, &t.MinArrivalTime)
	t.BikesOk = model.Tristate(bikes)
	return t, err
}

func (r *sqlFeedReader) Trip(ctx context.Context, id string) (*model.Trip, error) {
	row := r.store.db.QueryRowContext(ctx, r.q(
		`SELECT id, route_id, service_id, headsign, short_name, direction_id, bikes_ok, min_arrival_time FROM trips WHERE _feed = ? AND id = ?`), r.feedID, id)
	var t model.Trip
	var bikes int
	if err := row.Scan(&t.ID, &t.RouteID, &t.ServiceID, &t.Headsign, &t.ShortName, &t.DirectionID, &bikes, &t.MinArrivalTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.BikesOk = model.Tristate(bikes)
	return &t, nil
}

func (r *sqlFeedReader) Frequencies(ctx context.Context, tripIDs []string) ([]model.Frequency, error) {
	query := `SELECT trip_id, start_time, end_time, headway_seconds, exact_times FROM frequencies WHERE _feed = ?`
	args := []any{r.feedID}
	if len(tripIDs) > 0 {
		query += " AND trip_id IN (" + placeholderList(len(tripIDs)) + ")"
		for _, v := range tripIDs {
			args = append(args, v)
		}
	}
	rows, err := r.store.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Frequency
	for rows.Next() {
		var f model.Frequency
		var exact int
		if err := rows.Scan(&f.TripID, &f.StartTime, &f.EndTime, &f.HeadwaySeconds, &exact); err != nil {
			return nil, err
		}
		f.ExactTimes = exact != 0
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *sqlFeedReader) Timezone(ctx context.Context) (string, error) {
	row := r.store.db.QueryRowContext(ctx, r.q(`SELECT timezone FROM agency WHERE _feed = ? LIMIT 1`), r.feedID)
	var tz string
	if err := row.Scan(&tz); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "UTC", nil
		}
		return "", err
	}
	return tz, nil
}

// ActiveServices evaluates calendar + calendar_dates in Go rather
// than in SQL (per timeutil.Service), since the served-date formula
// mixes range, weekday-bit and per-date override logic that reads far
// more clearly as Go than as a single SQL predicate.
func (r *sqlFeedReader) ActiveServices(ctx context.Context, date string) ([]string, error) {
	calRows, err := r.store.db.QueryContext(ctx, r.q(
		`SELECT service_id, start_date, end_date, weekday FROM calendar WHERE _feed = ?`), r.feedID)
	if err != nil {
		return nil, err
	}
	cals := map[string]*model.Calendar{}
	for calRows.Next() {
		var c model.Calendar
		if err := calRows.Scan(&c.ServiceID, &c.StartDate, &c.EndDate, &c.Weekday); err != nil {
			calRows.Close()
			return nil, err
		}
		cc := c
		cals[c.ServiceID] = &cc
	}
	calRows.Close()
	if err := calRows.Err(); err != nil {
		return nil, err
	}

	dateRows, err := r.store.db.QueryContext(ctx, r.q(
		`SELECT service_id, date, exception_type FROM calendar_dates WHERE _feed = ?`), r.feedID)
	if err != nil {
		return nil, err
	}
	byService := map[string][]model.CalendarDate{}
	for dateRows.Next() {
		var cd model.CalendarDate
		var et int
		if err := dateRows.Scan(&cd.ServiceID, &cd.Date, &et); err != nil {
			dateRows.Close()
			return nil, err
		}
		cd.ExceptionType = model.ExceptionType(et)
		byService[cd.ServiceID] = append(byService[cd.ServiceID], cd)
	}
	dateRows.Close()
	if err := dateRows.Err(); err != nil {
		return nil, err
	}

	t, err := timeutil.ParseGTFSDate(date)
	if err != nil {
		return nil, err
	}
	weekdayBit := timeutil.Weekday(t)

	seen := map[string]bool{}
	for sid := range cals {
		seen[sid] = true
	}
	for sid := range byService {
		seen[sid] = true
	}

	var out []string
	for sid := range seen {
		svc := timeutil.NewService(sid, cals[sid], byService[sid])
		if svc.ActiveOn(date, weekdayBit) {
			out = append(out, sid)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *sqlFeedReader) RouteDirections(ctx context.Context, stopID string) ([]model.RouteDirection, error) {
	rows, err := r.store.db.QueryContext(ctx, r.q(`
		SELECT r.id, r.agency_id, r.short_name, r.name, r.description, r.route_type, r.url, r.color, r.text_color,
		       sr.direction_id, sr.headsign
		FROM _stops_routes sr
		JOIN routes r ON r._feed = sr._feed AND r.id = sr.route_id
		WHERE sr._feed = ? AND sr.stop_id = ?`), r.feedID, stopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RouteDirection
	for rows.Next() {
		var rd model.RouteDirection
		var typ int
		if err := rows.Scan(&rd.Route.ID, &rd.Route.AgencyID, &rd.Route.ShortName, &rd.Route.Name, &rd.Route.Description,
			&typ, &rd.Route.URL, &rd.Route.Color, &rd.Route.TextColor, &rd.DirectionID, &rd.Headsign); err != nil {
			return nil, err
		}
		rd.Route.Type = model.RouteType(typ)
		out = append(out, rd)
	}
	return out, rows.Err()
}

func (r *sqlFeedReader) NearbyStops(ctx context.Context, lat, lon float64, limit int, routeTypes []model.RouteType) ([]model.Stop, error) {
	stops, err := r.Stops(ctx)
	if err != nil {
		return nil, err
	}

	if len(routeTypes) > 0 {
		allowed := map[model.RouteType]bool{}
		for _, rt := range routeTypes {
			allowed[rt] = true
		}
		served, err := r.stopsServedByRouteType(ctx, allowed)
		if err != nil {
			return nil, err
		}
		filtered := stops[:0]
		for _, s := range stops {
			if served[s.ID] || (s.ParentStation == "" && served[""]) {
				filtered = append(filtered, s)
			}
		}
		stops = filtered
	}

	origin := geodist.Coord{Lat: lat, Lon: lon}
	sort.Slice(stops, func(i, j int) bool {
		_, di := geodist.HaversineDistance(origin, geodist.Coord{Lat: stops[i].Lat, Lon: stops[i].Lon})
		_, dj := geodist.HaversineDistance(origin, geodist.Coord{Lat: stops[j].Lat, Lon: stops[j].Lon})
		return di < dj
	})

	if limit > 0 && len(stops) > limit {
		stops = stops[:limit]
	}
	return stops, nil
}

func (r *sqlFeedReader) stopsServedByRouteType(ctx context.Context, allowed map[model.RouteType]bool) (map[string]bool, error) {
	rows, err := r.store.db.QueryContext(ctx, r.q(`
		SELECT DISTINCT sr.stop_id, r.route_type
		FROM _stops_routes sr
		JOIN routes r ON r._feed = sr._feed AND r.id = sr.route_id
		WHERE sr._feed = ?`), r.feedID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var stopID string
		var typ int
		if err := rows.Scan(&stopID, &typ); err != nil {
			return nil, err
		}
		if allowed[model.RouteType(typ)] {
			out[stopID] = true
		}
	}
	return out, rows.Err()
}

// StopTimeEvents joins stop_times with trip/route/stop data per
// filter. Frequency expansion and the service-day/window walk are
// left to the Scheduled Arrival Generator (static.go), which calls
// this with a bare ServiceIDs/StopIDs/RouteIDs filter and does its own
// time-window math; Start/End here only prune at the SQL level when
// both are zero-valueless is not worth the complexity, so they are
// accepted but not applied against noon-relative offsets here.
func (r *sqlFeedReader) StopTimeEvents(ctx context.Context, filter StopTimeEventFilter) ([]*StopTimeEvent, error) {
	query := `
		SELECT st.trip_id, st.stop_id, st.stop_sequence, st.headsign, st.arrival, st.departure,
		       st.interpolated_arrival, st.pickup_type, st.dropoff_type,
		       t.id, t.route_id, t.service_id, t.headsign, t.short_name, t.direction_id, t.bikes_ok, t.min_arrival_time,
		       r.id, r.agency_id, r.short_name, r.name, r.description, r.route_type, r.url, r.color, r.text_color,
		       s.id, s.code, s.name, s.description, s.lat, s.lon, s.zone, s.url, s.parent_station, s.timezone, s.location_type, s.accessible
		FROM stop_times st
		JOIN trips t ON t._feed = st._feed AND t.id = st.trip_id
		JOIN routes r ON r._feed = st._feed AND r.id = t.route_id
		JOIN stops s ON s._feed = st._feed AND s.id = st.stop_id
		WHERE st._feed = ?`
	args := []any{r.feedID}

	if len(filter.StopIDs) > 0 {
		query += " AND st.stop_id IN (" + placeholderList(len(filter.StopIDs)) + ")"
		for _, v := range filter.StopIDs {
			args = append(args, v)
		}
	}
	if len(filter.RouteIDs) > 0 {
		query += " AND t.route_id IN (" + placeholderList(len(filter.RouteIDs)) + ")"
		for _, v := range filter.RouteIDs {
			args = append(args, v)
		}
	}
	if len(filter.TripIDs) > 0 {
		query += " AND t.id IN (" + placeholderList(len(filter.TripIDs)) + ")"
		for _, v := range filter.TripIDs {
			args = append(args, v)
		}
	}
	if len(filter.ServiceIDs) > 0 {
		query += " AND t.service_id IN (" + placeholderList(len(filter.ServiceIDs)) + ")"
		for _, v := range filter.ServiceIDs {
			args = append(args, v)
		}
	}
	if filter.DirectionID != DirectionAny {
		query += " AND t.direction_id = ?"
		args = append(args, filter.DirectionID)
	}
	if len(filter.RouteTypes) > 0 {
		query += " AND r.route_type IN (" + placeholderList(len(filter.RouteTypes)) + ")"
		for _, v := range filter.RouteTypes {
			args = append(args, int(v))
		}
	}
	query += " ORDER BY COALESCE(st.arrival, st.interpolated_arrival) ASC"

	rows, err := r.store.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StopTimeEvent
	for rows.Next() {
		ev := &StopTimeEvent{}
		var arrival, departure, interp sql.NullInt64
		var tripBikes, tripDir int
		var routeType, locType, accessible int
		if err := rows.Scan(
			&ev.StopTime.TripID, &ev.StopTime.StopID, &ev.StopTime.StopSequence, &ev.StopTime.Headsign,
			&arrival, &departure, &interp, &ev.StopTime.PickupType, &ev.StopTime.DropoffType,
			&ev.Trip.ID, &ev.Trip.RouteID, &ev.Trip.ServiceID, &ev.Trip.Headsign, &ev.Trip.ShortName,
			&tripDir, &tripBikes, &ev.Trip.MinArrivalTime,
			&ev.Route.ID, &ev.Route.AgencyID, &ev.Route.ShortName, &ev.Route.Name, &ev.Route.Description,
			&routeType, &ev.Route.URL, &ev.Route.Color, &ev.Route.TextColor,
			&ev.Stop.ID, &ev.Stop.Code, &ev.Stop.Name, &ev.Stop.Description, &ev.Stop.Lat, &ev.Stop.Lon,
			&ev.Stop.Zone, &ev.Stop.URL, &ev.Stop.ParentStation, &ev.Stop.Timezone, &locType, &accessible,
		); err != nil {
			return nil, err
		}
		if arrival.Valid {
			ev.StopTime.Arrival, ev.StopTime.ArrivalSet = int(arrival.Int64), true
		}
		if departure.Valid {
			ev.StopTime.Departure, ev.StopTime.DepartureSet = int(departure.Int64), true
		}
		if interp.Valid {
			ev.StopTime.InterpolatedArrival, ev.StopTime.InterpolatedArrivalSet = int(interp.Int64), true
		}
		ev.Trip.DirectionID = int8(tripDir)
		ev.Trip.BikesOk = model.Tristate(tripBikes)
		ev.Route.Type = model.RouteType(routeType)
		ev.Stop.LocationType = model.LocationType(locType)
		ev.Stop.Accessible = model.Tristate(accessible)

		if ev.Stop.ParentStation != "" {
			if parent, err := r.Stop(ctx, ev.Stop.ParentStation); err == nil {
				ev.ParentStation = parent
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func placeholderList(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
