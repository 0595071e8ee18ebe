package picks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverMySQL  = "mysql"
	DriverPgx    = "pgx"
	DriverSQLite = "sqlite"
)

// excludedEventTypes are never used as ground truth.
var excludedEventTypes = []string{
	"not locatable",
	"explosion",
	"not existing",
	"outside of network interest",
}

const stationQuery = `
SELECT Station.latitude, Station.longitude
FROM Station
JOIN Network ON Station._parent_oid = Network._oid
WHERE Network.code = ? AND Station.code = ?
ORDER BY Station.start DESC
LIMIT 1`

// manualPickQuery follows each event's preferred origin and magnitude to the
// arrivals of that origin and the manual picks they reference.
const manualPickQuery = `
SELECT DISTINCT
	POEv.publicID,
	Origin.latitude_value, Origin.longitude_value,
	Pick.waveformID_networkCode, Pick.waveformID_stationCode,
	Pick.waveformID_locationCode, Pick.waveformID_channelCode,
	Pick.time_value, Pick.time_value_ms
FROM Event AS EvMF
LEFT JOIN PublicObject AS POEv ON EvMF._oid = POEv._oid
LEFT JOIN PublicObject AS POOri ON EvMF.preferredOriginID = POOri.publicID
LEFT JOIN Origin ON POOri._oid = Origin._oid
LEFT JOIN PublicObject AS POMag ON EvMF.preferredMagnitudeID = POMag.publicID
LEFT JOIN Magnitude ON Magnitude._oid = POMag._oid
LEFT JOIN Arrival ON Arrival._parent_oid = Origin._oid
LEFT JOIN PublicObject AS POPick ON POPick.publicID = Arrival.pickID
LEFT JOIN Pick ON Pick._oid = POPick._oid
WHERE Magnitude.magnitude_value BETWEEN ? AND ?
	AND Pick.phaseHint_used = 1
	AND Pick.evaluationMode = 'manual'
	AND Arrival.phase_code = ?
	AND Pick.waveformID_stationCode = ?
	AND Pick.waveformID_networkCode = ?
	AND Magnitude.magnitude_value IS NOT NULL
	AND Origin.quality_usedPhaseCount IS NOT NULL
	AND (EvMF.type IS NULL OR EvMF.type NOT IN (%s))
	AND Origin.time_value BETWEEN ? AND ?
ORDER BY Pick.time_value, Pick.time_value_ms`

// SQLSource reads stations and manual picks from a SeisComP database.
type SQLSource struct {
	db     *sql.DB
	driver string
}

// NewSQLSource wraps an open database handle. driver selects the placeholder
// style.
func NewSQLSource(db *sql.DB, driver string) *SQLSource {
	return &SQLSource{db: db, driver: driver}
}

// OpenSQLSource opens a database with the named driver.
func OpenSQLSource(driver, dsn string) (*SQLSource, error) {
	switch driver {
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		dsn = cfg.FormatDSN()
	case DriverPgx, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return NewSQLSource(db, driver), nil
}

// DB returns the underlying handle.
func (s *SQLSource) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *SQLSource) Close() error { return s.db.Close() }

// Station resolves ref against the Network and Station inventory tables.
func (s *SQLSource) Station(ctx context.Context, ref StationRef) (Station, error) {
	var lat, lon float64
	err := s.db.QueryRowContext(ctx, s.rebind(stationQuery), ref.Network, ref.Code).Scan(&lat, &lon)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Station{}, fmt.Errorf("%s: %w", ref.NetSta(), ErrStationNotFound)
		}
		return Station{}, fmt.Errorf("query station %s: %w", ref.NetSta(), err)
	}
	return Station{
		Network:   ref.Network,
		Code:      ref.Code,
		Location:  ref.Location,
		Channel:   ref.Channel,
		Latitude:  lat,
		Longitude: lon,
	}, nil
}

// ManualPicks runs the manual pick query and keeps picks whose origin lies
// within q.RadiusKm of the station.
func (s *SQLSource) ManualPicks(ctx context.Context, q Query) ([]ManualPick, error) {
	marks := make([]string, len(excludedEventTypes))
	args := []interface{}{q.MinMag, q.MaxMag, string(q.Phase), q.Station.Code, q.Station.Network}
	for i, et := range excludedEventTypes {
		marks[i] = "?"
		args = append(args, et)
	}
	args = append(args, formatDBTime(q.Start), formatDBTime(q.End))

	query := s.rebind(fmt.Sprintf(manualPickQuery, strings.Join(marks, ", ")))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query manual picks: %w", err)
	}
	defer rows.Close()

	var out []ManualPick
	for rows.Next() {
		var (
			p          ManualPick
			loc, cha   sql.NullString
			rawTime    interface{}
			micros     sql.NullInt64
			oLat, oLon sql.NullFloat64
		)
		if err := rows.Scan(&p.EventID, &oLat, &oLon, &p.Network, &p.Station, &loc, &cha, &rawTime, &micros); err != nil {
			return nil, fmt.Errorf("scan manual pick: %w", err)
		}
		t, err := parseDBTime(rawTime)
		if err != nil {
			return nil, fmt.Errorf("pick %s: %w", p.EventID, err)
		}
		if micros.Valid {
			t = t.Truncate(time.Second).Add(time.Duration(micros.Int64) * time.Microsecond)
		}
		p.Time = t
		p.Location = loc.String
		p.Channel = cha.String
		p.Phase = q.Phase
		p.OriginLat = oLat.Float64
		p.OriginLon = oLon.Float64
		p.DistanceKm = DistanceKm(q.Station.Latitude, q.Station.Longitude, p.OriginLat, p.OriginLon)
		if q.RadiusKm > 0 && p.DistanceKm >= q.RadiusKm {
			continue
		}
		out = append(out, p)
		if q.MaxPicks > 0 && len(out) >= q.MaxPicks {
			break
		}
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLSource) rebind(query string) string {
	if s.driver != DriverPgx {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const dbTimeLayout = "2006-01-02 15:04:05"

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

// parseDBTime accepts the time representations returned by the supported
// drivers.
func parseDBTime(v interface{}) (time.Time, error) {
	switch tv := v.(type) {
	case time.Time:
		return tv.UTC(), nil
	case []byte:
		return parseTimeString(string(tv))
	case string:
		return parseTimeString(tv)
	case nil:
		return time.Time{}, errors.New("pick time is NULL")
	}
	return time.Time{}, fmt.Errorf("unsupported pick time type %T", v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	dbTimeLayout,
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable pick time %q", s)
}
