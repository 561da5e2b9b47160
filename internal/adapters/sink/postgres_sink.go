package sink

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ghalamif/SoundMap/internal/domain"
	"github.com/ghalamif/SoundMap/internal/ports"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

const readingColumns = 14

// PostgresSink archives finalized readings. Re-delivered readings are ignored
// through the session_id primary key.
type PostgresSink struct {
	db        *sql.DB
	tableName string
}

func NewPostgresSink(db *sql.DB, table string) (*PostgresSink, error) {
	if table == "" {
		table = "readings"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresSink{db: db, tableName: table}, nil
}

// Open connects through lib/pq and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (p *PostgresSink) Name() string { return "postgres" }

func (p *PostgresSink) WriteBatch(readings []*domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(p.tableName)
	b.WriteString(" (session_id, username, target_tag, intensity, accepted, rejected, low_confidence," +
		" lat, lng, file_path, payload_bytes, started_at, duration_ms, upload_result) VALUES ")

	args := make([]any, 0, len(readings)*readingColumns)
	for i, r := range readings {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for c := 0; c < readingColumns; c++ {
			if c > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", len(args)+c+1)
		}
		b.WriteString(")")

		args = append(args,
			r.SessionID,
			r.User,
			r.TargetTag,
			r.Intensity,
			r.Accepted,
			r.Rejected,
			r.LowConfidence,
			r.Location.Latitude,
			r.Location.Longitude,
			r.FilePath,
			r.PayloadBytes,
			r.StartedAt,
			r.Duration.Milliseconds(),
			r.UploadResult,
		)
	}

	b.WriteString(" ON CONFLICT (session_id) DO NOTHING")

	_, err := p.db.Exec(b.String(), args...)
	return err
}

var _ ports.ReadingSink = (*PostgresSink)(nil)
