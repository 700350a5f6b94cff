package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xela07ax/embedrelay/internal/activity"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// ActivityRepo — хранилище событий активности.
// Пишется только пачками (bulk insert), читается с фильтрами сайдбара.
type ActivityRepo struct {
	db *sql.DB
}

func NewActivityRepo(connString string) *ActivityRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		// В main мы проверим соединение через Ping
		log.Fatal(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &ActivityRepo{db: db}
}

func (r *ActivityRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RecordBatch сохраняет пачку событий одним INSERT.
// Динамически строим плейсхолдеры: число строк заранее неизвестно.
func (r *ActivityRepo) RecordBatch(ctx context.Context, events []activity.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	// Количество колонок в таблице activities
	numFields := 9
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9)

		details, _ := json.Marshal(e.Details)

		vals = append(vals,
			e.ID, string(e.Type), e.Timestamp, e.TabID, e.SessionID,
			e.URL, e.Title, details, e.RecordedAt,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO activities (id, type, timestamp, tab_id, session_id, url, title, details, recorded_at) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return 0, fmt.Errorf("activity bulk insert failed: %w", err)
	}
	return len(events), nil
}

// Find возвращает страницу событий по фильтрам (свежие первыми) и общее число строк.
func (r *ActivityRepo) Find(ctx context.Context, q activity.Query) ([]activity.Event, int, error) {
	where, args := buildActivityFilter(q)

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	// 1. Общее количество под те же фильтры
	var total int
	countQuery := "SELECT COUNT(*) FROM activities" + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("activity count failed: %w", err)
	}

	// 2. Сама страница
	query := fmt.Sprintf(
		"SELECT id, type, timestamp, tab_id, session_id, url, title, details, recorded_at FROM activities%s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d",
		where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, q.Skip)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("activity select failed: %w", err)
	}
	defer rows.Close()

	var events []activity.Event
	for rows.Next() {
		var (
			e       activity.Event
			evType  string
			details []byte
		)
		if err := rows.Scan(&e.ID, &evType, &e.Timestamp, &e.TabID, &e.SessionID,
			&e.URL, &e.Title, &details, &e.RecordedAt); err != nil {
			return nil, 0, err
		}
		e.Type = activity.EventType(evType)
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		events = append(events, e)
	}

	return events, total, rows.Err()
}

// buildActivityFilter собирает WHERE-часть из непустых полей запроса.
func buildActivityFilter(q activity.Query) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.TabID != "" {
		add("tab_id = $%d", q.TabID)
	}
	if q.SessionID != "" {
		add("session_id = $%d", q.SessionID)
	}
	if q.Type != "" {
		add("type = $%d", string(q.Type))
	}
	if !q.Day.IsZero() {
		dayStart := q.Day.Truncate(24 * time.Hour)
		add("timestamp >= $%d", dayStart)
		add("timestamp < $%d", dayStart.Add(24*time.Hour))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
