package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/xela07ax/embedrelay/internal/activity"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// SessionRepo — хранилище сессий браузинга.
type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(connString string) *SessionRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		log.Fatal(err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Create сохраняет сессию и возвращает присвоенный ID.
func (r *SessionRepo) Create(ctx context.Context, s activity.Session) (string, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	meta, _ := json.Marshal(s.Meta)

	var endTime interface{}
	if !s.EndTime.IsZero() {
		endTime = s.EndTime
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, start_time, end_time, meta, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		s.ID, s.UserID, s.StartTime, endTime, meta, s.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("session insert failed: %w", err)
	}
	return s.ID, nil
}

// Find возвращает сессии пользователя/дня, свежие первыми.
func (r *SessionRepo) Find(ctx context.Context, userID string, day time.Time) ([]activity.Session, error) {
	query := "SELECT id, user_id, start_time, end_time, meta, created_at FROM sessions"
	var conds []string
	var args []interface{}

	if userID != "" {
		args = append(args, userID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if !day.IsZero() {
		dayStart := day.Truncate(24 * time.Hour)
		args = append(args, dayStart)
		conds = append(conds, fmt.Sprintf("start_time >= $%d", len(args)))
		args = append(args, dayStart.Add(24*time.Hour))
		conds = append(conds, fmt.Sprintf("start_time < $%d", len(args)))
	}

	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY start_time DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("session select failed: %w", err)
	}
	defer rows.Close()

	var sessions []activity.Session
	for rows.Next() {
		var (
			s       activity.Session
			endTime sql.NullTime
			meta    []byte
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.StartTime, &endTime, &meta, &s.CreatedAt); err != nil {
			return nil, err
		}
		if endTime.Valid {
			s.EndTime = endTime.Time
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &s.Meta)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}
