package activity

import "time"

// Query — фильтры выборки событий из хранилища.
// Пустые поля означают «без фильтра».
type Query struct {
	TabID     string
	SessionID string
	Type      EventType

	// Day ограничивает выборку одними сутками [Day, Day+24h)
	Day time.Time

	Limit int
	Skip  int
}

// Session — запись о сессии браузинга.
type Session struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId,omitempty"`
	StartTime time.Time              `json:"startTime"`
	EndTime   time.Time              `json:"endTime,omitempty"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}
