package storage

import (
	"context"
	"fmt"

	"github.com/halotrack/halo-server/internal/database"
	"github.com/halotrack/halo-server/internal/models"
)

// ClickHouseEventLog appends analytics events to ClickHouse.
type ClickHouseEventLog struct {
	db *database.ClickHouseDB
}

func NewClickHouseEventLog(db *database.ClickHouseDB) *ClickHouseEventLog {
	return &ClickHouseEventLog{db: db}
}

func (l *ClickHouseEventLog) Append(ctx context.Context, e *models.AnalyticsEvent) error {
	err := l.db.Conn.Exec(ctx, `
		INSERT INTO analytics_events (
			event_id, client_id, session_id, event_name,
			source, medium, campaign, page_path, referrer,
			properties, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.EventID, e.ClientID, e.SessionID, e.EventName,
		e.Source, e.Medium, e.Campaign, e.PagePath, e.Referrer,
		e.Props, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analytics event: %w", err)
	}
	return nil
}
