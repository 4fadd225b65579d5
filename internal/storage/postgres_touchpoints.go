package storage

import (
	"context"
	"fmt"

	"github.com/halotrack/halo-server/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTouchpointRepo implements TouchpointRepo using PostgreSQL.
type PostgresTouchpointRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresTouchpointRepo(pool *pgxpool.Pool) *PostgresTouchpointRepo {
	return &PostgresTouchpointRepo{pool: pool}
}

func (r *PostgresTouchpointRepo) Append(ctx context.Context, tp *models.Touchpoint) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO touchpoints (
			client_id, session_id, touchpoint_number,
			source, medium, campaign, term, content, referrer, landing,
			gclid, gbraid, wbraid, fbclid, fbc, fbp, ttclid, msclkid,
			timestamp
		) VALUES (
			$1, $2, $3,
			NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), NULLIF($10,''),
			NULLIF($11,''), NULLIF($12,''), NULLIF($13,''), NULLIF($14,''), NULLIF($15,''), NULLIF($16,''), NULLIF($17,''), NULLIF($18,''),
			$19
		)
	`,
		tp.ClientID, tp.SessionID, tp.Number,
		tp.Source, tp.Medium, tp.Campaign, tp.Term, tp.Content, tp.Referrer, tp.Landing,
		tp.ClickIDs.GCLID, tp.ClickIDs.GBRAID, tp.ClickIDs.WBRAID, tp.ClickIDs.FBCLID,
		tp.ClickIDs.FBC, tp.ClickIDs.FBP, tp.ClickIDs.TTCLID, tp.ClickIDs.MSCLKID,
		tp.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append touchpoint: %w", err)
	}
	return nil
}

func (r *PostgresTouchpointRepo) CountBySession(ctx context.Context, clientID, sessionID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM touchpoints WHERE client_id = $1 AND session_id = $2
	`, clientID, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count touchpoints: %w", err)
	}
	return count, nil
}

func (r *PostgresTouchpointRepo) ListBySessionIDs(ctx context.Context, clientID string, sessionIDs []string) ([]*models.Touchpoint, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT client_id, session_id, touchpoint_number,
			   COALESCE(source,''), COALESCE(medium,''), COALESCE(campaign,''), COALESCE(term,''),
			   COALESCE(content,''), COALESCE(referrer,''), COALESCE(landing,''),
			   COALESCE(gclid,''), COALESCE(gbraid,''), COALESCE(wbraid,''), COALESCE(fbclid,''),
			   COALESCE(fbc,''), COALESCE(fbp,''), COALESCE(ttclid,''), COALESCE(msclkid,''),
			   timestamp
		FROM touchpoints
		WHERE client_id = $1 AND session_id = ANY($2)
		ORDER BY timestamp ASC
	`, clientID, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list touchpoints: %w", err)
	}
	defer rows.Close()

	var tps []*models.Touchpoint
	for rows.Next() {
		var tp models.Touchpoint
		if err := rows.Scan(
			&tp.ClientID, &tp.SessionID, &tp.Number,
			&tp.Source, &tp.Medium, &tp.Campaign, &tp.Term,
			&tp.Content, &tp.Referrer, &tp.Landing,
			&tp.ClickIDs.GCLID, &tp.ClickIDs.GBRAID, &tp.ClickIDs.WBRAID, &tp.ClickIDs.FBCLID,
			&tp.ClickIDs.FBC, &tp.ClickIDs.FBP, &tp.ClickIDs.TTCLID, &tp.ClickIDs.MSCLKID,
			&tp.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan touchpoint: %w", err)
		}
		tps = append(tps, &tp)
	}
	return tps, rows.Err()
}
