package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/halotrack/halo-server/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSessionRepo implements SessionRepo using PostgreSQL.
type PostgresSessionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionRepo(pool *pgxpool.Pool) *PostgresSessionRepo {
	return &PostgresSessionRepo{pool: pool}
}

const sessionColumns = `
	client_id, session_id,
	COALESCE(ft_source,''), COALESCE(ft_medium,''), COALESCE(ft_campaign,''), COALESCE(ft_term,''),
	COALESCE(ft_content,''), COALESCE(ft_referrer,''), COALESCE(ft_referrer_full,''), COALESCE(ft_landing,''), ft_timestamp,
	COALESCE(lt_source,''), COALESCE(lt_medium,''), COALESCE(lt_campaign,''), COALESCE(lt_term,''),
	COALESCE(lt_content,''), COALESCE(lt_referrer,''), COALESCE(lt_referrer_full,''), COALESCE(lt_landing,''), lt_timestamp,
	COALESCE(gclid,''), COALESCE(gbraid,''), COALESCE(wbraid,''), COALESCE(fbclid,''),
	COALESCE(fbc,''), COALESCE(fbp,''), COALESCE(ttclid,''), COALESCE(msclkid,''),
	COALESCE(user_agent,''), COALESCE(device_type,''), COALESCE(browser,''), COALESCE(browser_version,''),
	COALESCE(os,''), COALESCE(os_version,''), COALESCE(country,''), COALESCE(region,''), COALESCE(city,''), COALESCE(language,''),
	COALESCE(email,''), COALESCE(phone,''), COALESCE(external_id,''),
	COALESCE(ip_hash,''), consent_status, created_at, updated_at`

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ClientID, &s.SessionID,
		&s.FirstTouch.Source, &s.FirstTouch.Medium, &s.FirstTouch.Campaign, &s.FirstTouch.Term,
		&s.FirstTouch.Content, &s.FirstTouch.Referrer, &s.FirstTouch.ReferrerFull, &s.FirstTouch.Landing, &s.FirstTouch.Timestamp,
		&s.LastTouch.Source, &s.LastTouch.Medium, &s.LastTouch.Campaign, &s.LastTouch.Term,
		&s.LastTouch.Content, &s.LastTouch.Referrer, &s.LastTouch.ReferrerFull, &s.LastTouch.Landing, &s.LastTouch.Timestamp,
		&s.ClickIDs.GCLID, &s.ClickIDs.GBRAID, &s.ClickIDs.WBRAID, &s.ClickIDs.FBCLID,
		&s.ClickIDs.FBC, &s.ClickIDs.FBP, &s.ClickIDs.TTCLID, &s.ClickIDs.MSCLKID,
		&s.Device.UserAgent, &s.Device.Type, &s.Device.Browser, &s.Device.BrowserVersion,
		&s.Device.OS, &s.Device.OSVersion, &s.Device.Country, &s.Device.Region, &s.Device.City, &s.Device.Language,
		&s.Email, &s.Phone, &s.ExternalID,
		&s.IPHash, &s.ConsentStatus, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &s, nil
}

func (r *PostgresSessionRepo) GetBySessionID(ctx context.Context, clientID, sessionID string) (*models.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE client_id = $1 AND session_id = $2
	`, clientID, sessionID)
	return scanSession(row)
}

func (r *PostgresSessionRepo) FindByEmail(ctx context.Context, clientID, email string) (*models.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE client_id = $1 AND email = $2
		ORDER BY updated_at DESC LIMIT 1
	`, clientID, email)
	return scanSession(row)
}

func (r *PostgresSessionRepo) FindByPhone(ctx context.Context, clientID, phone string) (*models.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE client_id = $1 AND phone = $2
		ORDER BY updated_at DESC LIMIT 1
	`, clientID, phone)
	return scanSession(row)
}

func (r *PostgresSessionRepo) FindByExternalID(ctx context.Context, clientID, externalID string) (*models.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE client_id = $1 AND external_id = $2
		ORDER BY updated_at DESC LIMIT 1
	`, clientID, externalID)
	return scanSession(row)
}

func (r *PostgresSessionRepo) Create(ctx context.Context, s *models.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (
			client_id, session_id,
			ft_source, ft_medium, ft_campaign, ft_term, ft_content, ft_referrer, ft_referrer_full, ft_landing, ft_timestamp,
			lt_source, lt_medium, lt_campaign, lt_term, lt_content, lt_referrer, lt_referrer_full, lt_landing, lt_timestamp,
			gclid, gbraid, wbraid, fbclid, fbc, fbp, ttclid, msclkid,
			user_agent, device_type, browser, browser_version, os, os_version,
			country, region, city, language,
			ip_hash, consent_status, created_at, updated_at
		) VALUES (
			$1, $2,
			NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), NULLIF($10,''), $11,
			NULLIF($12,''), NULLIF($13,''), NULLIF($14,''), NULLIF($15,''), NULLIF($16,''), NULLIF($17,''), NULLIF($18,''), NULLIF($19,''), $20,
			NULLIF($21,''), NULLIF($22,''), NULLIF($23,''), NULLIF($24,''), NULLIF($25,''), NULLIF($26,''), NULLIF($27,''), NULLIF($28,''),
			NULLIF($29,''), NULLIF($30,''), NULLIF($31,''), NULLIF($32,''), NULLIF($33,''), NULLIF($34,''),
			NULLIF($35,''), NULLIF($36,''), NULLIF($37,''), NULLIF($38,''),
			NULLIF($39,''), $40, $41, $42
		)
		ON CONFLICT (client_id, session_id) DO NOTHING
	`,
		s.ClientID, s.SessionID,
		s.FirstTouch.Source, s.FirstTouch.Medium, s.FirstTouch.Campaign, s.FirstTouch.Term,
		s.FirstTouch.Content, s.FirstTouch.Referrer, s.FirstTouch.ReferrerFull, s.FirstTouch.Landing, s.FirstTouch.Timestamp,
		s.LastTouch.Source, s.LastTouch.Medium, s.LastTouch.Campaign, s.LastTouch.Term,
		s.LastTouch.Content, s.LastTouch.Referrer, s.LastTouch.ReferrerFull, s.LastTouch.Landing, s.LastTouch.Timestamp,
		s.ClickIDs.GCLID, s.ClickIDs.GBRAID, s.ClickIDs.WBRAID, s.ClickIDs.FBCLID,
		s.ClickIDs.FBC, s.ClickIDs.FBP, s.ClickIDs.TTCLID, s.ClickIDs.MSCLKID,
		s.Device.UserAgent, s.Device.Type, s.Device.Browser, s.Device.BrowserVersion,
		s.Device.OS, s.Device.OSVersion, s.Device.Country, s.Device.Region, s.Device.City, s.Device.Language,
		s.IPHash, s.ConsentStatus, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) UpdateLastTouch(ctx context.Context, clientID, sessionID string, touch models.Touch, clickIDs models.ClickIDs) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET
			lt_source = NULLIF($3,''), lt_medium = NULLIF($4,''), lt_campaign = NULLIF($5,''),
			lt_term = NULLIF($6,''), lt_content = NULLIF($7,''), lt_referrer = NULLIF($8,''),
			lt_referrer_full = NULLIF($9,''), lt_landing = NULLIF($10,''), lt_timestamp = $11,
			gclid   = COALESCE(NULLIF($12,''), gclid),
			gbraid  = COALESCE(NULLIF($13,''), gbraid),
			wbraid  = COALESCE(NULLIF($14,''), wbraid),
			fbclid  = COALESCE(NULLIF($15,''), fbclid),
			fbc     = COALESCE(NULLIF($16,''), fbc),
			fbp     = COALESCE(NULLIF($17,''), fbp),
			ttclid  = COALESCE(NULLIF($18,''), ttclid),
			msclkid = COALESCE(NULLIF($19,''), msclkid),
			updated_at = NOW()
		WHERE client_id = $1 AND session_id = $2
	`,
		clientID, sessionID,
		touch.Source, touch.Medium, touch.Campaign, touch.Term, touch.Content,
		touch.Referrer, touch.ReferrerFull, touch.Landing, touch.Timestamp,
		clickIDs.GCLID, clickIDs.GBRAID, clickIDs.WBRAID, clickIDs.FBCLID,
		clickIDs.FBC, clickIDs.FBP, clickIDs.TTCLID, clickIDs.MSCLKID,
	)
	if err != nil {
		return fmt.Errorf("failed to update last touch: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) SetIdentity(ctx context.Context, clientID, sessionID, email, phone, externalID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET
			email       = COALESCE(NULLIF($3,''), email),
			phone       = COALESCE(NULLIF($4,''), phone),
			external_id = COALESCE(NULLIF($5,''), external_id),
			updated_at  = NOW()
		WHERE client_id = $1 AND session_id = $2
	`, clientID, sessionID, email, phone, externalID)
	if err != nil {
		return fmt.Errorf("failed to set identity: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) DeleteByEmail(ctx context.Context, clientID, email string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM sessions WHERE client_id = $1 AND email = $2
	`, clientID, email)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresSessionRepo) ListByDateRange(ctx context.Context, clientID string, start, end time.Time) ([]*models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE client_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC
	`, clientID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
