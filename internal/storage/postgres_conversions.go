package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/halotrack/halo-server/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConversionRepo implements ConversionRepo using PostgreSQL.
// Leads and orders share the conversions table, discriminated by kind.
type PostgresConversionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresConversionRepo(pool *pgxpool.Pool) *PostgresConversionRepo {
	return &PostgresConversionRepo{pool: pool}
}

func (r *PostgresConversionRepo) Upsert(ctx context.Context, c *models.Conversion) error {
	attributionJSON, err := json.Marshal(c.Attribution)
	if err != nil {
		return fmt.Errorf("failed to marshal attribution data: %w", err)
	}
	itemsJSON, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}
	customJSON, err := json.Marshal(c.CustomFields)
	if err != nil {
		return fmt.Errorf("failed to marshal custom fields: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO conversions (
			client_id, kind, external_id, platform,
			total, subtotal, tax, shipping, currency,
			email, phone, customer_id, session_id,
			name, company, form_type, message, status,
			items, custom_fields, consent_given,
			match_type, attribution_data, days_to_convert,
			facebook_event_id, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			NULLIF($10,''), NULLIF($11,''), NULLIF($12,''), NULLIF($13,''),
			NULLIF($14,''), NULLIF($15,''), NULLIF($16,''), NULLIF($17,''), NULLIF($18,''),
			$19, $20, $21,
			$22, $23, $24,
			NULLIF($25,''), $26
		)
		ON CONFLICT (client_id, external_id, platform) DO UPDATE SET
			total = EXCLUDED.total,
			subtotal = EXCLUDED.subtotal,
			tax = EXCLUDED.tax,
			shipping = EXCLUDED.shipping,
			currency = EXCLUDED.currency,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			customer_id = EXCLUDED.customer_id,
			session_id = EXCLUDED.session_id,
			status = EXCLUDED.status,
			items = EXCLUDED.items,
			custom_fields = EXCLUDED.custom_fields,
			match_type = EXCLUDED.match_type,
			attribution_data = EXCLUDED.attribution_data,
			days_to_convert = EXCLUDED.days_to_convert
	`,
		c.ClientID, c.Kind, c.ExternalID, c.Platform,
		c.Total, c.Subtotal, c.Tax, c.Shipping, c.Currency,
		c.Email, c.Phone, c.CustomerID, c.SessionID,
		c.Name, c.Company, c.FormType, c.Message, c.Status,
		itemsJSON, customJSON, c.ConsentGiven,
		c.MatchType, attributionJSON, c.DaysToConvert,
		c.FacebookEventID, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert conversion: %w", err)
	}
	return nil
}

const conversionColumns = `
	client_id, kind, external_id, platform,
	total, subtotal, tax, shipping, currency,
	COALESCE(email,''), COALESCE(phone,''), COALESCE(customer_id,''), COALESCE(session_id,''),
	COALESCE(name,''), COALESCE(company,''), COALESCE(form_type,''), COALESCE(message,''), COALESCE(status,''),
	items, custom_fields, consent_given,
	match_type, attribution_data, days_to_convert,
	sent_to_facebook, sent_to_google, COALESCE(facebook_event_id,''), created_at`

func scanConversion(row pgx.Row) (*models.Conversion, error) {
	var c models.Conversion
	var itemsJSON, customJSON, attributionJSON []byte

	err := row.Scan(
		&c.ClientID, &c.Kind, &c.ExternalID, &c.Platform,
		&c.Total, &c.Subtotal, &c.Tax, &c.Shipping, &c.Currency,
		&c.Email, &c.Phone, &c.CustomerID, &c.SessionID,
		&c.Name, &c.Company, &c.FormType, &c.Message, &c.Status,
		&itemsJSON, &customJSON, &c.ConsentGiven,
		&c.MatchType, &attributionJSON, &c.DaysToConvert,
		&c.SentToFacebook, &c.SentToGoogle, &c.FacebookEventID, &c.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversion: %w", err)
	}

	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &c.Items); err != nil {
			return nil, fmt.Errorf("failed to parse items: %w", err)
		}
	}
	if len(customJSON) > 0 {
		if err := json.Unmarshal(customJSON, &c.CustomFields); err != nil {
			return nil, fmt.Errorf("failed to parse custom fields: %w", err)
		}
	}
	if len(attributionJSON) > 0 {
		if err := json.Unmarshal(attributionJSON, &c.Attribution); err != nil {
			return nil, fmt.Errorf("failed to parse attribution data: %w", err)
		}
	}
	return &c, nil
}

func (r *PostgresConversionRepo) GetByExternalID(ctx context.Context, clientID, externalID, platform string) (*models.Conversion, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+conversionColumns+`
		FROM conversions WHERE client_id = $1 AND external_id = $2 AND platform = $3
	`, clientID, externalID, platform)
	return scanConversion(row)
}

func (r *PostgresConversionRepo) MarkForwarded(ctx context.Context, clientID, externalID, platform, destination string) error {
	var column string
	switch destination {
	case "facebook":
		column = "sent_to_facebook"
	case "google":
		column = "sent_to_google"
	default:
		return fmt.Errorf("unknown forwarding destination: %s", destination)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE conversions SET `+column+` = TRUE
		WHERE client_id = $1 AND external_id = $2 AND platform = $3
	`, clientID, externalID, platform)
	if err != nil {
		return fmt.Errorf("failed to mark forwarded: %w", err)
	}
	return nil
}

func (r *PostgresConversionRepo) ListByDateRange(ctx context.Context, clientID string, kind models.ConversionKind, start, end time.Time) ([]*models.Conversion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+conversionColumns+`
		FROM conversions
		WHERE client_id = $1 AND kind = $2 AND created_at >= $3 AND created_at <= $4
		ORDER BY created_at DESC
	`, clientID, kind, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	var convs []*models.Conversion
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (r *PostgresConversionRepo) AnonymizeByEmail(ctx context.Context, clientID, email string, deletedAt time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversions SET
			email = NULL, phone = NULL, name = NULL, company = NULL, message = NULL,
			attribution_data = jsonb_build_object(
				'match_type', match_type,
				'deleted', TRUE,
				'deletion_date', $3::timestamptz)
		WHERE client_id = $1 AND email = $2
	`, clientID, email, deletedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to anonymize conversions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PostgresAdSpendRepo implements AdSpendRepo using PostgreSQL.
type PostgresAdSpendRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAdSpendRepo(pool *pgxpool.Pool) *PostgresAdSpendRepo {
	return &PostgresAdSpendRepo{pool: pool}
}

func (r *PostgresAdSpendRepo) Upsert(ctx context.Context, s *models.AdSpend) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ad_spend (client_id, date, source, medium, spend)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_id, date, source, medium) DO UPDATE SET
			spend = EXCLUDED.spend
	`, s.ClientID, s.Date, s.Source, s.Medium, s.Spend)
	if err != nil {
		return fmt.Errorf("failed to upsert ad spend: %w", err)
	}
	return nil
}

func (r *PostgresAdSpendRepo) ListByDateRange(ctx context.Context, clientID string, start, end time.Time) ([]*models.AdSpend, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT client_id, date, source, medium, spend
		FROM ad_spend
		WHERE client_id = $1 AND date >= $2 AND date <= $3
	`, clientID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list ad spend: %w", err)
	}
	defer rows.Close()

	var spend []*models.AdSpend
	for rows.Next() {
		var s models.AdSpend
		if err := rows.Scan(&s.ClientID, &s.Date, &s.Source, &s.Medium, &s.Spend); err != nil {
			return nil, fmt.Errorf("failed to scan ad spend: %w", err)
		}
		spend = append(spend, &s)
	}
	return spend, rows.Err()
}
