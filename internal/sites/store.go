package sites

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/db"
)

var (
	ErrNotFound     = errors.New("site not found")
	ErrNameTaken    = errors.New("site name already registered")
	ErrUnauthorized = errors.New("invalid site key")
)

type Store struct {
	db     *db.PostgresDB
	logger *zap.Logger
}

func NewStore(database *db.PostgresDB, logger *zap.Logger) *Store {
	return &Store{db: database, logger: logger}
}

const siteColumns = `id, site_name, api_key_hash, api_key_digest, whatsapp_session_name,
	wasender_api_key_enc, sendgrid_api_key_enc, sendgrid_from_email, sendgrid_from_name,
	is_active, created_at, updated_at`

func (s *Store) Create(ctx context.Context, site *Site) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (id, site_name, api_key_hash, api_key_digest, whatsapp_session_name,
			wasender_api_key_enc, sendgrid_api_key_enc, sendgrid_from_email, sendgrid_from_name, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)`,
		site.ID, site.SiteName, site.APIKeyHash, site.APIKeyDigest, site.WhatsAppSessionName,
		site.WASenderAPIKeyEnc, site.SendGridAPIKeyEnc, site.SendGridFromEmail, site.SendGridFromName)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return fmt.Errorf("failed to insert site: %w", err)
	}

	s.logger.Info("site registered",
		zap.String("site_id", site.ID.String()),
		zap.String("site_name", site.SiteName))
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Site, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE id = $1`, id)
	return scanSite(row)
}

// GetByKeyDigest resolves the site whose stored lookup digest matches. The
// digest is a plain SHA-256 of the raw key; the caller still has to verify
// the bcrypt hash before trusting the match.
func (s *Store) GetByKeyDigest(ctx context.Context, digest string) (*Site, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE api_key_digest = $1 AND is_active`, digest)
	return scanSite(row)
}

func scanSite(row *sql.Row) (*Site, error) {
	var site Site
	err := row.Scan(
		&site.ID, &site.SiteName, &site.APIKeyHash, &site.APIKeyDigest, &site.WhatsAppSessionName,
		&site.WASenderAPIKeyEnc, &site.SendGridAPIKeyEnc, &site.SendGridFromEmail, &site.SendGridFromName,
		&site.IsActive, &site.CreatedAt, &site.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan site: %w", err)
	}
	return &site, nil
}
