package sites

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/souravs72/cg-notification-sub001/internal/db"
	"github.com/souravs72/cg-notification-sub001/internal/secrets"
)

const authCacheTTL = 5 * time.Minute

// Service owns tenant registration and API-key authentication.
type Service struct {
	store     *Store
	redis     *db.RedisDB
	encryptor *secrets.Encryptor
	logger    *zap.Logger
}

func NewService(store *Store, redisDB *db.RedisDB, encryptor *secrets.Encryptor, logger *zap.Logger) *Service {
	return &Service{store: store, redis: redisDB, encryptor: encryptor, logger: logger}
}

// Register creates the site and returns it along with the raw API key. The
// raw key is returned exactly once and never stored.
func (s *Service) Register(ctx context.Context, reg Registration) (*Site, string, error) {
	if reg.SiteName == "" {
		return nil, "", fmt.Errorf("site name is required")
	}

	rawKey, err := generateKey()
	if err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash site key: %w", err)
	}

	site := &Site{
		ID:                  uuid.New(),
		SiteName:            reg.SiteName,
		APIKeyHash:          string(hash),
		APIKeyDigest:        keyDigest(rawKey),
		WhatsAppSessionName: reg.WhatsAppSessionName,
		SendGridFromEmail:   reg.SendGridFromEmail,
		SendGridFromName:    reg.SendGridFromName,
		IsActive:            true,
	}

	if reg.WASenderAPIKey != nil && *reg.WASenderAPIKey != "" {
		enc, err := s.encryptor.Encrypt(*reg.WASenderAPIKey)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encrypt wasender key: %w", err)
		}
		site.WASenderAPIKeyEnc = &enc
	}
	if reg.SendGridAPIKey != nil && *reg.SendGridAPIKey != "" {
		enc, err := s.encryptor.Encrypt(*reg.SendGridAPIKey)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encrypt sendgrid key: %w", err)
		}
		site.SendGridAPIKeyEnc = &enc
	}

	if err := s.store.Create(ctx, site); err != nil {
		return nil, "", err
	}
	return site, rawKey, nil
}

// Authenticate resolves and verifies the site behind a raw API key. The
// digest narrows the lookup to at most one row; bcrypt then verifies the key
// in constant time. A small Redis cache keeps the hot path off Postgres.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (*Site, error) {
	if rawKey == "" {
		return nil, ErrUnauthorized
	}
	digest := keyDigest(rawKey)

	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, authCacheKey(digest)).Result(); err == nil {
			if id, err := uuid.Parse(cached); err == nil {
				site, err := s.store.GetByID(ctx, id)
				if err == nil && site.IsActive &&
					bcrypt.CompareHashAndPassword([]byte(site.APIKeyHash), []byte(rawKey)) == nil {
					return site, nil
				}
			}
		} else if err != redis.Nil {
			s.logger.Warn("auth cache lookup failed", zap.Error(err))
		}
	}

	site, err := s.store.GetByKeyDigest(ctx, digest)
	if err == ErrNotFound {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(site.APIKeyHash), []byte(rawKey)) != nil {
		return nil, ErrUnauthorized
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, authCacheKey(digest), site.ID.String(), authCacheTTL).Err(); err != nil {
			s.logger.Warn("auth cache store failed", zap.Error(err))
		}
	}
	return site, nil
}

// GetByID fetches a site row; workers use it to resolve provider credentials.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Site, error) {
	return s.store.GetByID(ctx, id)
}

// DecryptWASenderKey returns the site's WASender key in plaintext, or empty
// when the site has none configured.
func (s *Service) DecryptWASenderKey(site *Site) (string, error) {
	if site.WASenderAPIKeyEnc == nil {
		return "", nil
	}
	return s.encryptor.Decrypt(*site.WASenderAPIKeyEnc)
}

// DecryptSendGridKey returns the site's SendGrid key in plaintext, or empty
// when the site has none configured.
func (s *Service) DecryptSendGridKey(site *Site) (string, error) {
	if site.SendGridAPIKeyEnc == nil {
		return "", nil
	}
	return s.encryptor.Decrypt(*site.SendGridAPIKeyEnc)
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate site key: %w", err)
	}
	return "nsk_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

func keyDigest(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

func authCacheKey(digest string) string {
	return "site_auth:" + digest
}
