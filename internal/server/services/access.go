package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/subpool/internal/common"
	"github.com/dmitrijs2005/subpool/internal/cryptox"
	"github.com/dmitrijs2005/subpool/internal/logging"
	"github.com/dmitrijs2005/subpool/internal/server/auth"
	"github.com/dmitrijs2005/subpool/internal/server/config"
	"github.com/dmitrijs2005/subpool/internal/server/models"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/repomanager"
)

// AccessResult is returned by a successful RequestAccess.
type AccessResult struct {
	View      *models.CredentialView
	Token     string
	ExpiresAt time.Time
}

// AccessService brokers exclusive access to a group's stored credentials.
// At most one member at a time holds a live grant per group; the holder can
// renew, everyone else fails fast with ErrAccessContended and retries after
// the grant's natural expiry. Concurrent logins to the underlying provider
// are what trigger session evictions, hence the single-holder rule.
type AccessService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	secretKey     []byte
	cipherKey     []byte
	grantDuration time.Duration
	audit         *Auditor
	logger        logging.Logger
}

// NewAccessService constructs an AccessService. The cipher key is derived
// once here from the configured secret and salt; nothing else in the call
// graph reads key material.
func NewAccessService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, audit *Auditor, logger logging.Logger) *AccessService {
	return &AccessService{
		db:            db,
		repomanager:   m,
		secretKey:     []byte(cfg.SecretKey),
		cipherKey:     cryptox.DeriveKey([]byte(cfg.CredentialKey), []byte(cfg.CredentialKeySalt)),
		grantDuration: cfg.GrantDuration,
		audit:         audit,
		logger:        logger,
	}
}

// RequestAccess grants userID exclusive access to the group's credentials
// for the configured grant duration and returns the decrypted view.
// The caller must be the group owner or an active member. Re-requesting
// while already the holder renews the grant; a live grant held by someone
// else fails with ErrAccessContended. Expired grants count as absent.
func (s *AccessService) RequestAccess(ctx context.Context, userID, groupID string) (*AccessResult, error) {
	groupRepo := s.repomanager.Groups(s.db)
	membershipRepo := s.repomanager.Memberships(s.db)
	grantRepo := s.repomanager.Grants(s.db)
	credentialRepo := s.repomanager.Credentials(s.db)

	group, err := groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if group.OwnerID != userID {
		if _, err := membershipRepo.GetActive(ctx, userID, groupID); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, common.ErrInvalidState
			}
			return nil, err
		}
	}

	// Resolve the credential before acquiring: failing here must not leave
	// the caller holding a grant that blocks other members until it expires.
	cred, err := credentialRepo.GetByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	view := &models.CredentialView{}
	if err := cryptox.Decrypt(cred.EncryptedBlob, cred.Nonce, s.cipherKey, view); err != nil {
		return nil, common.ErrInternal
	}

	now := time.Now()
	expiresAt := now.Add(s.grantDuration)

	token, err := auth.GenerateGrantToken(groupID, userID, s.secretKey, expiresAt)
	if err != nil {
		return nil, err
	}

	if err := grantRepo.Acquire(ctx, &models.AccessGrant{
		GroupID:      groupID,
		HolderUserID: userID,
		Token:        token,
		IssuedAt:     now,
		ExpiresAt:    expiresAt,
	}); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, "credential.read", userID, groupID)

	return &AccessResult{View: view, Token: token, ExpiresAt: expiresAt}, nil
}

// ReleaseAccess drops the caller's own grant early. Releasing a grant the
// caller does not hold is a no-op.
func (s *AccessService) ReleaseAccess(ctx context.Context, userID, groupID string) error {
	grantRepo := s.repomanager.Grants(s.db)
	if err := grantRepo.Release(ctx, groupID, userID); err != nil {
		return err
	}

	s.audit.Record(ctx, "credential.release", userID, groupID)

	return nil
}

// ReclaimExpiredGrants deletes expired grant rows. Storage hygiene only:
// correctness never depends on it, since Acquire treats expired rows as
// absent.
func (s *AccessService) ReclaimExpiredGrants(ctx context.Context) (int64, error) {
	return s.repomanager.Grants(s.db).DeleteExpired(ctx)
}
