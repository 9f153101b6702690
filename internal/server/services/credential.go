package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/subpool/internal/common"
	"github.com/dmitrijs2005/subpool/internal/cryptox"
	"github.com/dmitrijs2005/subpool/internal/server/config"
	"github.com/dmitrijs2005/subpool/internal/server/models"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/repomanager"
)

// CredentialService lets a group owner store or rotate the shared login.
// The plaintext never touches storage; reads go through AccessService only.
type CredentialService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipherKey   []byte
	audit       *Auditor
}

func NewCredentialService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, audit *Auditor) *CredentialService {
	return &CredentialService{
		db:          db,
		repomanager: m,
		cipherKey:   cryptox.DeriveKey([]byte(cfg.CredentialKey), []byte(cfg.CredentialKeySalt)),
		audit:       audit,
	}
}

// Store encrypts and upserts the credentials for a group. Only the owner may
// call it; re-storing rotates the blob and bumps key_version.
func (s *CredentialService) Store(ctx context.Context, ownerID, groupID string, view *models.CredentialView) error {
	groupRepo := s.repomanager.Groups(s.db)
	credentialRepo := s.repomanager.Credentials(s.db)

	group, err := groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if group.OwnerID != ownerID {
		return common.ErrInvalidState
	}

	blob, nonce, err := cryptox.Encrypt(view, s.cipherKey)
	if err != nil {
		return common.ErrInternal
	}

	if err := credentialRepo.Upsert(ctx, &models.Credential{
		GroupID:       groupID,
		EncryptedBlob: blob,
		Nonce:         nonce,
		KeyVersion:    1,
	}); err != nil {
		return err
	}

	s.audit.Record(ctx, "credential.store", ownerID, groupID)

	return nil
}
