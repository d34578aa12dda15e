package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"repohub/internal/domain/entity"
	domainerrors "repohub/internal/domain/errors"
	"repohub/internal/domain/repository"
	"repohub/internal/infra/persistence/model"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// revokedTokenRepository implements the domain.RevokedTokenRepository interface.
type revokedTokenRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRevokedTokenRepository is the constructor for revokedTokenRepository.
func NewRevokedTokenRepository(db *gorm.DB) repository.RevokedTokenRepository {
	return &revokedTokenRepository{db: db, now: time.Now}
}

// Revoke inserts the token digest. ON CONFLICT DO NOTHING keeps a surrounding transaction
// usable when the token is already listed; zero affected rows means another caller won.
func (repo *revokedTokenRepository) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	entry := fromRevokedTokenDomain(&entity.RevokedToken{
		TokenHash: HashToken(token),
		RevokedAt: repo.now(),
		ExpiresAt: expiresAt,
	})

	result := repo.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if err := result.Error; err != nil {
		if isUniqueConstraintViolation(err) {
			return repository.ErrTokenAlreadyRevoked
		}

		return domainerrors.NewDatabaseExecuteError(err, "failed to revoke token")
	}

	if result.RowsAffected == 0 {
		return repository.ErrTokenAlreadyRevoked
	}

	return nil
}

// IsRevoked reports whether the token digest is on the list.
func (repo *revokedTokenRepository) IsRevoked(ctx context.Context, token string) (bool, error) {
	var count int64
	err := repo.db.WithContext(ctx).
		Model(&model.RevokedTokenModel{}).
		Where("token_hash = ?", HashToken(token)).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check token revocation")
	}

	return count > 0, nil
}

// DeleteExpired removes entries whose token expired before the given instant.
func (repo *revokedTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := repo.db.WithContext(ctx).
		Where("expires_at < ?", before.UTC()).
		Delete(&model.RevokedTokenModel{})
	if result.Error != nil {
		return 0, domainerrors.NewDatabaseExecuteError(result.Error, "failed to delete expired revocations")
	}

	return result.RowsAffected, nil
}

func fromRevokedTokenDomain(t *entity.RevokedToken) *model.RevokedTokenModel {
	return &model.RevokedTokenModel{
		TokenHash: t.TokenHash,
		RevokedAt: t.RevokedAt.UTC(),
		ExpiresAt: t.ExpiresAt.UTC(),
	}
}

// HashToken returns the hex SHA-256 digest under which a token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}
