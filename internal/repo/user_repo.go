package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/unisoflta/chatbot-back/internal/domain"
)

// EnsureUser registers userID if it is not known yet. Identities are issued
// by the external auth provider; this only anchors chat ownership.
func EnsureUser(ctx context.Context, db *gorm.DB, userID string) error {
	u := &domain.User{ID: userID, CreatedAt: time.Now().UTC()}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(u).Error
}

// GetUser fetches a user by ID, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, userID string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", userID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
