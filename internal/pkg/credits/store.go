package credits

import (
	"context"

	"github.com/quaestor-app/quaestor/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormStore implements Store on a relational database. The row lock taken by
// SELECT ... FOR UPDATE is what serializes concurrent mutations on the same
// user; a plain read-check-write here would over-spend under concurrency.
type gormStore struct {
	db *gorm.DB
}

// NewStore creates a credit store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) UpdateBalance(ctx context.Context, userID uint, fn MutateFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, userID).Error; err != nil {
			return err
		}

		txn, mutated, err := fn(&user)
		if err != nil {
			return err
		}
		if !mutated {
			return nil
		}

		if err := tx.Save(&user).Error; err != nil {
			return err
		}
		if txn != nil {
			txn.UserID = user.ID
			if err := tx.Create(txn).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *gormStore) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
