package friends

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type User struct {
	ID       string `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex;not null"`
}

// Friendship is one row per direction.
type Friendship struct {
	UserID   string `gorm:"primaryKey"`
	FriendID string `gorm:"primaryKey;index"`
}

// Store reads friend lists from postgres.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func OpenStore(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gorm: open postgres: %w", err)
	}
	return NewStore(db, log), nil
}

func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	if db == nil {
		panic("database connection cannot be nil for friends.Store")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log.Named("friends")}
}

// AutoMigrate creates the users and friendships tables. Development only.
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&User{}, &Friendship{}); err != nil {
		return fmt.Errorf("gorm: migrate friends: %w", err)
	}
	s.log.Info("friend tables migrated")
	return nil
}

func (s *Store) Friends(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&Friendship{}).
		Where("user_id = ?", userID).
		Order("friend_id").
		Pluck("friend_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: friends of %s: %w", userID, err)
	}
	return ids, nil
}

func (s *Store) Username(ctx context.Context, userID string) (string, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUnknownUser
		}
		return "", fmt.Errorf("gorm: find user %s: %w", userID, err)
	}
	return u.Username, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
