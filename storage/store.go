package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FileStore is the narrow interface the blossom handlers depend on.
type FileStore interface {
	GetFile(ctx context.Context, hash string) (*File, error)
	InsertFile(ctx context.Context, file File) error
}

// NotificationStore is the narrow interface the notification workflow
// depends on.
type NotificationStore interface {
	UpsertChallenge(ctx context.Context, npub, challenge string, now time.Time) error
	GetChallenge(ctx context.Context, npub string) (*Challenge, error)
	DeleteChallenge(ctx context.Context, npub string) error
	UpsertConfirmationAndPreferences(ctx context.Context, npub, email, confirmationToken, preferencesToken, ebillURL string, flags int64, now time.Time) error
	GetConfirmationByToken(ctx context.Context, token string) (*EmailConfirmation, error)
	ConfirmEmail(ctx context.Context, npub string) error
	GetPreferencesByNpub(ctx context.Context, npub string) (*EmailPreferences, error)
	GetPreferencesByToken(ctx context.Context, token string) (*EmailPreferences, error)
	UpdatePreferencesByToken(ctx context.Context, token string, enabled bool, flags int64) error
}

// EventStore is the narrow interface the relay engine depends on.
type EventStore interface {
	SaveEvent(ctx context.Context, event RelayEvent) error
	QueryEvents(ctx context.Context, q EventQuery) ([]RelayEvent, error)
}

// EventQuery is a simplified nostr filter over stored events.
type EventQuery struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Since   int64
	Until   int64
	Limit   int
}

// Store implements FileStore, NotificationStore and EventStore over one gorm
// connection pool.
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&File{}, &Challenge{}, &EmailConfirmation{}, &EmailPreferences{}, &RelayEvent{})
}

// GetFile returns the blob for hash, or nil when absent.
func (s *Store) GetFile(ctx context.Context, hash string) (*File, error) {
	var file File
	err := s.db.WithContext(ctx).First(&file, "hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// InsertFile stores the blob. Re-uploads of existing content are a no-op.
func (s *Store) InsertFile(ctx context.Context, file File) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&file).Error
}

// UpsertChallenge writes the fresh challenge for npub, replacing any
// earlier one.
func (s *Store) UpsertChallenge(ctx context.Context, npub, challenge string, now time.Time) error {
	row := Challenge{Npub: npub, Challenge: challenge, CreatedAt: now.UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "npub"}},
			DoUpdates: clause.AssignmentColumns([]string{"challenge", "created_at"}),
		}).
		Create(&row).Error
}

// GetChallenge returns the stored challenge for npub, or nil when absent.
func (s *Store) GetChallenge(ctx context.Context, npub string) (*Challenge, error) {
	var row Challenge
	err := s.db.WithContext(ctx).First(&row, "npub = ?", npub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// DeleteChallenge removes the consumed challenge for npub.
func (s *Store) DeleteChallenge(ctx context.Context, npub string) error {
	return s.db.WithContext(ctx).Delete(&Challenge{}, "npub = ?", npub).Error
}

// UpsertConfirmationAndPreferences resets the confirmation state and the
// preferences stub for npub in one transaction, so both rows always move
// together.
func (s *Store) UpsertConfirmationAndPreferences(ctx context.Context, npub, email, confirmationToken, preferencesToken, ebillURL string, flags int64, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		confirmation := EmailConfirmation{
			Npub:      npub,
			Email:     email,
			Confirmed: false,
			Token:     confirmationToken,
			SentAt:    now.UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "npub"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "token", "confirmed", "sent_at"}),
		}).Create(&confirmation).Error; err != nil {
			return err
		}

		preferences := EmailPreferences{
			Npub:           npub,
			Enabled:        false,
			Token:          preferencesToken,
			Email:          email,
			EmailConfirmed: false,
			EbillURL:       ebillURL,
			Flags:          flags,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "npub"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "token", "ebill_url", "flags", "enabled", "email_confirmed"}),
		}).Create(&preferences).Error
	})
}

// GetConfirmationByToken returns the pending confirmation for token, or nil
// when absent.
func (s *Store) GetConfirmationByToken(ctx context.Context, token string) (*EmailConfirmation, error) {
	var row EmailConfirmation
	err := s.db.WithContext(ctx).First(&row, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ConfirmEmail consumes the confirmation row for npub and enables the
// preferences row in one transaction.
func (s *Store) ConfirmEmail(ctx context.Context, npub string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&EmailConfirmation{}, "npub = ?", npub).Error; err != nil {
			return err
		}
		return tx.Model(&EmailPreferences{}).
			Where("npub = ?", npub).
			Updates(map[string]any{"email_confirmed": true, "enabled": true}).Error
	})
}

// GetPreferencesByNpub returns the preferences for npub, or nil when absent.
func (s *Store) GetPreferencesByNpub(ctx context.Context, npub string) (*EmailPreferences, error) {
	var row EmailPreferences
	err := s.db.WithContext(ctx).First(&row, "npub = ?", npub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetPreferencesByToken returns the preferences guarded by token, or nil
// when absent.
func (s *Store) GetPreferencesByToken(ctx context.Context, token string) (*EmailPreferences, error) {
	var row EmailPreferences
	err := s.db.WithContext(ctx).First(&row, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdatePreferencesByToken writes the enabled flag and the full bitset for
// the preferences row guarded by token.
func (s *Store) UpdatePreferencesByToken(ctx context.Context, token string, enabled bool, flags int64) error {
	return s.db.WithContext(ctx).Model(&EmailPreferences{}).
		Where("token = ?", token).
		Updates(map[string]any{"enabled": enabled, "flags": flags}).Error
}

// SaveEvent stores a relay event. Duplicate ids are a no-op.
func (s *Store) SaveEvent(ctx context.Context, event RelayEvent) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&event).Error
}

// QueryEvents returns stored events matching the filter, newest first.
func (s *Store) QueryEvents(ctx context.Context, q EventQuery) ([]RelayEvent, error) {
	tx := s.db.WithContext(ctx).Model(&RelayEvent{})
	if len(q.IDs) > 0 {
		tx = tx.Where("id IN ?", q.IDs)
	}
	if len(q.Authors) > 0 {
		tx = tx.Where("pubkey IN ?", q.Authors)
	}
	if len(q.Kinds) > 0 {
		tx = tx.Where("kind IN ?", q.Kinds)
	}
	if q.Since > 0 {
		tx = tx.Where("created_at >= ?", q.Since)
	}
	if q.Until > 0 {
		tx = tx.Where("created_at <= ?", q.Until)
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var events []RelayEvent
	err := tx.Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}
