// Package storage persists the relay's state: content-addressed blobs, the
// notification workflow tables and relay events. All entities are keyed by
// npub or content hash; handlers only ever hold short-lived copies.
package storage

import "time"

// File is an immutable content-addressed blob.
type File struct {
	Hash string `gorm:"primaryKey;type:char(64)"`
	Data []byte `gorm:"not null"`
	Size int32  `gorm:"not null"`
}

// TableName keeps the historical table name.
func (File) TableName() string { return "files" }

// Challenge is the random value a client must sign to prove control of an
// npub. At most one per npub; overwritten on every start request.
type Challenge struct {
	Npub      string    `gorm:"primaryKey"`
	Challenge string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName keeps the historical table name.
func (Challenge) TableName() string { return "notif_challenges" }

// EmailConfirmation tracks a pending email confirmation. Consumed and deleted
// when the token is redeemed.
type EmailConfirmation struct {
	Npub      string    `gorm:"primaryKey"`
	Email     string    `gorm:"not null"`
	Confirmed bool      `gorm:"not null;default:false"`
	Token     string    `gorm:"index"`
	SentAt    time.Time `gorm:"not null"`
}

// TableName keeps the historical table name.
func (EmailConfirmation) TableName() string { return "notif_email_verification" }

// EmailPreferences holds a receiver's notification settings. The token is the
// only capability required to view or modify them.
type EmailPreferences struct {
	Npub           string `gorm:"primaryKey"`
	Enabled        bool   `gorm:"not null;default:false"`
	Token          string `gorm:"not null;index"`
	Email          string `gorm:"not null"`
	EmailConfirmed bool   `gorm:"not null;default:false"`
	EbillURL       string `gorm:"not null"`
	Flags          int64  `gorm:"not null"`
}

// TableName keeps the historical table name.
func (EmailPreferences) TableName() string { return "notif_email_preferences" }

// RelayEvent is a persisted nostr event admitted by the write policy.
type RelayEvent struct {
	ID        string `gorm:"primaryKey;type:char(64)"`
	Pubkey    string `gorm:"index;type:char(64)"`
	CreatedAt int64  `gorm:"index"`
	Kind      int    `gorm:"index"`
	Tags      string `gorm:"not null"`
	Content   string `gorm:"not null"`
	Sig       string `gorm:"not null"`
}

// TableName keeps the historical table name.
func (RelayEvent) TableName() string { return "relay_events" }
