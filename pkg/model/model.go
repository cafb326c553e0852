// Package model defines the database models, keeping mysql and redis connection instances.
package model

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Model carries the timestamps every table has. No database defaults are
// declared so the same schema migrates on mysql and sqlite.
type Model struct {
	CreatedAt time.Time `json:"createdAt" gorm:"omitempty; not null;"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"omitempty; not null;"`
}

// Tables lists every model the wallet migrates.
func Tables() []interface{} {
	return []interface{}{
		&Balance{},
		&Transaction{},
		&TransactionEvent{},
		&Address{},
		&Lastkv{},
	}
}

// Migrate creates or updates all wallet tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Tables()...)
}

// IsDuplicate reports whether err is a unique constraint violation.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
