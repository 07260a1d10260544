package sqldb

import (
	"time"

	"gorm.io/datatypes"
)

type documentRow struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Scope       string         `gorm:"column:scope;not null;index:idx_kb_documents_scope_key,priority:1"`
	Key         string         `gorm:"column:key;not null;index:idx_kb_documents_scope_key,priority:2"`
	Kind        string         `gorm:"column:kind;not null"`
	Domain      string         `gorm:"column:domain;not null"`
	ContentHash string         `gorm:"column:content_hash;not null"`
	ProcessedAt time.Time      `gorm:"column:processed_at"`
	Body        datatypes.JSON `gorm:"column:body;not null"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (documentRow) TableName() string { return "kb_documents" }

type pendingRow struct {
	ID          string    `gorm:"column:id;primaryKey"`
	Scope       string    `gorm:"column:scope;not null;index"`
	Key         string    `gorm:"column:key;not null"`
	Op          string    `gorm:"column:op;not null"`
	Reason      string    `gorm:"column:reason"`
	Attempts    int       `gorm:"column:attempts;not null;default:0"`
	ContentHash string    `gorm:"column:content_hash"`
	FirstSeen   time.Time `gorm:"column:first_seen"`
	LastAttempt time.Time `gorm:"column:last_attempt"`
	NextAttempt time.Time `gorm:"column:next_attempt"`
	Dead        bool      `gorm:"column:dead;not null;default:false"`
}

func (pendingRow) TableName() string { return "kb_pending" }
