package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

// IntegrityFlag marks an entity whose ledger sums failed to reconcile.
type IntegrityFlag struct {
	ID         uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EntityType enums.IntegrityEntityType `gorm:"column:entity_type;type:text;not null;uniqueIndex:ux_integrity_flags_open,where:status = 'open'"`
	EntityID   uuid.UUID                 `gorm:"column:entity_id;type:uuid;not null;uniqueIndex:ux_integrity_flags_open,where:status = 'open'"`
	Kind       enums.IntegrityFlagKind   `gorm:"column:kind;type:text;not null;uniqueIndex:ux_integrity_flags_open,where:status = 'open'"`
	Details    json.RawMessage           `gorm:"column:details;type:jsonb"`
	Status     enums.IntegrityFlagStatus `gorm:"column:status;type:text;not null"`
	CreatedAt  time.Time                 `gorm:"column:created_at;autoCreateTime"`
	ResolvedAt *time.Time                `gorm:"column:resolved_at"`
	ResolvedBy *uuid.UUID                `gorm:"column:resolved_by;type:uuid"`
}

func (IntegrityFlag) TableName() string { return "integrity_flags" }

func (f *IntegrityFlag) BeforeCreate(*gorm.DB) error {
	assignID(&f.ID)
	return nil
}
