// Package store owns the interactions table: the embedded SQL persistence
// layer the data plane writes to (spec.md §4.8). It never reads back what
// it writes — external curation tooling is the reader.
package store

import "gorm.io/gorm"

// Interaction is the gorm model for the interactions table, matching
// spec.md §4.8's schema exactly.
type Interaction struct {
	ID                uint   `gorm:"primaryKey"`
	CreatedAt         string `gorm:"column:created_at"`
	Model             string `gorm:"column:model"`
	SourceProvider    string `gorm:"column:source_provider"`
	AuthScheme        string `gorm:"column:auth_scheme"`
	Conversations     string `gorm:"column:conversations"`
	Tools             string `gorm:"column:tools"`
	ToolCalls         string `gorm:"column:tool_calls"`
	RawRequest        string `gorm:"column:raw_request"`
	RawResponse       string `gorm:"column:raw_response"`
	Truncated         int    `gorm:"column:truncated"`
}

func (Interaction) TableName() string { return "interactions" }

// AutoMigrate creates the interactions table if it does not already exist.
// Grounded in the teacher's models.AutoMigrate (models/schema.go), narrowed
// to the single table this system owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Interaction{})
}
