package models

import (
	"fmt"
	"time"
)

// Project is an owned source-tree container. The core only needs the owner
// relation for authorization; file CRUD lives outside the core.
type Project struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	OwnerID   uint      `json:"owner_id" gorm:"not null;index"`
	Name      string    `json:"name" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate ensures that the project data is valid
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("project id cannot be empty")
	}
	if err := ValidateOwnerID(p.OwnerID); err != nil {
		return err
	}
	return nil
}
