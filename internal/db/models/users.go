package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Tier represents a user's subscription tier.
type Tier string

// Subscription tier constants
const (
	// TierFree is the default tier
	TierFree Tier = "free"
	// TierMid is the paid mid tier
	TierMid Tier = "tier_mid"
	// TierTop is the paid top tier
	TierTop Tier = "tier_top"
)

// ParseTier converts a string to a Tier
func ParseTier(str string) (Tier, error) {
	switch str {
	case string(TierFree):
		return TierFree, nil
	case string(TierMid):
		return TierMid, nil
	case string(TierTop):
		return TierTop, nil
	default:
		return "", fmt.Errorf("invalid tier: %s", str)
	}
}

// UnboundedLimit marks a counter with no cap.
const UnboundedLimit = -1

// User represents a user in the system. The core reads identity, tier and
// counters; account management itself lives outside the core.
type User struct {
	gorm.Model
	Username string `json:"username" gorm:"not null;unique"`
	Email    string `json:"email" gorm:""`
	APIToken string `json:"-" gorm:"index"`
	Tier     Tier   `json:"tier" gorm:"not null;default:'free'"`

	DeployCount   int       `json:"deploy_count" gorm:"not null;default:0"`
	DeployLimit   int       `json:"deploy_limit" gorm:"not null;default:5"`
	DeployResetAt time.Time `json:"deploy_reset_at"`

	FunctionTestCount   int       `json:"function_test_count" gorm:"not null;default:0"`
	FunctionTestLimit   int       `json:"function_test_limit" gorm:"not null;default:2"`
	FunctionTestResetAt time.Time `json:"function_test_reset_at"`
}

// ValidateOwnerID ensures the ownerID is valid
func ValidateOwnerID(ownerID uint) error {
	if ownerID == 0 {
		return fmt.Errorf("owner_id cannot be 0")
	}
	return nil
}
