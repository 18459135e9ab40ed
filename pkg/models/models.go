// Package models defines the persistent entities of the backup service.
//
// All entities are owned by a User. The filesystem tree is the
// authoritative store for chunk and manifest bytes; these rows form the
// secondary index that the reconciler worker keeps aligned with disk.
package models

import "time"

// User is a registered account. The password verifier is a bcrypt hash;
// the stable UserUUID never changes after registration.
type User struct {
	ID           uint   `gorm:"primaryKey"`
	UserUUID     string `gorm:"uniqueIndex;size:36"`
	Email        string `gorm:"uniqueIndex;size:255"`
	PasswordHash string `gorm:"size:255"`
	CreatedAt    time.Time
}

// Device is a client device registered on first successful login.
// DeviceUUID is derived client-side and never reissued by the server.
type Device struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     uint   `gorm:"uniqueIndex:idx_user_device"`
	DeviceUUID string `gorm:"uniqueIndex:idx_user_device;size:128"`
	Name       string `gorm:"size:255"`
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// File is a classic-mode plaintext object. A row exists iff the object
// exists on disk under uploads/<device_uuid>/<filename>.
type File struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"uniqueIndex:idx_user_filename;uniqueIndex:idx_user_filehash"`
	Filename  string `gorm:"uniqueIndex:idx_user_filename;size:512"`
	Mime      string `gorm:"size:255"`
	Size      int64
	FileHash  string `gorm:"uniqueIndex:idx_user_filehash;size:64"`
	CreatedAt time.Time
}

// CloudChunk indexes one content-addressed ciphertext chunk.
// ChunkID equals the lowercase hex SHA-256 of the ciphertext.
type CloudChunk struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"uniqueIndex:idx_user_chunk"`
	ChunkID   string `gorm:"uniqueIndex:idx_user_chunk;size:64"`
	Size      int64
	CreatedAt time.Time
}

// CloudDeviceState is an opaque per-(user, device) JSON blob, at most
// 100 KiB. The server never interprets its contents.
type CloudDeviceState struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     uint   `gorm:"uniqueIndex:idx_user_devstate"`
	DeviceUUID string `gorm:"uniqueIndex:idx_user_devstate;size:128"`
	StateJSON  string
	UpdatedAt  time.Time
}

// PlanStatus is the stored subscription state. Transitions move forward
// through none -> trial -> (active <-> grace) -> deleted; trial_expired is
// absorbing until an external purchase event flips it to active.
type PlanStatus string

const (
	PlanStatusNone         PlanStatus = "none"
	PlanStatusTrial        PlanStatus = "trial"
	PlanStatusTrialExpired PlanStatus = "trial_expired"
	PlanStatusActive       PlanStatus = "active"
	PlanStatusGrace        PlanStatus = "grace"
	PlanStatusDeleted      PlanStatus = "deleted"
)

// ValidPlanGB lists the sellable plan tiers in gigabytes.
var ValidPlanGB = []int{100, 200, 400, 1000}

// IsValidPlanGB reports whether gb is a sellable tier.
func IsValidPlanGB(gb int) bool {
	for _, v := range ValidPlanGB {
		if v == gb {
			return true
		}
	}
	return false
}

// UserPlan holds the subscription row; exactly one per user.
// All timestamps are milliseconds since epoch.
type UserPlan struct {
	ID         uint       `gorm:"primaryKey"`
	UserID     uint       `gorm:"uniqueIndex"`
	PlanGB     *int       `gorm:"column:plan_gb"`
	Status     PlanStatus `gorm:"size:32;default:none"`
	TrialUntil *int64
	ExpiresAt  *int64
	GraceUntil *int64
	DeletedAt  *int64

	// AppUserID binds the row to the payment processor's app-user id,
	// set on login and matched by webhook events.
	AppUserID string `gorm:"index;size:255"`
	ProductID string `gorm:"size:255"`

	UpdatedAt time.Time
}

// AllModels returns every model for GORM auto-migration.
func AllModels() []any {
	return []any{
		&User{},
		&Device{},
		&File{},
		&CloudChunk{},
		&CloudDeviceState{},
		&UserPlan{},
	}
}
