package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/photosync-io/photosync/pkg/models"
)

// GetDeviceState reads the opaque per-(user, device) state blob.
func (s *Store) GetDeviceState(ctx context.Context, userID uint, deviceUUID string) (*models.CloudDeviceState, error) {
	var state models.CloudDeviceState
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND device_uuid = ?", userID, deviceUUID).
		First(&state).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrStateNotFound)
	}
	return &state, nil
}

// PutDeviceState replaces the state blob for a (user, device) pair and
// refreshes the device's last-seen time; a state save is the device
// checking in.
func (s *Store) PutDeviceState(ctx context.Context, userID uint, deviceUUID, stateJSON string) error {
	state := &models.CloudDeviceState{
		UserID:     userID,
		DeviceUUID: deviceUUID,
		StateJSON:  stateJSON,
		UpdatedAt:  time.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "device_uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{"state_json", "updated_at"}),
	}).Create(state).Error
	if err != nil {
		return err
	}
	s.touchDevice(ctx, userID, deviceUUID)
	return nil
}
