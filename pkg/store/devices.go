package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/photosync-io/photosync/pkg/models"
)

// UpsertDevice registers a device on first login and refreshes its
// last-seen time on subsequent logins. The (user_id, device_uuid) pair is
// unique; the server never reissues a device uuid.
func (s *Store) UpsertDevice(ctx context.Context, userID uint, deviceUUID, name string) (*models.Device, error) {
	now := time.Now()
	device := &models.Device{
		UserID:     userID,
		DeviceUUID: deviceUUID,
		Name:       name,
		CreatedAt:  now,
		LastSeenAt: now,
	}

	assignments := map[string]any{"last_seen_at": now}
	if name != "" {
		assignments["name"] = name
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "device_uuid"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(device).Error
	if err != nil {
		return nil, err
	}

	var out models.Device
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND device_uuid = ?", userID, deviceUUID).
		First(&out).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrDeviceNotFound)
	}
	return &out, nil
}

// ListDevices returns all devices registered for a user.
func (s *Store) ListDevices(ctx context.Context, userID uint) ([]*models.Device, error) {
	var devices []*models.Device
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// ListDeviceUUIDs returns the device uuids for a user. The sweeper uses
// these to locate every candidate tenant directory.
func (s *Store) ListDeviceUUIDs(ctx context.Context, userID uint) ([]string, error) {
	var uuids []string
	err := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("user_id = ?", userID).
		Pluck("device_uuid", &uuids).Error
	if err != nil {
		return nil, err
	}
	return uuids, nil
}

// touchDevice updates last_seen_at without failing the caller on miss.
func (s *Store) touchDevice(ctx context.Context, userID uint, deviceUUID string) {
	s.db.WithContext(ctx).Model(&models.Device{}).
		Where("user_id = ? AND device_uuid = ?", userID, deviceUUID).
		Update("last_seen_at", time.Now())
}
