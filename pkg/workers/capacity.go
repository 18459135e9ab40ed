package workers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sys/unix"

	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/models"
	"github.com/photosync-io/photosync/pkg/quota"
	"github.com/photosync-io/photosync/pkg/store"
)

// capacitySafetyMargin keeps a buffer of free space out of the
// allocation budget (10 GB).
const capacitySafetyMargin = 10 * quota.BytesPerGB

// perPlanReserveBytes is extra headroom budgeted per sold plan beyond
// its nominal size (1 GB).
const perPlanReserveBytes = quota.BytesPerGB

// CapacityReport is the JSON the reporter rewrites atomically. The app
// reads it to decide whether this server can accept new accounts of a
// given tier.
type CapacityReport struct {
	Service        string         `json:"service"`
	UpdatedAt      int64          `json:"updatedAt"`
	TotalBytes     int64          `json:"totalBytes"`
	FreeBytes      int64          `json:"freeBytes"`
	AllocatedBytes int64          `json:"allocatedBytes"`
	Tiers          []CapacityTier `json:"tiers"`
}

// CapacityTier reports admission for one plan size.
type CapacityTier struct {
	PlanGB    int  `json:"planGb"`
	CanCreate bool `json:"canCreate"`
}

// CapacityReporter computes free space and allocation budget.
type CapacityReporter struct {
	store  *store.Store
	layout *layout.Layout

	// statfs is swappable for tests.
	statfs func(path string) (free, total int64, err error)
}

// NewCapacityReporter creates the reporter.
func NewCapacityReporter(s *store.Store, l *layout.Layout) *CapacityReporter {
	return &CapacityReporter{store: s, layout: l, statfs: statfsOS}
}

func statfsOS(path string) (int64, int64, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return 0, 0, err
	}
	return int64(fs.Bavail) * fs.Bsize, int64(fs.Blocks) * fs.Bsize, nil
}

// Run computes the report and writes it atomically so readers never see
// a torn file.
func (c *CapacityReporter) Run(ctx context.Context) error {
	free, total, err := c.statfs(c.layout.CloudDir)
	if err != nil {
		return err
	}

	plans, err := c.store.ListPlans(ctx)
	if err != nil {
		return err
	}

	var allocated int64
	for _, p := range plans {
		if p.Status == models.PlanStatusDeleted || p.PlanGB == nil {
			continue
		}
		allocated += int64(*p.PlanGB)*quota.BytesPerGB + perPlanReserveBytes
	}

	report := &CapacityReport{
		Service:        "photosync",
		UpdatedAt:      time.Now().UnixMilli(),
		TotalBytes:     total,
		FreeBytes:      free,
		AllocatedBytes: allocated,
	}
	budget := total - allocated - capacitySafetyMargin
	for _, gb := range models.ValidPlanGB {
		tierBytes := int64(gb) * quota.BytesPerGB
		canCreate := free-capacitySafetyMargin > tierBytes && budget > tierBytes
		report.Tiers = append(report.Tiers, CapacityTier{PlanGB: gb, CanCreate: canCreate})
	}

	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return renameio.WriteFile(c.layout.CapacityJSONPath, data, 0o644)
}
