package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nebari-dev/labgate/internal/audit"
	"github.com/nebari-dev/labgate/internal/calendar"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/store"
)

// MetricsService stores daily lab metric snapshots.
type MetricsService struct {
	store *store.Store
	audit *audit.Recorder
	now   func() time.Time
}

// NewMetricsService creates a MetricsService.
func NewMetricsService(st *store.Store, rec *audit.Recorder) *MetricsService {
	return &MetricsService{store: st, audit: rec, now: time.Now}
}

// MetricsInput is one snapshot to save. A zero AsOf means today.
type MetricsInput struct {
	LabID       uint
	AsOf        time.Time
	Utilization int
	Condition   int
	Activity    int
}

// ClampPercent forces v into [0, 100].
func ClampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// SaveMetrics upserts the snapshot for (lab, day), clamping every value.
func (s *MetricsService) SaveMetrics(ctx context.Context, actor Actor, in MetricsInput) (*models.LabMetrics, error) {
	if err := requireID("lab_id", in.LabID); err != nil {
		return nil, err
	}

	asOf := calendar.Truncate(in.AsOf)
	if in.AsOf.IsZero() {
		asOf = calendar.Truncate(s.now().UTC())
	}
	m := &models.LabMetrics{
		LabID:       in.LabID,
		AsOf:        asOf,
		Utilization: ClampPercent(in.Utilization),
		Condition:   ClampPercent(in.Condition),
		Activity:    ClampPercent(in.Activity),
	}

	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		if _, err := tx.GetLab(ctx, in.LabID); err != nil {
			return lookupErr(err, "lab", in.LabID)
		}
		if err := tx.UpsertMetrics(ctx, m); err != nil {
			return fmt.Errorf("save metrics: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.event(audit.ActionSaveMetrics, audit.EntityLabMetrics,
		fmt.Sprintf("%d:%s", m.LabID, calendar.Format(m.AsOf)),
		map[string]interface{}{
			"utilization": m.Utilization,
			"condition":   m.Condition,
			"activity":    m.Activity,
		}))
	return m, nil
}

// LatestByLab returns the newest snapshot of every lab that has one, ordered by lab id.
func (s *MetricsService) LatestByLab(ctx context.Context) ([]models.LabMetrics, error) {
	byLab, err := s.store.LatestMetricsByLab(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest metrics: %w", err)
	}
	out := make([]models.LabMetrics, 0, len(byLab))
	for _, m := range byLab {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LabID < out[j].LabID })
	return out, nil
}
