package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nebari-dev/labgate/internal/audit"
	"github.com/nebari-dev/labgate/internal/compliance"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/store"
)

// AccessService drives the LabAccess state machine. It is the only place
// that turns a compliance verdict into a state change.
type AccessService struct {
	store  *store.Store
	engine *compliance.Engine
	audit  *audit.Recorder
	logger *slog.Logger
	now    func() time.Time
}

// NewAccessService creates an AccessService.
func NewAccessService(st *store.Store, engine *compliance.Engine, rec *audit.Recorder, logger *slog.Logger) *AccessService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessService{store: st, engine: engine, audit: rec, logger: logger, now: time.Now}
}

// AccessDecision is the outcome of a manual approve or revoke.
type AccessDecision struct {
	Access  *models.LabAccess   `json:"access"`
	Changed bool                `json:"changed"`
	Verdict *compliance.Verdict `json:"verdict,omitempty"`
}

// AutocheckResult summarises one reconciliation sweep. Only transitions that
// actually changed a row are counted.
type AutocheckResult struct {
	Activated int `json:"activated"`
	Revoked   int `json:"revoked"`
	Checked   int `json:"checked"`
	Failed    int `json:"failed"`
}

// Map renders the result for JSON columns.
func (r AutocheckResult) Map() map[string]interface{} {
	return map[string]interface{}{
		"activated": r.Activated,
		"revoked":   r.Revoked,
		"checked":   r.Checked,
		"failed":    r.Failed,
	}
}

func pairID(engineerID, labID uint) string {
	return fmt.Sprintf("%d:%d", engineerID, labID)
}

func strPtr(s string) *string { return &s }

// withRetry runs fn once more when it fails on a unique-constraint race.
func withRetry(fn func() error) error {
	err := fn()
	if store.IsDuplicate(err) {
		err = fn()
	}
	return err
}

func (s *AccessService) requirePair(ctx context.Context, st *store.Store, engineerID, labID uint) error {
	if err := requireID("engineer_id", engineerID); err != nil {
		return err
	}
	if err := requireID("lab_id", labID); err != nil {
		return err
	}
	if _, err := st.GetEngineer(ctx, engineerID); err != nil {
		return lookupErr(err, "engineer", engineerID)
	}
	if _, err := st.GetLab(ctx, labID); err != nil {
		return lookupErr(err, "lab", labID)
	}
	return nil
}

// RequestAccess opens a pending request for the pair.
func (s *AccessService) RequestAccess(ctx context.Context, actor Actor, engineerID, labID uint) (*models.LabAccess, error) {
	var row *models.LabAccess
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := s.requirePair(ctx, tx, engineerID, labID); err != nil {
			return err
		}
		row = &models.LabAccess{
			EngineerID:  engineerID,
			LabID:       labID,
			Status:      models.AccessPending,
			ReasonCode:  strPtr(models.ReasonRequested),
			EffectiveAt: s.now().UTC(),
		}
		return tx.Create(ctx, row)
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, &ConflictError{Message: "a pending request already exists for this engineer and lab"}
	}
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.event(audit.ActionRequestAccess, audit.EntityLabAccess, pairID(engineerID, labID),
		map[string]interface{}{"status": string(models.AccessPending)}))
	return row, nil
}

// CancelRequest withdraws the most recent pending request of the pair.
// A previous revoked row of the pair is replaced so the state stays unique.
func (s *AccessService) CancelRequest(ctx context.Context, actor Actor, engineerID, labID uint) (*models.LabAccess, error) {
	if err := requireID("engineer_id", engineerID); err != nil {
		return nil, err
	}
	if err := requireID("lab_id", labID); err != nil {
		return nil, err
	}

	var row *models.LabAccess
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		pending, err := tx.FindAccess(ctx, engineerID, labID, models.AccessPending)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("pending request for %s: %w", pairID(engineerID, labID), ErrNotFound)
		}
		if err != nil {
			return err
		}

		if old, err := tx.FindAccess(ctx, engineerID, labID, models.AccessRevoked); err == nil {
			if err := tx.DB().WithContext(ctx).Delete(old).Error; err != nil {
				return fmt.Errorf("replace revoked row: %w", err)
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		pending.Status = models.AccessRevoked
		pending.ReasonCode = strPtr(models.ReasonUserCancelled)
		pending.EffectiveAt = s.now().UTC()
		row = pending
		return tx.Save(ctx, pending)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.event(audit.ActionCancelRequest, audit.EntityLabAccess, pairID(engineerID, labID),
		map[string]interface{}{"status": string(models.AccessRevoked)}))
	return row, nil
}

// EnsureState makes status the single state of the pair. An existing row in
// that exact state is returned untouched; otherwise every row of the pair is
// replaced by one fresh row. changed reports whether anything was written.
func (s *AccessService) EnsureState(ctx context.Context, engineerID, labID uint, status models.AccessStatus, reason string) (*models.LabAccess, bool, error) {
	var (
		row     *models.LabAccess
		changed bool
	)
	err := withRetry(func() error {
		return s.store.Transaction(ctx, func(tx *store.Store) error {
			var err error
			row, changed, err = s.ensureState(ctx, tx, engineerID, labID, status, reason)
			return err
		})
	})
	if err != nil {
		return nil, false, err
	}
	return row, changed, nil
}

func (s *AccessService) ensureState(ctx context.Context, tx *store.Store, engineerID, labID uint, status models.AccessStatus, reason string) (*models.LabAccess, bool, error) {
	if !status.Valid() {
		return nil, false, invalid("invalid access status %q", status)
	}

	existing, err := tx.FindAccess(ctx, engineerID, labID, status)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	if _, err := tx.DeleteAccessForPair(ctx, engineerID, labID); err != nil {
		return nil, false, fmt.Errorf("clear access rows of %s: %w", pairID(engineerID, labID), err)
	}

	row := &models.LabAccess{
		EngineerID:  engineerID,
		LabID:       labID,
		Status:      status,
		EffectiveAt: s.now().UTC(),
	}
	if reason != "" {
		row.ReasonCode = strPtr(reason)
	}
	if err := tx.Create(ctx, row); err != nil {
		return nil, false, fmt.Errorf("insert %s access row: %w", status, err)
	}
	return row, true, nil
}

// Approve grants access when the engineer is compliant today and otherwise
// keeps the pair pending with reason not_compliant.
func (s *AccessService) Approve(ctx context.Context, actor Actor, engineerID, labID uint) (*AccessDecision, error) {
	var d *AccessDecision
	err := withRetry(func() error {
		return s.store.Transaction(ctx, func(tx *store.Store) error {
			if err := s.requirePair(ctx, tx, engineerID, labID); err != nil {
				return err
			}
			verdict, err := s.engine.With(tx).Evaluate(ctx, engineerID, labID, time.Time{})
			if err != nil {
				return err
			}

			status, reason := models.AccessActive, models.ReasonApproved
			if !verdict.Compliant {
				status, reason = models.AccessPending, models.ReasonNotCompliant
			}
			row, changed, err := s.ensureState(ctx, tx, engineerID, labID, status, reason)
			if err != nil {
				return err
			}
			d = &AccessDecision{Access: row, Changed: changed, Verdict: verdict}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]interface{}{"status": string(d.Access.Status), "mode": "manual"}
	if !d.Verdict.Compliant {
		meta["reason"] = models.ReasonNotCompliant
	}
	s.audit.Record(ctx, actor.event(audit.ActionApproveAccess, audit.EntityLabAccess, pairID(engineerID, labID), meta))
	return d, nil
}

// Revoke removes access regardless of compliance.
func (s *AccessService) Revoke(ctx context.Context, actor Actor, engineerID, labID uint) (*AccessDecision, error) {
	var d *AccessDecision
	err := withRetry(func() error {
		return s.store.Transaction(ctx, func(tx *store.Store) error {
			if err := s.requirePair(ctx, tx, engineerID, labID); err != nil {
				return err
			}
			row, changed, err := s.ensureState(ctx, tx, engineerID, labID, models.AccessRevoked, models.ReasonManualRevoke)
			if err != nil {
				return err
			}
			d = &AccessDecision{Access: row, Changed: changed}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.event(audit.ActionRevokeAccess, audit.EntityLabAccess, pairID(engineerID, labID),
		map[string]interface{}{"status": string(models.AccessRevoked), "mode": "manual"}))
	return d, nil
}

// Autocheck re-derives the state of every pending or active pair from today's
// verdict. Each pair commits on its own; a failing pair is logged, counted and
// skipped. When ctx is cancelled the sweep stops between pairs and returns the
// partial result with the context error.
func (s *AccessService) Autocheck(ctx context.Context, actor Actor) (AutocheckResult, error) {
	var res AutocheckResult

	rows, err := s.store.ListAccessByStatus(ctx, models.AccessPending, models.AccessActive)
	if err != nil {
		return res, fmt.Errorf("list access rows: %w", err)
	}

	for _, snap := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		transition, checked, err := s.autocheckRow(ctx, snap.ID)
		if err != nil {
			res.Failed++
			s.logger.Error("Autocheck failed for pair",
				"engineer_id", snap.EngineerID,
				"lab_id", snap.LabID,
				"error", err)
			continue
		}
		if checked {
			res.Checked++
		}

		switch transition {
		case models.AccessActive:
			res.Activated++
			s.audit.Record(ctx, actor.event(audit.ActionAutoActivate, audit.EntityLabAccess, pairID(snap.EngineerID, snap.LabID),
				map[string]interface{}{"status": string(models.AccessActive), "mode": "auto"}))
		case models.AccessRevoked:
			res.Revoked++
			s.audit.Record(ctx, actor.event(audit.ActionAutoRevoke, audit.EntityLabAccess, pairID(snap.EngineerID, snap.LabID),
				map[string]interface{}{"status": string(models.AccessRevoked), "mode": "auto", "reason": models.ReasonOutOfCompliance}))
		}
	}

	s.logger.Info("Autocheck finished",
		"checked", res.Checked,
		"activated", res.Activated,
		"revoked", res.Revoked,
		"failed", res.Failed)
	return res, nil
}

// autocheckRow reconciles the pair owning access row id. It returns the state
// the pair moved to, or "" when nothing changed.
func (s *AccessService) autocheckRow(ctx context.Context, id uint) (models.AccessStatus, bool, error) {
	var (
		transition models.AccessStatus
		checked    bool
	)
	err := withRetry(func() error {
		transition, checked = "", false
		return s.store.Transaction(ctx, func(tx *store.Store) error {
			row, err := tx.GetAccess(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				// replaced by an earlier row of the same pair or by a concurrent writer
				return nil
			}
			if err != nil {
				return err
			}
			if row.Status != models.AccessPending && row.Status != models.AccessActive {
				return nil
			}

			ok, err := s.engine.With(tx).IsCompliantForLab(ctx, row.EngineerID, row.LabID, time.Time{})
			if err != nil {
				return err
			}
			checked = true

			var (
				target models.AccessStatus
				reason string
			)
			switch {
			case row.Status == models.AccessPending && ok:
				target, reason = models.AccessActive, models.ReasonAutoCompliant
			case row.Status == models.AccessActive && !ok:
				target, reason = models.AccessRevoked, models.ReasonOutOfCompliance
			default:
				return nil
			}

			_, changed, err := s.ensureState(ctx, tx, row.EngineerID, row.LabID, target, reason)
			if err != nil {
				return err
			}
			if changed {
				transition = target
			}
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return transition, checked, nil
}
