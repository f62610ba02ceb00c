package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/meghanandan/caseflow/internal/apperrors"
	"github.com/meghanandan/caseflow/internal/repository"
)

// LicenceStore provides the atomic pool primitives the allocator builds on.
type LicenceStore interface {
	ActiveType(ctx context.Context, orgCode, licenceType string) (*repository.LicenceTypeInfo, error)
	UpsertType(ctx context.Context, t *repository.LicenceTypeInfo) error
	ActiveEntryFor(ctx context.Context, orgCode, empID, licenceType string) (*repository.LicencePoolEntry, error)
	ClaimLowestFree(ctx context.Context, orgCode, empID, licenceType, assignedBy string) (*repository.LicencePoolEntry, error)
	Release(ctx context.Context, orgCode, empID, licenceType string) (bool, error)
	ReleaseOtherTypes(ctx context.Context, orgCode, empID, keepType string) (int, error)
	CountEntries(ctx context.Context, orgCode, licenceType string) (total, assigned int, err error)
	HighestNumber(ctx context.Context, orgCode, licenceType string) (int, error)
	InsertEntries(ctx context.Context, orgCode, licenceType string, numbers []string) error
	DeleteUnassignedFromTop(ctx context.Context, orgCode, licenceType string, count int) (int, error)
	Usage(ctx context.Context, orgCode string) ([]*repository.LicenceUsage, error)
}

// LicenceAllocator manages the numbered licence pools: per-employee
// assignment, release, pool sizing and the remaining-licences report.
// An employee holds at most one active licence across all types of an
// org; assigning a new type releases the old one first.
type LicenceAllocator struct {
	db    TxRunner
	store LicenceStore
	audit AuditStore
	log   zerolog.Logger
}

// NewLicenceAllocator creates a LicenceAllocator.
func NewLicenceAllocator(db TxRunner, store LicenceStore, audit AuditStore, log zerolog.Logger) *LicenceAllocator {
	return &LicenceAllocator{db: db, store: store, audit: audit, log: log}
}

// Assign gives an employee the lowest-numbered free slot of a licence
// type. Re-assigning the type they already hold returns the existing
// slot unchanged.
func (s *LicenceAllocator) Assign(ctx context.Context, orgCode, empID, licenceType, assignedBy string) (*repository.LicencePoolEntry, error) {
	licenceType = normalizeLicenceType(licenceType)
	if licenceType == "" {
		return nil, apperrors.InvalidInput("licence_type", "must not be empty")
	}
	if strings.TrimSpace(empID) == "" {
		return nil, apperrors.InvalidInput("employee_id", "must not be empty")
	}

	var entry *repository.LicencePoolEntry
	var released int
	err := s.db.InTransaction(ctx, func(ctx context.Context) error {
		master, err := s.store.ActiveType(ctx, orgCode, licenceType)
		if err != nil {
			return err
		}
		if master == nil {
			return apperrors.Newf(apperrors.CodeLicenceTypeInvalidOrExpired,
				"licence type %s is not purchased or not currently valid for org %s", licenceType, orgCode)
		}

		released, err = s.store.ReleaseOtherTypes(ctx, orgCode, empID, licenceType)
		if err != nil {
			return err
		}

		existing, err := s.store.ActiveEntryFor(ctx, orgCode, empID, licenceType)
		if err != nil {
			return err
		}
		if existing != nil {
			entry = existing
			return nil
		}

		claimed, err := s.store.ClaimLowestFree(ctx, orgCode, empID, licenceType, assignedBy)
		if err != nil {
			return err
		}
		if claimed == nil {
			total, assigned, err := s.store.CountEntries(ctx, orgCode, licenceType)
			if err != nil {
				return err
			}
			if total == 0 {
				return apperrors.Newf(apperrors.CodeLicencePoolExhausted,
					"no %s licences purchased for org %s", licenceType, orgCode)
			}
			return apperrors.Newf(apperrors.CodeLicencePoolExhausted,
				"all %d %s licences are assigned for org %s (%d in use)", total, licenceType, orgCode, assigned)
		}
		entry = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}

	if released > 0 {
		s.log.Info().
			Str("org_code", orgCode).
			Str("employee_id", empID).
			Str("licence_type", licenceType).
			Int("released", released).
			Msg("Released other licence types before assignment")
	}
	s.appendAudit(ctx, orgCode, entry.LicenceNumber, "licence_assigned", assignedBy, map[string]any{
		"employee_id":  empID,
		"licence_type": licenceType,
	})
	return entry, nil
}

// Release frees the slot an employee holds for a licence type.
func (s *LicenceAllocator) Release(ctx context.Context, orgCode, empID, licenceType, releasedBy string) error {
	licenceType = normalizeLicenceType(licenceType)

	err := s.db.InTransaction(ctx, func(ctx context.Context) error {
		freed, err := s.store.Release(ctx, orgCode, empID, licenceType)
		if err != nil {
			return err
		}
		if !freed {
			return apperrors.NotFound("licence assignment", empID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.appendAudit(ctx, orgCode, licenceType, "licence_released", releasedBy, map[string]any{
		"employee_id": empID,
	})
	return nil
}

// EnsurePool reconciles a type's slot pool with its purchased count:
// growing mints new slot numbers above the current highest, shrinking
// removes the highest free slots only. A shrink that would require
// deleting assigned slots fails.
func (s *LicenceAllocator) EnsurePool(ctx context.Context, t *repository.LicenceTypeInfo) error {
	t.LicenceType = normalizeLicenceType(t.LicenceType)
	if t.LicenceType == "" {
		return apperrors.InvalidInput("licence_type", "must not be empty")
	}
	if t.Purchased < 0 {
		return apperrors.InvalidInput("purchased", "must not be negative")
	}

	return s.db.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.UpsertType(ctx, t); err != nil {
			return err
		}

		total, assigned, err := s.store.CountEntries(ctx, t.OrgCode, t.LicenceType)
		if err != nil {
			return err
		}

		switch {
		case t.Purchased > total:
			high, err := s.store.HighestNumber(ctx, t.OrgCode, t.LicenceType)
			if err != nil {
				return err
			}
			numbers := make([]string, 0, t.Purchased-total)
			for n := high + 1; len(numbers) < t.Purchased-total; n++ {
				numbers = append(numbers, repository.FormatLicenceNumber(t.LicenceType, n))
			}
			if err := s.store.InsertEntries(ctx, t.OrgCode, t.LicenceType, numbers); err != nil {
				return err
			}
			s.log.Info().
				Str("org_code", t.OrgCode).
				Str("licence_type", t.LicenceType).
				Int("added", len(numbers)).
				Msg("Licence pool grown")

		case t.Purchased < total:
			if assigned > t.Purchased {
				return apperrors.Newf(apperrors.CodeConflict,
					"cannot shrink %s pool to %d: %d licences are assigned", t.LicenceType, t.Purchased, assigned)
			}
			deleted, err := s.store.DeleteUnassignedFromTop(ctx, t.OrgCode, t.LicenceType, total-t.Purchased)
			if err != nil {
				return err
			}
			if deleted < total-t.Purchased {
				return apperrors.Newf(apperrors.CodeConflict,
					"cannot shrink %s pool to %d: only %d free slots available", t.LicenceType, t.Purchased, deleted)
			}
			s.log.Info().
				Str("org_code", t.OrgCode).
				Str("licence_type", t.LicenceType).
				Int("removed", deleted).
				Msg("Licence pool shrunk")
		}
		return nil
	})
}

// Remaining returns the per-type usage report for an org.
func (s *LicenceAllocator) Remaining(ctx context.Context, orgCode string) ([]*repository.LicenceUsage, error) {
	return s.store.Usage(ctx, orgCode)
}

func (s *LicenceAllocator) appendAudit(ctx context.Context, orgCode, objectID, action, actor string, after map[string]any) {
	rec := &repository.AuditRecord{
		OrgCode:    orgCode,
		ObjectType: "licence",
		ObjectID:   objectID,
		Action:     action,
		Actor:      actor,
		After:      after,
	}
	if err := s.audit.Append(ctx, rec); err != nil {
		s.log.Warn().Err(err).
			Str("org_code", orgCode).
			Str("action", action).
			Msg("Failed to write audit log entry")
	}
}

func normalizeLicenceType(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
