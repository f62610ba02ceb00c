package service

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghanandan/caseflow/internal/apperrors"
	"github.com/meghanandan/caseflow/internal/repository"
)

// fakeLicenceStore keeps pools in memory with the same semantics as the
// SQL layer: slots ordered by number, claims take the lowest free one.
type fakeLicenceStore struct {
	types   map[string]*repository.LicenceTypeInfo
	entries []*repository.LicencePoolEntry
}

func newFakeLicenceStore() *fakeLicenceStore {
	return &fakeLicenceStore{types: map[string]*repository.LicenceTypeInfo{}}
}

func (f *fakeLicenceStore) addType(licenceType string, purchased, slots int) {
	now := time.Now()
	f.types[licenceType] = &repository.LicenceTypeInfo{
		OrgCode:     "ORG1",
		LicenceType: licenceType,
		Purchased:   purchased,
		FromDate:    now.AddDate(0, -1, 0),
		ToDate:      now.AddDate(1, 0, 0),
	}
	for n := 1; n <= slots; n++ {
		f.entries = append(f.entries, &repository.LicencePoolEntry{
			OrgCode:       "ORG1",
			LicenceType:   licenceType,
			LicenceNumber: repository.FormatLicenceNumber(licenceType, n),
		})
	}
}

func (f *fakeLicenceStore) expireType(licenceType string) {
	t := f.types[licenceType]
	t.FromDate = time.Now().AddDate(-2, 0, 0)
	t.ToDate = time.Now().AddDate(-1, 0, 0)
}

func (f *fakeLicenceStore) ActiveType(_ context.Context, _, licenceType string) (*repository.LicenceTypeInfo, error) {
	t, ok := f.types[licenceType]
	if !ok {
		return nil, nil
	}
	now := time.Now()
	grace := t.ToDate.AddDate(0, 0, t.GraceDays)
	if now.Before(t.FromDate) || now.After(grace) {
		return nil, nil
	}
	return t, nil
}

func (f *fakeLicenceStore) UpsertType(_ context.Context, t *repository.LicenceTypeInfo) error {
	cp := *t
	f.types[t.LicenceType] = &cp
	return nil
}

func (f *fakeLicenceStore) ActiveEntryFor(_ context.Context, _, empID, licenceType string) (*repository.LicencePoolEntry, error) {
	for _, e := range f.entries {
		if e.LicenceType == licenceType && e.AssigneeID != nil && *e.AssigneeID == empID && e.Active {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeLicenceStore) ClaimLowestFree(_ context.Context, _, empID, licenceType, assignedBy string) (*repository.LicencePoolEntry, error) {
	var free []*repository.LicencePoolEntry
	for _, e := range f.entries {
		if e.LicenceType == licenceType && e.AssigneeID == nil {
			free = append(free, e)
		}
	}
	if len(free) == 0 {
		return nil, nil
	}
	sort.Slice(free, func(i, j int) bool { return free[i].LicenceNumber < free[j].LicenceNumber })
	e := free[0]
	now := time.Now()
	e.AssigneeID = &empID
	e.Active = true
	e.FromDate = &now
	e.AssignedBy = &assignedBy
	return e, nil
}

func (f *fakeLicenceStore) Release(_ context.Context, _, empID, licenceType string) (bool, error) {
	freed := false
	for _, e := range f.entries {
		if e.LicenceType == licenceType && e.AssigneeID != nil && *e.AssigneeID == empID {
			e.AssigneeID = nil
			e.Active = false
			e.FromDate = nil
			e.AssignedBy = nil
			freed = true
		}
	}
	return freed, nil
}

func (f *fakeLicenceStore) ReleaseOtherTypes(_ context.Context, _, empID, keepType string) (int, error) {
	released := 0
	for _, e := range f.entries {
		if e.LicenceType != keepType && e.AssigneeID != nil && *e.AssigneeID == empID {
			e.AssigneeID = nil
			e.Active = false
			e.FromDate = nil
			e.AssignedBy = nil
			released++
		}
	}
	return released, nil
}

func (f *fakeLicenceStore) CountEntries(_ context.Context, _, licenceType string) (total, assigned int, err error) {
	for _, e := range f.entries {
		if e.LicenceType != licenceType {
			continue
		}
		total++
		if e.AssigneeID != nil {
			assigned++
		}
	}
	return total, assigned, nil
}

func (f *fakeLicenceStore) HighestNumber(_ context.Context, _, licenceType string) (int, error) {
	high := 0
	for _, e := range f.entries {
		if e.LicenceType != licenceType {
			continue
		}
		suffix := e.LicenceNumber[strings.LastIndex(e.LicenceNumber, "-")+1:]
		n := 0
		for _, c := range suffix {
			n = n*10 + int(c-'0')
		}
		if n > high {
			high = n
		}
	}
	return high, nil
}

func (f *fakeLicenceStore) InsertEntries(_ context.Context, orgCode, licenceType string, numbers []string) error {
	for _, num := range numbers {
		f.entries = append(f.entries, &repository.LicencePoolEntry{
			OrgCode:       orgCode,
			LicenceType:   licenceType,
			LicenceNumber: num,
		})
	}
	return nil
}

func (f *fakeLicenceStore) DeleteUnassignedFromTop(_ context.Context, _, licenceType string, count int) (int, error) {
	var free []*repository.LicencePoolEntry
	for _, e := range f.entries {
		if e.LicenceType == licenceType && e.AssigneeID == nil {
			free = append(free, e)
		}
	}
	sort.Slice(free, func(i, j int) bool { return free[i].LicenceNumber > free[j].LicenceNumber })
	if count > len(free) {
		count = len(free)
	}
	doomed := map[string]bool{}
	for _, e := range free[:count] {
		doomed[e.LicenceNumber] = true
	}
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.LicenceType == licenceType && doomed[e.LicenceNumber] {
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return count, nil
}

func (f *fakeLicenceStore) Usage(_ context.Context, _ string) ([]*repository.LicenceUsage, error) {
	var usage []*repository.LicenceUsage
	for _, t := range f.types {
		total, assigned, _ := f.CountEntries(context.Background(), t.OrgCode, t.LicenceType)
		usage = append(usage, &repository.LicenceUsage{
			LicenceType: t.LicenceType,
			Total:       total,
			Used:        assigned,
			Available:   total - assigned,
			FromDate:    t.FromDate,
			ToDate:      t.ToDate,
		})
	}
	sort.Slice(usage, func(i, j int) bool { return usage[i].LicenceType < usage[j].LicenceType })
	return usage, nil
}

func (f *fakeLicenceStore) numbers(licenceType string) []string {
	var nums []string
	for _, e := range f.entries {
		if e.LicenceType == licenceType {
			nums = append(nums, e.LicenceNumber)
		}
	}
	sort.Strings(nums)
	return nums
}

func newAllocator(store *fakeLicenceStore) *LicenceAllocator {
	return NewLicenceAllocator(fakeTx{}, store, &fakeAuditStore{}, zerolog.Nop())
}

// ── Assignment ────────────────────────────────────────────────────────────────

func TestAssignTakesLowestFreeSlot(t *testing.T) {
	store := newFakeLicenceStore()
	store.addType("ENT", 3, 3)

	alloc := newAllocator(store)
	e1, err := alloc.Assign(context.Background(), "ORG1", "E1", "ent", "admin")
	require.NoError(t, err)
	assert.Equal(t, "LIC-ENT-0001", e1.LicenceNumber)

	e2, err := alloc.Assign(context.Background(), "ORG1", "E2", "ENT", "admin")
	require.NoError(t, err)
	assert.Equal(t, "LIC-ENT-0002", e2.LicenceNumber)
}

func TestAssignSameTypeIsIdempotent(t *testing.T) {
	store := newFakeLicenceStore()
	store.addType("ENT", 3, 3)

	alloc := newAllocator(store)
	first, err := alloc.Assign(context.Background(), "ORG1", "E1", "ENT", "admin")
	require.NoError(t, err)
	again, err := alloc.Assign(context.Background(), "ORG1", "E1", "ENT", "admin")
	require.NoError(t, err)

	assert.Equal(t, first.LicenceNumber, again.LicenceNumber)

	_, assigned, err := store.CountEntries(context.Background(), "ORG1", "ENT")
	require.NoError(t, err)
	assert.Equal(t, 1, assigned)
}

func TestAssignReleasesOtherTypesFirst(t *testing.T) {
	store := newFakeLicenceStore()
	store.addType("ENT", 2, 2)
	store.addType("PRO", 2, 2)

	alloc := newAllocator(store)
	_, err := alloc.Assign(context.Background(), "ORG1", "E1", "ENT", "admin")
	require.NoError(t, err)
	_, err = alloc.Assign(context.Background(), "ORG1", "E1", "PRO", "admin")
	require.NoError(t, err)

	held, err := store.ActiveEntryFor(context.Background(), "ORG1", "E1", "ENT")
	require.NoError(t, err)
	assert.Nil(t, held, "ENT slot should be released on cross-type assignment")

	held, err = store.ActiveEntryFor(context.Background(), "ORG1", "E1", "PRO")
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, "LIC-PRO-0001", held.LicenceNumber)
}

func TestAssignFreedSlotIsReclaimed(t *testing.T) {
	store := newFakeLicenceStore()
	store.addType("ENT", 2, 2)

	alloc := newAllocator(store)
	_, err := alloc.Assign(context.Background(), "ORG1", "E1", "ENT", "admin")
	require.NoError(t, err)
	_, err = alloc.Assign(context.Background(), "ORG1", "E2", "ENT", "admin")
	require.NoError(t, err)

	require.NoError(t, alloc.Release(context.Background(), "ORG1", "E1", "ENT", "admin"))

	e3, err := alloc.Assign(context.Background(), "ORG1", "E3", "ENT", "admin")
	require.NoError(t, err)
	assert.Equal(t, "LIC-ENT-0001", e3.LicenceNumber)
}

func TestAssignUnknownTypeFails(t *testing.T) {
	alloc := newAllocator(newFakeLicenceStore())

	_, err := alloc.Assign(context.Background(), "ORG1", "E1", "ENT", "admin")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLicenceTypeInvalidOrExpired))
}

func TestAssignExpiredTypeFails(t *testing.T) {
	store := newFakeLicenceStore()
	store.addType("ENT", 2, 2)
	store.expireType("ENT")

	alloc := newAllocator(store)
	_, err := alloc.Assign(context.Background(), "ORG1", "E1", "ENT", "admin")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLicenceTypeInvalidOrExpired))
}

func TestAssignExhaustedDistinguishesEmptyPool(t *testing.T) {
	store := newFakeLicenceStore()
	store.addType("ENT", 0, 0)

	alloc := newAllocator(store)
	_, err := alloc.Assign(context.Background(), "ORG1", "E1", "ENT", "admin")
	require.True(t, apperrors.HasCode(err, apperrors.CodeLicencePoolExhausted))
	assert.Contains(t, err.Error(), "no ENT licences purchased")
}

func TestAssignExhaustedReportsAllInUse(t *testing.T) {
	store := newFakeLicenceStore()
	store.addType("ENT", 1, 1)

	alloc := newAllocator(store)
	_, err := alloc.Assign(context.Background(), "ORG1", "E1", "ENT", "admin")
	require.NoError(t, err)

	_, err = alloc.Assign(context.Background(), "ORG1", "E2", "ENT", "admin")
	require.True(t, apperrors.HasCode(err, apperrors.CodeLicencePoolExhausted))
	assert.Contains(t, err.Error(), "all 1 ENT licences are assigned")
}

// ── Release ───────────────────────────────────────────────────────────────────

func TestReleaseNotHeld(t *testing.T) {
	store := newFakeLicenceStore()
	store.addType("ENT", 2, 2)

	alloc := newAllocator(store)
	err := alloc.Release(context.Background(), "ORG1", "E1", "ENT", "admin")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

// ── Pool sizing ───────────────────────────────────────────────────────────────

func TestEnsurePoolGrowsAboveHighWaterMark(t *testing.T) {
	store := newFakeLicenceStore()
	store.addType("ENT", 2, 2)

	alloc := newAllocator(store)
	// Shrink to 1, then grow to 3: numbering must continue past the
	// highest slot ever issued, never reusing a retired number.
	require.NoError(t, alloc.EnsurePool(context.Background(), &repository.LicenceTypeInfo{
		OrgCode: "ORG1", LicenceType: "ENT", Purchased: 1,
		FromDate: time.Now().AddDate(0, -1, 0), ToDate: time.Now().AddDate(1, 0, 0),
	}))
	assert.Equal(t, []string{"LIC-ENT-0001"}, store.numbers("ENT"))

	require.NoError(t, alloc.EnsurePool(context.Background(), &repository.LicenceTypeInfo{
		OrgCode: "ORG1", LicenceType: "ENT", Purchased: 3,
		FromDate: time.Now().AddDate(0, -1, 0), ToDate: time.Now().AddDate(1, 0, 0),
	}))
	assert.Equal(t, []string{"LIC-ENT-0001", "LIC-ENT-0002", "LIC-ENT-0003"}, store.numbers("ENT"))
}

func TestEnsurePoolShrinkKeepsAssignedSlots(t *testing.T) {
	store := newFakeLicenceStore()
	store.addType("ENT", 3, 3)

	alloc := newAllocator(store)
	_, err := alloc.Assign(context.Background(), "ORG1", "E1", "ENT", "admin")
	require.NoError(t, err)

	require.NoError(t, alloc.EnsurePool(context.Background(), &repository.LicenceTypeInfo{
		OrgCode: "ORG1", LicenceType: "ENT", Purchased: 1,
		FromDate: time.Now().AddDate(0, -1, 0), ToDate: time.Now().AddDate(1, 0, 0),
	}))

	assert.Equal(t, []string{"LIC-ENT-0001"}, store.numbers("ENT"))
	held, err := store.ActiveEntryFor(context.Background(), "ORG1", "E1", "ENT")
	require.NoError(t, err)
	assert.NotNil(t, held)
}

func TestEnsurePoolCannotShrinkBelowAssigned(t *testing.T) {
	store := newFakeLicenceStore()
	store.addType("ENT", 2, 2)

	alloc := newAllocator(store)
	_, err := alloc.Assign(context.Background(), "ORG1", "E1", "ENT", "admin")
	require.NoError(t, err)
	_, err = alloc.Assign(context.Background(), "ORG1", "E2", "ENT", "admin")
	require.NoError(t, err)

	err = alloc.EnsurePool(context.Background(), &repository.LicenceTypeInfo{
		OrgCode: "ORG1", LicenceType: "ENT", Purchased: 1,
		FromDate: time.Now().AddDate(0, -1, 0), ToDate: time.Now().AddDate(1, 0, 0),
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestEnsurePoolRejectsNegativePurchase(t *testing.T) {
	alloc := newAllocator(newFakeLicenceStore())

	err := alloc.EnsurePool(context.Background(), &repository.LicenceTypeInfo{
		OrgCode: "ORG1", LicenceType: "ENT", Purchased: -1,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidInput))
}

// ── Reporting ─────────────────────────────────────────────────────────────────

func TestRemainingReportsPerTypeUsage(t *testing.T) {
	store := newFakeLicenceStore()
	store.addType("ENT", 3, 3)
	store.addType("PRO", 1, 1)

	alloc := newAllocator(store)
	_, err := alloc.Assign(context.Background(), "ORG1", "E1", "ENT", "admin")
	require.NoError(t, err)

	usage, err := alloc.Remaining(context.Background(), "ORG1")
	require.NoError(t, err)
	require.Len(t, usage, 2)

	assert.Equal(t, "ENT", usage[0].LicenceType)
	assert.Equal(t, 3, usage[0].Total)
	assert.Equal(t, 1, usage[0].Used)
	assert.Equal(t, 2, usage[0].Available)

	assert.Equal(t, "PRO", usage[1].LicenceType)
	assert.Equal(t, 1, usage[1].Available)
}

// Conservation: assignments and releases never change the slot count.
func TestPoolSizeConservedAcrossAssignReleaseCycles(t *testing.T) {
	store := newFakeLicenceStore()
	store.addType("ENT", 3, 3)

	alloc := newAllocator(store)
	for i := 0; i < 5; i++ {
		_, err := alloc.Assign(context.Background(), "ORG1", "E1", "ENT", "admin")
		require.NoError(t, err)
		require.NoError(t, alloc.Release(context.Background(), "ORG1", "E1", "ENT", "admin"))
	}

	total, assigned, err := store.CountEntries(context.Background(), "ORG1", "ENT")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 0, assigned)
}
