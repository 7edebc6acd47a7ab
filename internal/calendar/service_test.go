package calendar

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-simulator/internal/apperr"
	mmetrics "transit-simulator/internal/metrics"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryStore(), nil, zerolog.Nop())
}

func TestServiceCreateAndGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, Calendar{
		ID: "depot-days", Name: "Depot", Scope: ScopeCompany, CompanyID: "acme", Kind: KindCustom,
		Entries: []Entry{{Name: "Inwentaryzacja", DateType: DateFixed, Date: "2026-03-02"}},
	})
	require.NoError(t, err)
	require.Len(t, created.Entries, 1)
	assert.NotEmpty(t, created.Entries[0].ID)
	assert.Equal(t, "depot-days", created.Entries[0].CalendarID)

	got, err := svc.Get(ctx, "depot-days")
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = svc.Create(ctx, Calendar{ID: "depot-days", Name: "Again", Scope: ScopeSystem, Kind: KindCustom})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestServiceCreateRejectsDuplicateEntries(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Create(context.Background(), Calendar{
		ID: "dup", Name: "Dup", Scope: ScopeSystem, Kind: KindHolidays,
		Entries: []Entry{
			{Name: "A", DateType: DateEaster, EasterOffset: offset(1)},
			{Name: "B", DateType: DateEaster, EasterOffset: offset(1)},
		},
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestServiceAddEntry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, Calendar{ID: "c", Name: "C", Scope: ScopeSystem, Kind: KindCustom})
	require.NoError(t, err)

	e, err := svc.AddEntry(ctx, "c", Entry{Name: "Majówka", DateType: DateRange, StartDate: "2026-05-01", EndDate: "2026-05-03"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)

	_, err = svc.AddEntry(ctx, "c", Entry{Name: "Again", DateType: DateRange, StartDate: "2026-05-01", EndDate: "2026-05-03"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.AddEntry(ctx, "c", Entry{Name: "Bad", DateType: DateRange, StartDate: "2026-05-01"})
	assert.ErrorIs(t, err, apperr.ErrInvalidDateRule)

	_, err = svc.AddEntry(ctx, "nope", Entry{Name: "X", DateType: DateEaster, EasterOffset: offset(0)})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	occ, err := svc.Dates(ctx, "c", 2026)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-05-01", "2026-05-02", "2026-05-03"}, dates(occ))

	require.NoError(t, svc.RemoveEntry(ctx, "c", e.ID))
	assert.ErrorIs(t, svc.RemoveEntry(ctx, "c", e.ID), apperr.ErrNotFound)
	occ, err = svc.Dates(ctx, "c", 2026)
	require.NoError(t, err)
	assert.Empty(t, occ)
}

func TestServiceSeedBuiltinsIsIdempotent(t *testing.T) {
	m := mmetrics.NewCollector(1, 0, 0)
	svc := NewService(NewMemoryStore(), m, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, svc.SeedBuiltins(ctx))
	require.NoError(t, svc.SeedBuiltins(ctx))

	cals, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, cals, 2)
	assert.Equal(t, "pl-holidays", cals[0].ID)
	assert.Equal(t, "pl-school-breaks", cals[1].ID)

	occ, err := svc.Dates(ctx, "pl-school-breaks", 2026)
	require.NoError(t, err)
	assert.Equal(t, "2026-04-02", occ[0].Date)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Materializations))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateCalendar(ctx, Calendar{ID: "c", Entries: []Entry{
		{ID: "e", Name: "E", DateType: DateEaster, EasterOffset: offset(3)},
	}}))
	got, err := store.GetCalendar(ctx, "c")
	require.NoError(t, err)
	*got.Entries[0].EasterOffset = 99
	got.Entries[0].Name = "changed"

	again, err := store.GetCalendar(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 3, *again.Entries[0].EasterOffset)
	assert.Equal(t, "E", again.Entries[0].Name)
}
