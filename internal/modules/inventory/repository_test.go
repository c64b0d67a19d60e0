package inventory

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush8285/dealertrack/internal/domain"
	testdb "github.com/ayush8285/dealertrack/internal/testing"
)

func setupRepos(t *testing.T) (*VehicleRepository, *HistoryRepository, *SyncLogRepository, func()) {
	t.Helper()
	db, cleanup := testdb.NewTestDB(t, "inventory")
	conn := db.Conn()
	return NewVehicleRepository(conn, zerolog.Nop()),
		NewHistoryRepository(conn, zerolog.Nop()),
		NewSyncLogRepository(conn, zerolog.Nop()),
		cleanup
}

func testVehicle(vin string, price int64) domain.Vehicle {
	mileage := int64(30000)
	now := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	return domain.Vehicle{
		VIN:          vin,
		Title:        "2022 Audi Q5 Progressiv",
		Price:        &price,
		Mileage:      &mileage,
		Year:         2022,
		Make:         "Audi",
		Model:        "Q5",
		Trim:         "Progressiv",
		FuelType:     "Essence",
		Transmission: "Automatique",
		Status:       domain.StatusActive,
		FirstSeen:    now,
		LastSeen:     now,
		LastChanged:  now,
	}
}

func TestVehicleRepository_UpsertAndGet(t *testing.T) {
	repo, _, _, cleanup := setupRepos(t)
	defer cleanup()

	require.NoError(t, repo.Upsert(testVehicle("WA1AAAFY0N2000001", 45000)))

	v, err := repo.GetByVIN("wa1aaafy0n2000001")
	require.NoError(t, err)
	require.NotNil(t, v, "VIN lookup is case-insensitive")
	assert.Equal(t, "WA1AAAFY0N2000001", v.VIN)
	assert.Equal(t, int64(45000), *v.Price)

	missing, err := repo.GetByVIN("WAUNOTTHERE000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestVehicleRepository_ApplyChanges(t *testing.T) {
	vehicles, history, _, cleanup := setupRepos(t)
	defer cleanup()

	v := testVehicle("WA1AAAFY0N2000001", 45000)
	require.NoError(t, vehicles.Upsert(v))

	updated := testVehicle("WA1AAAFY0N2000001", 43000)
	entries := []domain.HistoryEntry{
		{VIN: v.VIN, Field: "price", OldValue: "45000", NewValue: "43000", Timestamp: updated.LastChanged},
	}
	require.NoError(t, vehicles.ApplyChanges(updated, entries))

	got, err := vehicles.GetByVIN(v.VIN)
	require.NoError(t, err)
	assert.Equal(t, int64(43000), *got.Price)

	journal, err := history.ListByVIN(v.VIN)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, "43000", journal[0].NewValue)
}

func TestVehicleRepository_ApplyChangesRollsBackTogether(t *testing.T) {
	vehicles, history, _, cleanup := setupRepos(t)
	defer cleanup()

	v := testVehicle("WA1AAAFY0N2000001", 45000)
	require.NoError(t, vehicles.Upsert(v))

	bad := testVehicle("WA1AAAFY0N2000001", 43000)
	bad.Status = domain.VehicleStatus("sold") // fails the status check constraint
	entries := []domain.HistoryEntry{
		{VIN: v.VIN, Field: "price", OldValue: "45000", NewValue: "43000", Timestamp: bad.LastChanged},
	}

	require.Error(t, vehicles.ApplyChanges(bad, entries))

	journal, err := history.ListByVIN(v.VIN)
	require.NoError(t, err)
	assert.Empty(t, journal, "journal rows from the failed apply are rolled back")

	got, err := vehicles.GetByVIN(v.VIN)
	require.NoError(t, err)
	assert.Equal(t, int64(45000), *got.Price)
	assert.Equal(t, domain.StatusActive, got.Status)
}

func TestVehicleRepository_MarkRemovedKeepsLastSeen(t *testing.T) {
	repo, _, _, cleanup := setupRepos(t)
	defer cleanup()

	vehicle := testVehicle("WA1AAAFY0N2000001", 45000)
	require.NoError(t, repo.Upsert(vehicle))
	require.NoError(t, repo.MarkRemoved(vehicle.VIN))

	v, err := repo.GetByVIN(vehicle.VIN)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRemoved, v.Status)
	assert.Equal(t, vehicle.LastSeen.Unix(), v.LastSeen.Unix())

	count, err := repo.CountActive()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestVehicleRepository_Search(t *testing.T) {
	repo, _, _, cleanup := setupRepos(t)
	defer cleanup()

	a := testVehicle("WA1AAAFY0N2000001", 45000)
	b := testVehicle("WA1BBBFY0N2000002", 38000)
	b.Model = "Q3"
	b.Year = 2020
	c := testVehicle("WA1CCCFY0N2000003", 61000)
	c.Status = domain.StatusRemoved

	for _, v := range []domain.Vehicle{a, b, c} {
		require.NoError(t, repo.Upsert(v))
	}

	// Cheapest first, removed excluded
	all, err := repo.Search(SearchFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "WA1BBBFY0N2000002", all[0].VIN)

	q5s, err := repo.Search(SearchFilter{Model: "Q5"})
	require.NoError(t, err)
	require.Len(t, q5s, 1)
	assert.Equal(t, "WA1AAAFY0N2000001", q5s[0].VIN)

	recent, err := repo.Search(SearchFilter{YearMin: 2021, PriceMax: 50000})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "WA1AAAFY0N2000001", recent[0].VIN)
}

func TestVehicleRepository_Stats(t *testing.T) {
	repo, _, _, cleanup := setupRepos(t)
	defer cleanup()

	a := testVehicle("WA1AAAFY0N2000001", 40000)
	b := testVehicle("WA1BBBFY0N2000002", 60000)
	b.Model = "Q7"
	b.Year = 2024
	removed := testVehicle("WA1CCCFY0N2000003", 10000)
	removed.Status = domain.StatusRemoved

	for _, v := range []domain.Vehicle{a, b, removed} {
		require.NoError(t, repo.Upsert(v))
	}

	stats, err := repo.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalActive)
	assert.Equal(t, 1, stats.TotalRemoved)
	assert.Equal(t, int64(50000), stats.AvgPrice)
	assert.Equal(t, int64(40000), stats.PriceRange.Min)
	assert.Equal(t, int64(60000), stats.PriceRange.Max)
	assert.Equal(t, int64(2022), stats.YearRange.Min)
	assert.Equal(t, int64(2024), stats.YearRange.Max)
	assert.Equal(t, 2, stats.Makes["Audi"])
	assert.Equal(t, 1, stats.Models["Q7"])
}

func TestHistoryRepository_AppendAndList(t *testing.T) {
	repo, history, _, cleanup := setupRepos(t)
	defer cleanup()

	require.NoError(t, repo.Upsert(testVehicle("WA1AAAFY0N2000001", 45000)))

	base := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, history.Append([]domain.HistoryEntry{
		{VIN: "WA1AAAFY0N2000001", Field: "price", OldValue: "45000", NewValue: "43500", Timestamp: base.Add(24 * time.Hour)},
		{VIN: "WA1AAAFY0N2000001", Field: "mileage", OldValue: "30000", NewValue: "30500", Timestamp: base},
	}))

	entries, err := history.ListByVIN("WA1AAAFY0N2000001")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Chronological order
	assert.Equal(t, "mileage", entries[0].Field)
	assert.Equal(t, "price", entries[1].Field)
}

func syncResult(ts time.Time) domain.SyncResult {
	return domain.SyncResult{
		RunID:        uuid.New().String(),
		Timestamp:    ts,
		Source:       domain.SourceScheduled,
		Status:       domain.SyncCompleted,
		TotalScraped: 5,
		Counts:       domain.SyncCounts{Unchanged: 5},
		TotalActive:  5,
		AddedDetails: []domain.VehicleRef{},
		RemovedList:  []domain.VehicleRef{},
		UpdatedList:  []domain.UpdateDetail{},
	}
}

func TestSyncLogRepository_BoundedHistory(t *testing.T) {
	_, _, syncLog, cleanup := setupRepos(t)
	defer cleanup()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < maxSyncHistory+10; i++ {
		result := syncResult(base.Add(time.Duration(i) * time.Hour))
		result.RunID = fmt.Sprintf("run-%04d", i)
		require.NoError(t, syncLog.Append(result))
	}

	count, err := syncLog.Count()
	require.NoError(t, err)
	assert.Equal(t, maxSyncHistory, count, "history is bounded, oldest evicted")

	last, err := syncLog.Last()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, fmt.Sprintf("run-%04d", maxSyncHistory+9), last.RunID)

	results, err := syncLog.List(5)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, last.RunID, results[0].RunID, "list is newest first")
}

func TestSyncLogRepository_DetailsRoundTrip(t *testing.T) {
	_, _, syncLog, cleanup := setupRepos(t)
	defer cleanup()

	result := syncResult(time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC))
	result.AddedDetails = []domain.VehicleRef{{VIN: "WA1AAAFY0N2000001", Title: "2022 Audi Q5"}}
	result.UpdatedList = []domain.UpdateDetail{{
		VIN:    "WA1BBBFY0N2000002",
		Title:  "2021 Audi Q3",
		Fields: map[string]domain.FieldChange{"price": {Old: "40000", New: "39000"}},
	}}
	require.NoError(t, syncLog.Append(result))

	last, err := syncLog.Last()
	require.NoError(t, err)
	require.Len(t, last.AddedDetails, 1)
	assert.Equal(t, "WA1AAAFY0N2000001", last.AddedDetails[0].VIN)
	require.Len(t, last.UpdatedList, 1)
	assert.Equal(t, "39000", last.UpdatedList[0].Fields["price"].New)
	assert.NotNil(t, last.RemovedList, "empty detail lists stay [] not null")
}
