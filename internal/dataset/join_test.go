package dataset

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/models"
)

func ptr[T any](v T) *T { return &v }

func sampleRecords() models.RecordSet {
	day := func(d int) time.Time { return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC) }
	return models.RecordSet{
		Tenants: []models.Tenant{
			{TenantID: "t1", ComplaintCount: 2},
			{TenantID: "t2"},
		},
		Leases: []models.Lease{
			{LeaseID: "l1", TenantID: "t1", PropertyID: "p1", MonthlyRent: decimal.NewFromInt(2000), Status: models.LeaseStatusActive},
			{LeaseID: "l2", TenantID: "t2", PropertyID: "p2", MonthlyRent: decimal.NewFromInt(1800), Status: models.LeaseStatusEnded},
			{LeaseID: "l3", TenantID: "missing", PropertyID: "missing", MonthlyRent: decimal.NewFromInt(1500)},
		},
		Properties: []models.Property{
			{PropertyID: "p1", ZipCode: "80202"},
			{PropertyID: "p2", ZipCode: "80203"},
		},
		Payments: []models.Payment{
			{PaymentID: "a", LeaseID: "l1", Amount: decimal.NewFromInt(2000), PaymentDate: day(1), DaysLate: 0},
			{PaymentID: "b", LeaseID: "l1", Amount: decimal.NewFromInt(2100), PaymentDate: day(20), DaysLate: 6},
			{PaymentID: "c", LeaseID: "l2", Amount: decimal.NewFromInt(1800), PaymentDate: day(3), DaysLate: 2},
		},
		MaintenanceRequests: []models.MaintenanceRequest{
			{RequestID: "m1", PropertyID: "p1", Priority: models.PriorityHigh, ResolutionDays: ptr(4.0)},
			{RequestID: "m2", PropertyID: "p1", Priority: "LOW", ResolutionDays: ptr(2.0)},
			{RequestID: "m3", PropertyID: "p1", Priority: "LOW"},
		},
	}
}

func TestJoin_OneRowPerLease(t *testing.T) {
	table, err := Join(sampleRecords(), JoinOptions{})
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	assert.False(t, table.HasMarket)

	byLease := map[string]models.JoinedRow{}
	for _, row := range table.Rows {
		byLease[row.Lease.LeaseID] = row
	}

	l1 := byLease["l1"]
	require.NotNil(t, l1.Tenant)
	assert.Equal(t, 2, l1.Tenant.ComplaintCount)
	assert.Equal(t, 2, l1.Payments.Count)
	assert.InDelta(t, 4100.0, l1.Payments.TotalPaid, 1e-9)
	assert.InDelta(t, 2050.0, *l1.Payments.AvgAmount, 1e-9)
	require.NotNil(t, l1.Payments.AmountStd)
	assert.InDelta(t, 70.7106781, *l1.Payments.AmountStd, 1e-6)
	assert.InDelta(t, 3.0, *l1.Payments.AvgDaysLate, 1e-9)
	assert.InDelta(t, 6.0, *l1.Payments.MaxDaysLate, 1e-9)
	assert.InDelta(t, 6.0, l1.Payments.TotalDaysLate, 1e-9)
	assert.Equal(t, 20, l1.Payments.LastPaymentDate.Day())
	assert.Equal(t, 3, l1.Maintenance.Count)
	assert.Equal(t, 1, l1.Maintenance.HighPriorityCount)
	assert.InDelta(t, 3.0, *l1.Maintenance.AvgResolutionDays, 1e-9)

	l2 := byLease["l2"]
	assert.Equal(t, 1, l2.Payments.Count)
	assert.Nil(t, l2.Payments.AmountStd, "single payment has no sample std")
	assert.Equal(t, 0, l2.Maintenance.Count)

	l3 := byLease["l3"]
	assert.Nil(t, l3.Tenant)
	assert.Nil(t, l3.Property)
	assert.Equal(t, 0, l3.Payments.Count)
	assert.Nil(t, l3.Payments.AvgDaysLate)
	assert.Nil(t, l3.Payments.LastPaymentDate)
}

func TestJoin_ActiveOnly(t *testing.T) {
	table, err := Join(sampleRecords(), JoinOptions{ActiveOnly: true})
	require.NoError(t, err)

	ids := []string{}
	for _, row := range table.Rows {
		ids = append(ids, row.Lease.LeaseID)
	}
	// Empty status counts as active.
	assert.Equal(t, []string{"l1", "l3"}, ids)
}

func TestJoin_MarketData(t *testing.T) {
	records := sampleRecords()
	records.MarketSnapshots = []models.MarketSnapshot{
		{ZipCode: "80202", MarketRentMedian: ptr(2200.0)},
	}

	table, err := Join(records, JoinOptions{})
	require.NoError(t, err)
	assert.True(t, table.HasMarket)

	for _, row := range table.Rows {
		switch row.Lease.LeaseID {
		case "l1":
			require.NotNil(t, row.Market)
			assert.Equal(t, 2200.0, *row.Market.MarketRentMedian)
		default:
			assert.Nil(t, row.Market, "lease %s has no matching market", row.Lease.LeaseID)
		}
	}
}

func TestJoin_SchemaErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *models.RecordSet)
	}{
		{
			name: "payments without lease ids",
			mutate: func(r *models.RecordSet) {
				for i := range r.Payments {
					r.Payments[i].LeaseID = ""
				}
			},
		},
		{
			name: "leases without tenant ids",
			mutate: func(r *models.RecordSet) {
				for i := range r.Leases {
					r.Leases[i].TenantID = ""
				}
			},
		},
		{
			name: "duplicate lease",
			mutate: func(r *models.RecordSet) {
				r.Leases = append(r.Leases, r.Leases[0])
			},
		},
		{
			name: "lease without id",
			mutate: func(r *models.RecordSet) {
				r.Leases[1].LeaseID = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := sampleRecords()
			tt.mutate(&records)

			table, err := Join(records, JoinOptions{})
			assert.Nil(t, table)
			assert.ErrorIs(t, err, domainerr.ErrSchema)
		})
	}
}

func TestJoin_EmptyChildTables(t *testing.T) {
	records := sampleRecords()
	records.Payments = nil
	records.MaintenanceRequests = nil
	records.Tenants = nil

	table, err := Join(records, JoinOptions{})
	require.NoError(t, err)
	assert.Len(t, table.Rows, 3)
	for _, row := range table.Rows {
		assert.Equal(t, 0, row.Payments.Count)
		assert.Equal(t, 0, row.Maintenance.Count)
	}
}

func TestJoin_AsOf(t *testing.T) {
	records := sampleRecords()
	cutoff := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	records.MaintenanceRequests[0].CreatedAt = cutoff.AddDate(0, 0, -1)
	records.MaintenanceRequests[1].CreatedAt = cutoff
	records.MaintenanceRequests[2].CreatedAt = cutoff.AddDate(0, 0, 1)

	table, err := Join(records, JoinOptions{AsOf: cutoff})
	require.NoError(t, err)

	for _, row := range table.Rows {
		if row.Lease.LeaseID != "l1" {
			continue
		}
		assert.Equal(t, 1, row.Payments.Count, "payment on day 20 is after the cutoff")
		assert.InDelta(t, 2000.0, row.Payments.TotalPaid, 1e-9)
		assert.Equal(t, 2, row.Maintenance.Count)
		assert.Equal(t, 1, row.Maintenance.HighPriorityCount)
	}
}
