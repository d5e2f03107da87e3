package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stwalsh4118/churn/internal/database"
	"github.com/stwalsh4118/churn/internal/models"
)

// RecordRepository defines data access for the raw churn tables.
type RecordRepository interface {
	// LoadRecordSet reads every table. An empty market table yields a record
	// set without market data.
	LoadRecordSet(ctx context.Context) (models.RecordSet, error)

	// ReplaceRecordSet overwrites every table with rs in one transaction.
	ReplaceRecordSet(ctx context.Context, rs models.RecordSet) error
}

// recordRepository is the concrete implementation of RecordRepository.
type recordRepository struct {
	db *database.Database
}

// NewRecordRepository creates a new instance of RecordRepository.
func NewRecordRepository(db *database.Database) RecordRepository {
	return &recordRepository{
		db: db,
	}
}

const (
	tenantColumns = `tenant_id, annual_income, autopay_enabled, portal_login_count,
		avg_response_time_hours, missed_communication_count, complaint_count,
		escalation_count, renewal_count, tenure_months, primary_payment_method,
		total_late_fees`

	leaseColumns = `lease_id, tenant_id, property_id, start_date, end_date,
		term_months, monthly_rent, security_deposit, last_rent_increase_pct,
		rent_increase_count, status, churned`

	propertyColumns = `property_id, zip_code, square_feet, bedrooms, bathrooms,
		year_built, location_score, school_rating, garage, yard, air_conditioning,
		condition_rating, years_since_renovation, neighborhood_type`

	paymentColumns = `payment_id, lease_id, amount, payment_date, days_late`

	maintenanceColumns = `request_id, property_id, priority, resolution_days, created_at`

	marketColumns = `zip_code, market_rent_median, vacancy_rate, rent_growth_1yr_pct,
		rent_growth_3yr_pct, new_listings_30d, avg_days_on_market, median_hh_income,
		population_growth_rate, competitor_count_1mi`
)

// LoadRecordSet queries all six tables. Rows are ordered by primary key so
// repeated loads produce identical record sets.
func (r *recordRepository) LoadRecordSet(ctx context.Context) (models.RecordSet, error) {
	var rs models.RecordSet
	var err error

	if rs.Tenants, err = queryAll[models.Tenant](ctx, r.db, "tenants", tenantColumns, "tenant_id"); err != nil {
		return rs, err
	}
	if rs.Leases, err = queryAll[models.Lease](ctx, r.db, "leases", leaseColumns, "lease_id"); err != nil {
		return rs, err
	}
	if rs.Properties, err = queryAll[models.Property](ctx, r.db, "properties", propertyColumns, "property_id"); err != nil {
		return rs, err
	}
	if rs.Payments, err = queryAll[models.Payment](ctx, r.db, "payments", paymentColumns, "payment_id"); err != nil {
		return rs, err
	}
	if rs.MaintenanceRequests, err = queryAll[models.MaintenanceRequest](ctx, r.db, "maintenance_requests", maintenanceColumns, "request_id"); err != nil {
		return rs, err
	}
	if rs.MarketSnapshots, err = queryAll[models.MarketSnapshot](ctx, r.db, "market_snapshots", marketColumns, "zip_code"); err != nil {
		return rs, err
	}

	return rs, nil
}

// queryAll scans every row of table into T by db tag.
func queryAll[T any](ctx context.Context, db *database.Database, table, columns, orderBy string) ([]T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", columns, table, orderBy)

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}

	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", table, err)
	}
	return out, nil
}

// ReplaceRecordSet truncates the record tables and inserts rs. Either every
// table is replaced or none is.
func (r *recordRepository) ReplaceRecordSet(ctx context.Context, rs models.RecordSet) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `TRUNCATE tenants, leases, properties, payments, maintenance_requests, market_snapshots`); err != nil {
		return fmt.Errorf("failed to truncate record tables: %w", err)
	}

	batch := &pgx.Batch{}
	for _, t := range rs.Tenants {
		batch.Queue(insertSQL("tenants", tenantColumns, 12),
			t.TenantID, t.AnnualIncome, t.AutopayEnabled, t.PortalLoginCount,
			t.AvgResponseTimeHours, t.MissedCommunicationCount, t.ComplaintCount,
			t.EscalationCount, t.RenewalCount, t.TenureMonths, t.PrimaryPaymentMethod,
			t.TotalLateFees)
	}
	for _, l := range rs.Leases {
		batch.Queue(insertSQL("leases", leaseColumns, 12),
			l.LeaseID, l.TenantID, l.PropertyID, l.StartDate, l.EndDate,
			l.TermMonths, l.MonthlyRent, l.SecurityDeposit, l.LastRentIncreasePct,
			l.RentIncreaseCount, leaseStatus(l.Status), l.Churned)
	}
	for _, p := range rs.Properties {
		batch.Queue(insertSQL("properties", propertyColumns, 14),
			p.PropertyID, p.ZipCode, p.SquareFeet, p.Bedrooms, p.Bathrooms,
			p.YearBuilt, p.LocationScore, p.SchoolRating, p.Garage, p.Yard, p.AirConditioning,
			p.ConditionRating, p.YearsSinceRenovation, p.NeighborhoodType)
	}
	for _, p := range rs.Payments {
		batch.Queue(insertSQL("payments", paymentColumns, 5),
			p.PaymentID, p.LeaseID, p.Amount, p.PaymentDate, p.DaysLate)
	}
	for _, m := range rs.MaintenanceRequests {
		batch.Queue(insertSQL("maintenance_requests", maintenanceColumns, 5),
			m.RequestID, m.PropertyID, m.Priority, m.ResolutionDays, m.CreatedAt)
	}
	for _, m := range rs.MarketSnapshots {
		batch.Queue(insertSQL("market_snapshots", marketColumns, 10),
			m.ZipCode, m.MarketRentMedian, m.VacancyRate, m.RentGrowth1yrPct,
			m.RentGrowth3yrPct, m.NewListings30d, m.AvgDaysOnMarket, m.MedianHHIncome,
			m.PopulationGrowthRate, m.CompetitorCount1mi)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert records: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

func insertSQL(table, columns string, n int) string {
	placeholders := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, columns, placeholders)
}

// leaseStatus stores the column default for leases that arrived without one.
func leaseStatus(s string) string {
	if s == "" {
		return models.LeaseStatusActive
	}
	return s
}
