// Package testutil builds record sets for package tests.
package testutil

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stwalsh4118/churn/internal/models"
)

// Now is the fixed clock used with generated records.
var Now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// Clock returns Now.
func Clock() time.Time { return Now }

func ptr[T any](v T) *T { return &v }

// Records generates n leases with one tenant and property each. Leases churn
// when the tenant pays late and complains, or when the property is in poor
// condition. Every fifth lease is ACTIVE and unlabeled.
func Records(n int, seed int64, withMarket bool) models.RecordSet {
	rng := rand.New(rand.NewSource(seed))
	zips := []string{"78701", "78702", "78703", "78704"}
	neighborhoods := []string{"urban", "suburban", "rural"}
	methods := []string{"ach", "card", "check"}

	var rs models.RecordSet
	for i := 0; i < n; i++ {
		leaseID := fmt.Sprintf("L%04d", i)
		tenantID := fmt.Sprintf("T%04d", i)
		propertyID := fmt.Sprintf("P%04d", i)

		daysLate := rng.Intn(15)
		complaints := rng.Intn(5)
		condition := 1 + rng.Float64()*4
		churned := (daysLate > 5 && complaints > 1) || condition < 2.5

		start := Now.AddDate(0, -(6 + rng.Intn(30)), 0)
		end := start.AddDate(0, 12, 0)
		rent := decimal.NewFromInt(int64(1000 + rng.Intn(2000)))

		lease := models.Lease{
			LeaseID:           leaseID,
			TenantID:          tenantID,
			PropertyID:        propertyID,
			StartDate:         start,
			EndDate:           &end,
			TermMonths:        ptr(12),
			MonthlyRent:       rent,
			SecurityDeposit:   decimal.NewNullDecimal(rent),
			RentIncreaseCount: rng.Intn(3),
			Status:            models.LeaseStatusEnded,
			Churned:           ptr(churned),
		}
		if i%5 == 0 {
			lease.Status = models.LeaseStatusActive
			lease.Churned = nil
		}
		rs.Leases = append(rs.Leases, lease)

		rs.Tenants = append(rs.Tenants, models.Tenant{
			TenantID:             tenantID,
			AnnualIncome:         decimal.NewNullDecimal(decimal.NewFromInt(int64(40000 + rng.Intn(80000)))),
			AutopayEnabled:       rng.Intn(2) == 0,
			PortalLoginCount:     rng.Intn(100),
			ComplaintCount:       complaints,
			EscalationCount:      rng.Intn(2),
			RenewalCount:         rng.Intn(4),
			TenureMonths:         ptr(6 + rng.Intn(60)),
			PrimaryPaymentMethod: ptr(methods[rng.Intn(len(methods))]),
			TotalLateFees:        decimal.NewFromInt(int64(daysLate * 10)),
		})

		rs.Properties = append(rs.Properties, models.Property{
			PropertyID:       propertyID,
			ZipCode:          zips[i%len(zips)],
			SquareFeet:       ptr(600 + rng.Intn(1400)),
			Bedrooms:         ptr(1 + rng.Intn(4)),
			Bathrooms:        ptr(1 + float64(rng.Intn(3))*0.5),
			YearBuilt:        ptr(1960 + rng.Intn(60)),
			LocationScore:    ptr(1 + rng.Float64()*9),
			ConditionRating:  ptr(condition),
			Garage:           rng.Intn(2) == 0,
			NeighborhoodType: ptr(neighborhoods[rng.Intn(len(neighborhoods))]),
		})

		for m := 0; m < 3; m++ {
			rs.Payments = append(rs.Payments, models.Payment{
				PaymentID:   fmt.Sprintf("%s-pay-%d", leaseID, m),
				LeaseID:     leaseID,
				Amount:      rent,
				PaymentDate: start.AddDate(0, m, daysLate),
				DaysLate:    daysLate,
			})
		}
		if complaints > 2 {
			rs.MaintenanceRequests = append(rs.MaintenanceRequests, models.MaintenanceRequest{
				RequestID:      fmt.Sprintf("%s-req", propertyID),
				PropertyID:     propertyID,
				Priority:       models.PriorityHigh,
				ResolutionDays: ptr(float64(1 + rng.Intn(10))),
				CreatedAt:      start.AddDate(0, 1, 0),
			})
		}
	}

	if withMarket {
		for i, zip := range zips {
			rs.MarketSnapshots = append(rs.MarketSnapshots, models.MarketSnapshot{
				ZipCode:          zip,
				MarketRentMedian: ptr(1500 + 100*float64(i)),
				VacancyRate:      ptr(0.04 + 0.01*float64(i)),
				RentGrowth1yrPct: ptr(3 + float64(i)),
				NewListings30d:   ptr(20 + i),
			})
		}
	}
	return rs
}
