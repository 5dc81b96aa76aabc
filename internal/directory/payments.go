package directory

import (
	"context"
	"time"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/prometheus"
)

// PaymentInput describes a subscription payment
type PaymentInput struct {
	Amount       float64
	Method       string
	Reference    string
	Plan         string
	PeriodMonths int
}

// BillingStatus summarizes a tenant's subscription
type BillingStatus struct {
	Plan      string          `json:"plan"`
	State     string          `json:"state"`
	ExpiresAt *time.Time      `json:"expires_at"`
	Expired   bool            `json:"expired"`
	DaysLeft  int             `json:"days_left"`
	Payments  []model.Payment `json:"payments"`
}

// RecordPayment stores a payment and extends the tenant's paid period by PeriodMonths,
// starting from the current expiration when it lies in the future.
func (s *Service) RecordPayment(ctx context.Context, tenantID uint, in PaymentInput) (*model.Payment, error) {
	if in.Amount <= 0 {
		return nil, apperr.Validation("amount must be greater than 0")
	}
	if in.PeriodMonths <= 0 {
		in.PeriodMonths = 1
	}

	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.Archived() {
		return nil, apperr.Conflict("business is archived")
	}

	paidUntil := s.periodStart(tenant).AddDate(0, in.PeriodMonths, 0)
	plan := in.Plan
	if plan == "" || plan == model.PlanTrial {
		plan = model.PlanBasic
	}

	payment := &model.Payment{
		TenantID:     tenantID,
		Amount:       in.Amount,
		Method:       in.Method,
		Reference:    in.Reference,
		Plan:         plan,
		PeriodMonths: in.PeriodMonths,
		PaidUntil:    paidUntil,
	}
	tenant.Plan = plan
	tenant.ExpiresAt = &paidUntil

	if err := s.repo.SavePayment(ctx, payment, tenant); err != nil {
		return nil, apperr.Wrapf(err, "record payment for tenant %d", tenantID)
	}
	prometheus.RecordTenantOperation("payment")
	return payment, nil
}

// ListPayments returns a tenant's payments, newest first
func (s *Service) ListPayments(ctx context.Context, tenantID uint) ([]model.Payment, error) {
	return s.repo.ListPayments(ctx, tenantID)
}

// Billing returns the subscription status of a tenant
func (s *Service) Billing(ctx context.Context, tenantID uint) (*BillingStatus, error) {
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	status := &BillingStatus{
		Plan:     tenant.Plan,
		State:    tenant.State,
		Expired:  tenant.Expired(now),
		Payments: payments,
	}
	if tenant.ExpiresAt != nil {
		status.ExpiresAt = tenant.ExpiresAt
		if left := tenant.ExpiresAt.Sub(now); left > 0 {
			status.DaysLeft = int(left.Hours()/24) + 1
		}
	}
	return status, nil
}
