package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Lllllllleong/medreportflow/internal/models"
)

// ValidityMonths is how long a report stays valid after its issue date.
const ValidityMonths = 2

// textDateLayouts are accepted when the service only returned the raw text of
// a date field.
var textDateLayouts = []string{"2006-01-02", "02/01/2006"}

// Evaluator applies the validity and fraud rules to an extracted field set.
type Evaluator struct {
	registry PhysicianRegistry
}

func NewEvaluator(registry PhysicianRegistry) *Evaluator {
	if registry == nil {
		registry = DefaultPhysicians
	}
	return &Evaluator{registry: registry}
}

// dateOutcome is the result of the expiry check.
type dateOutcome struct {
	validity   models.ValidityStatus
	fraud      models.FraudStatus
	detail     string
	reportDate time.Time
	expiresAt  time.Time
}

// Evaluate computes the assessment relative to now. The expiry check runs
// before the physician check, and the first rule that rejects the report sets
// the fraud status and detail.
func (e *Evaluator) Evaluate(ctx context.Context, fields models.FieldSet, now time.Time) (models.Assessment, error) {
	a := models.Assessment{
		Validity: models.ValidityIndeterminate,
		Fraud:    models.FraudNotVerified,
	}

	if isBlank(fields.ReportDate) {
		a.Validity = models.ValidityDateMissing
	} else {
		outcome, err := checkReportDate(fields.ReportDate, now.UTC())
		if err != nil {
			slog.Error("Report date could not be validated.", "reportDate", fields.ReportDate.Text, "error", err)
			a.Validity = models.ValidityDateValidationError
		} else {
			a.Validity = outcome.validity
			a.ReportDate = &outcome.reportDate
			a.ExpiresAt = &outcome.expiresAt
			if outcome.fraud != models.FraudNotVerified {
				a.Fraud = outcome.fraud
				a.Detail = outcome.detail
			}
		}
	}

	if isBlank(fields.PhysicianName) || isBlank(fields.PhysicianID) {
		return a, nil
	}
	name, id := fields.PhysicianName.Text, fields.PhysicianID.Text
	authorized, err := e.physicianAuthorized(ctx, name, id)
	if err != nil {
		return a, fmt.Errorf("physician lookup failed: %w", err)
	}
	if !authorized && a.Fraud == models.FraudNotVerified {
		a.Fraud = models.FraudRejectedUnauthorizedPhysician
		a.Detail = fmt.Sprintf("Physician %s (ID: %s) not found or not authorized.", name, id)
	}
	return a, nil
}

func (e *Evaluator) physicianAuthorized(ctx context.Context, name, id string) (bool, error) {
	registered, found, err := e.registry.LookupPhysician(ctx, id)
	if err != nil {
		return false, err
	}
	return found && strings.Contains(strings.ToLower(name), strings.ToLower(registered)), nil
}

// checkReportDate compares the report's expiry with now. Any error means the
// date could not be interpreted; the caller decides how to surface it.
func checkReportDate(value *models.FieldValue, now time.Time) (dateOutcome, error) {
	date, err := reportDate(value)
	if err != nil {
		return dateOutcome{}, err
	}
	issued := date.In(time.UTC)
	expiry := addCalendarMonths(date, ValidityMonths).In(time.UTC)

	out := dateOutcome{
		validity:   models.ValidityValid,
		fraud:      models.FraudNotVerified,
		reportDate: issued,
		expiresAt:  expiry,
	}
	if now.After(expiry) {
		out.validity = models.ValidityExpired
		out.fraud = models.FraudRejectedExpired
		out.detail = fmt.Sprintf("Report issued on %s expired on %s.", issued.Format("02/01/2006"), expiry.Format("02/01/2006"))
	}
	return out, nil
}

func reportDate(value *models.FieldValue) (civil.Date, error) {
	if value.Kind == models.KindDate && value.Date != nil {
		if !value.Date.IsValid() {
			return civil.Date{}, fmt.Errorf("invalid calendar date %v", *value.Date)
		}
		return *value.Date, nil
	}
	text := strings.TrimSpace(value.Text)
	for _, layout := range textDateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("unrecognized date text %q", value.Text)
}

// addCalendarMonths adds months to d, clamping to the last day of the target
// month (Jan 31 + 1 month = Feb 28/29).
func addCalendarMonths(d civil.Date, months int) civil.Date {
	first := time.Date(d.Year, d.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	lastDay := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	day := d.Day
	if day > lastDay {
		day = lastDay
	}
	return civil.Date{Year: first.Year(), Month: first.Month(), Day: day}
}

func isBlank(v *models.FieldValue) bool {
	if v == nil {
		return true
	}
	if v.Kind == models.KindDate && v.Date != nil {
		return false
	}
	return strings.TrimSpace(v.Text) == ""
}
