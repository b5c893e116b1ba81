package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validRunConfig() RunConfig {
	return RunConfig{
		Range:          DateRange{Start: NewDate(2025, time.September, 1), End: NewDate(2025, time.September, 30)},
		OnTransient:    TransientRetry,
		OnUnrecognized: UnrecognizedAbort,
	}
}

func TestRunConfig_Validate(t *testing.T) {
	assert.NoError(t, validRunConfig().Validate())

	bad := validRunConfig()
	bad.OnTransient = "sometimes"
	assert.Error(t, bad.Validate())

	bad = validRunConfig()
	bad.OnUnrecognized = ""
	assert.Error(t, bad.Validate())

	bad = validRunConfig()
	bad.MaxPages = -1
	assert.Error(t, bad.Validate())

	bad = validRunConfig()
	bad.PageRetryCooldown = -time.Second
	assert.Error(t, bad.Validate())
}

func TestRunReport_Summary(t *testing.T) {
	stats := NewRunStatistics(time.Now())
	stats.Reject(RejectBadDate)
	stats.Reject(RejectOutOfRange)

	r := &RunReport{Outcome: OutcomeCompleted, Statistics: stats}
	assert.Equal(t, "completed fully", r.Summary())

	r.Outcome = OutcomeCompletedWithRejections
	assert.Equal(t, "completed with 2 records rejected", r.Summary())

	r = &RunReport{Outcome: OutcomeFailed, FailedPage: 4, Resumable: true, Statistics: stats}
	assert.Equal(t, "failed at page 4, resumable", r.Summary())
}

func TestEnums_Valid(t *testing.T) {
	for _, d := range AllDecisions() {
		assert.True(t, d.Valid(), d)
	}
	assert.False(t, Decision("Deferred").Valid())
	for _, c := range AllCategories() {
		assert.True(t, c.Valid(), c)
	}
	assert.False(t, Category("Mixed-Use").Valid())
}

func TestApplicationRecord_Equal(t *testing.T) {
	a := ApplicationRecord{
		DANumber:   "DA-2025-0001",
		Decision:   DecisionPending,
		Documents:  []string{"plans.pdf"},
		FeesAmount: decimal.NewNullDecimal(decimal.RequireFromString("120.50")),
	}
	b := a
	b.Documents = []string{"plans.pdf"}
	b.FeesAmount = decimal.NewNullDecimal(decimal.RequireFromString("120.5"))
	assert.True(t, a.Equal(b))

	b.Decision = DecisionApproved
	assert.False(t, a.Equal(b))
}
