package priority

import (
	"testing"
	"time"

	"github.com/ruralpay/payqueue/internal/config"
	"github.com/ruralpay/payqueue/internal/models"
	"github.com/stretchr/testify/assert"
)

func newTestCalculator() *Calculator {
	return NewCalculator(config.Default().Priority)
}

func TestCalculator_Base(t *testing.T) {
	calc := newTestCalculator()

	tests := []struct {
		name    string
		urgency models.Urgency
		tier    models.Tier
		risk    int
		want    float64
	}{
		{"normal basic no risk", models.UrgencyNormal, models.TierBasic, 0, 2.0},
		{"emi premium", models.UrgencyEMI, models.TierPremium, 2, 6.0 + 3.0 - 1.0},
		{"medical vip", models.UrgencyMedical, models.TierVIP, 0, 10.0 + 6.0},
		{"max risk", models.UrgencyNormal, models.TierBasic, 10, 2.0 - 5.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, calc.Base(tt.urgency, tt.tier, tt.risk), 1e-9)
		})
	}
}

func TestCalculator_BaseMonotonic(t *testing.T) {
	calc := newTestCalculator()
	urgencies := []models.Urgency{models.UrgencyNormal, models.UrgencyEMI, models.UrgencyMedical}
	tiers := []models.Tier{models.TierBasic, models.TierPremium, models.TierVIP}

	for _, tier := range tiers {
		for risk := 0; risk <= 10; risk++ {
			for i := 1; i < len(urgencies); i++ {
				assert.Greater(t, calc.Base(urgencies[i], tier, risk), calc.Base(urgencies[i-1], tier, risk))
			}
		}
	}
	for _, u := range urgencies {
		for risk := 0; risk <= 10; risk++ {
			for i := 1; i < len(tiers); i++ {
				assert.Greater(t, calc.Base(u, tiers[i], risk), calc.Base(u, tiers[i-1], risk))
			}
		}
		for _, tier := range tiers {
			for risk := 1; risk <= 10; risk++ {
				assert.Less(t, calc.Base(u, tier, risk), calc.Base(u, tier, risk-1))
			}
		}
	}
}

func TestCalculator_Effective(t *testing.T) {
	calc := newTestCalculator()
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	base := calc.Base(models.UrgencyEMI, models.TierBasic, 4)

	assert.Equal(t, base, calc.Effective(base, created, created))
	assert.InDelta(t, base+1.0, calc.Effective(base, created, created.Add(10*time.Second)), 1e-9)
	// Clock skew never lowers priority below base.
	assert.Equal(t, base, calc.Effective(base, created, created.Add(-time.Minute)))

	prev := calc.Effective(base, created, created)
	for wait := time.Second; wait <= time.Minute; wait += time.Second {
		next := calc.Effective(base, created, created.Add(wait))
		assert.GreaterOrEqual(t, next, base)
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestNewCalculator_MissingWeights(t *testing.T) {
	calc := NewCalculator(config.PriorityConfig{
		UrgencyWeights: map[string]float64{"medical": 5},
		AgingFactor:    0.1,
	})

	assert.Equal(t, 0.0, calc.Base(models.UrgencyNormal, models.TierVIP, 0))
	assert.Equal(t, 10.0, calc.Base(models.UrgencyMedical, models.TierVIP, 0))
}
