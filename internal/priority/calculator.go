// Package priority prices transfers. Everything here is pure arithmetic.
package priority

import (
	"time"

	"github.com/ruralpay/payqueue/internal/config"
	"github.com/ruralpay/payqueue/internal/models"
)

const (
	urgencyMultiplier = 2.0
	tierMultiplier    = 1.5
	riskPenalty       = 0.5
)

// Calculator maps (urgency, tier, risk, wait) to a priority. Higher is more urgent.
type Calculator struct {
	urgencyWeights map[models.Urgency]float64
	tierWeights    map[models.Tier]float64
	agingFactor    float64
}

// NewCalculator builds a calculator from the configured weight tables. Missing entries
// weigh zero.
func NewCalculator(cfg config.PriorityConfig) *Calculator {
	c := &Calculator{
		urgencyWeights: make(map[models.Urgency]float64),
		tierWeights:    make(map[models.Tier]float64),
		agingFactor:    cfg.AgingFactor,
	}
	for name, w := range cfg.UrgencyWeights {
		if u, err := models.ParseUrgency(name); err == nil {
			c.urgencyWeights[u] = w
		}
	}
	for name, w := range cfg.TierWeights {
		if tier, err := models.ParseTier(name); err == nil {
			c.tierWeights[tier] = w
		}
	}
	return c
}

// Base is computed once when the transfer is created.
func (c *Calculator) Base(urgency models.Urgency, tier models.Tier, risk int) float64 {
	return c.urgencyWeights[urgency]*urgencyMultiplier +
		c.tierWeights[tier]*tierMultiplier -
		float64(risk)*riskPenalty
}

// Effective adds the aging bonus for the time waited since creation.
func (c *Calculator) Effective(base float64, createdAt, now time.Time) float64 {
	return base + WaitSeconds(createdAt, now)*c.agingFactor
}

// AgingFactor is the priority gained per second of waiting.
func (c *Calculator) AgingFactor() float64 {
	return c.agingFactor
}

// WaitSeconds is the non-negative wait between createdAt and now.
func WaitSeconds(createdAt, now time.Time) float64 {
	wait := now.Sub(createdAt).Seconds()
	if wait < 0 {
		return 0
	}
	return wait
}
