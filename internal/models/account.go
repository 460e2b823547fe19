package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tier is the account service level. The ordinal matters: weights and reserves are
// looked up by it.
type Tier int

const (
	TierBasic Tier = iota
	TierPremium
	TierVIP
)

var tierNames = map[Tier]string{
	TierBasic:   "BASIC",
	TierPremium: "PREMIUM",
	TierVIP:     "VIP",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TIER(%d)", int(t))
}

// ParseTier accepts the tier name in any case.
func ParseTier(s string) (Tier, error) {
	for tier, name := range tierNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return tier, nil
		}
	}
	return TierBasic, fmt.Errorf("unknown tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Account holds funds. ReservedAmount is earmarked for in-flight transfers and is only
// changed by the transfer state machine.
type Account struct {
	ID             string          `json:"id" db:"id"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	ReservedAmount decimal.Decimal `json:"reserved_amount" db:"reserved_amount"`
	Tier           Tier            `json:"tier" db:"tier"`
	RiskScore      int             `json:"risk_score" db:"risk_score"`
	Version        int             `json:"version" db:"version"` // bumped on every write
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Available is what a new reservation may draw on, given the tier floor.
func (a *Account) Available(minimumReserve decimal.Decimal) decimal.Decimal {
	return a.Balance.Sub(a.ReservedAmount).Sub(minimumReserve)
}
