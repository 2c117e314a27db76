package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the last known balance of one asset held by a network's
// sending wallet. It is a cache, never a source of truth.
type Snapshot struct {
	Network       string          `json:"network"`
	Asset         string          `json:"asset"`
	WalletAddress string          `json:"wallet_address"`
	Balance       decimal.Decimal `json:"balance"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
