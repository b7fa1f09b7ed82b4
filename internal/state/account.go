package state

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a margin trading account.
// Balances are maintained by the account management service; this core only reads them.
type Account struct {
	ID                    string          `json:"id"`
	ClientID              string          `json:"client_id"`
	TradingConditionID    string          `json:"trading_condition_id"`
	BaseAssetID           string          `json:"base_asset_id"`
	Balance               decimal.Decimal `json:"balance"`
	WithdrawTransferLimit decimal.Decimal `json:"withdraw_transfer_limit"`
	IsDisabled            bool            `json:"is_disabled"`
	ModifiedAt            time.Time       `json:"modified_at"`
}
