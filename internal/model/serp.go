package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// Currency is an opaque identifier for a peg or reserve currency.
// Identifiers are compared case-insensitively; Normalized is the canonical form.
type Currency string

func (c Currency) Normalized() Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(string(c))))
}

func (c Currency) String() string { return string(c) }

func (c Currency) Empty() bool { return strings.TrimSpace(string(c)) == "" }

// Pair identifies a quoted market: peg currency priced in the reference asset.
type Pair struct {
	Base  Currency `json:"base"`
	Quote Currency `json:"quote"`
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Base.Normalized(), p.Quote.Normalized())
}

func (p Pair) Valid() bool { return !p.Base.Empty() && !p.Quote.Empty() }

// PegConfig is the governance-owned policy for one managed currency.
// All rate parameters are explicit configuration, never hard-coded.
type PegConfig struct {
	Currency        Currency        `json:"currency"`
	PegPrice        decimal.Decimal `json:"peg_price"`
	ToleranceBand   decimal.Decimal `json:"tolerance_band"`
	MaxStep         decimal.Decimal `json:"max_step"`
	ReserveRatio    decimal.Decimal `json:"reserve_ratio"`
	ReserveCurrency Currency        `json:"reserve_currency"`
	ReferenceQuote  Currency        `json:"reference_quote"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Pair returns the oracle pair this peg is tracked against.
func (c PegConfig) Pair() Pair {
	return Pair{Base: c.Currency.Normalized(), Quote: c.ReferenceQuote.Normalized()}
}

func (c PegConfig) Validate() error {
	if c.Currency.Empty() {
		return fmt.Errorf("peg config: currency required")
	}
	if !c.PegPrice.IsPositive() {
		return fmt.Errorf("peg config: peg_price must be positive")
	}
	if c.ToleranceBand.IsNegative() {
		return fmt.Errorf("peg config: tolerance_band must not be negative")
	}
	if !c.MaxStep.IsPositive() {
		return fmt.Errorf("peg config: max_step must be positive")
	}
	if !c.ReserveRatio.IsPositive() {
		return fmt.Errorf("peg config: reserve_ratio must be positive")
	}
	if c.ReserveCurrency.Empty() {
		return fmt.Errorf("peg config: reserve_currency required")
	}
	if c.ReserveCurrency.Normalized() == c.Currency.Normalized() {
		return fmt.Errorf("peg config: reserve_currency must differ from currency")
	}
	if c.ReferenceQuote.Empty() {
		return fmt.Errorf("peg config: reference_quote required")
	}
	return nil
}

// PriceObservation is the oracle adapter's per-cycle output. Ephemeral:
// produced fresh each cycle, never persisted by the engine.
type PriceObservation struct {
	Pair       Pair            `json:"pair"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt uint64          `json:"observed_at"`
	ObservedTs time.Time       `json:"observed_ts"`
	IsStale    bool            `json:"is_stale"`
	Sources    int             `json:"sources"`
}

// Direction of a supply adjustment.
type Direction string

const (
	DirectionNone     Direction = "none"
	DirectionExpand   Direction = "expand"
	DirectionContract Direction = "contract"
)

// AdjustmentOrder is the calculator's output, consumed immediately by the
// settlement engine. Magnitude is unsigned; Direction carries the sign.
type AdjustmentOrder struct {
	Currency   Currency        `json:"currency"`
	Direction  Direction       `json:"direction"`
	Magnitude  decimal.Decimal `json:"magnitude"`
	ComputedAt uint64          `json:"computed_at"`
}

// Outcome of a settlement attempt.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeRejected  Outcome = "rejected"
)

// Rejection reasons recorded on SettlementRecord.Reason.
const (
	RejectInsufficientReserve = "insufficient-reserve"
	RejectLedgerError         = "ledger-error"
	RejectInFlight            = "in-flight"
)

// SettlementRecord is one entry of the append-only adjustment log. The log is
// the single source of truth for whether an adjustment already happened, and
// the sum of committed SupplyDelta values reconstructs total supply.
type SettlementRecord struct {
	ID           string          `json:"id"`
	Order        AdjustmentOrder `json:"order"`
	ReserveDelta decimal.Decimal `json:"reserve_delta"`
	SupplyDelta  decimal.Decimal `json:"supply_delta"`
	ExecutedAt   uint64          `json:"executed_at"`
	Outcome      Outcome         `json:"outcome"`
	Reason       string          `json:"reason,omitempty"`
	PrevDigest   string          `json:"prev_digest,omitempty"`
	Digest       string          `json:"digest,omitempty"`
	// Signature is the operator's attestation over Digest. Not part of the
	// digest itself; absent when no attestation key is configured.
	Signature string    `json:"signature,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (r SettlementRecord) Committed() bool { return r.Outcome == OutcomeCommitted }

// canonicalRecord pins field order and string encodings for digesting.
type canonicalRecord struct {
	ID           string `json:"id"`
	Currency     string `json:"currency"`
	Direction    string `json:"direction"`
	Magnitude    string `json:"magnitude"`
	ReserveDelta string `json:"reserveDelta"`
	SupplyDelta  string `json:"supplyDelta"`
	ExecutedAt   uint64 `json:"executedAt"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason"`
	PrevDigest   string `json:"prevDigest"`
}

// ComputeDigest returns the keccak256 digest over the canonical encoding of
// the record, chained through PrevDigest. Digest itself is excluded.
func (r SettlementRecord) ComputeDigest() (string, error) {
	if strings.TrimSpace(r.ID) == "" {
		return "", fmt.Errorf("settlement record: id required")
	}
	canonical := canonicalRecord{
		ID:           strings.TrimSpace(r.ID),
		Currency:     string(r.Order.Currency.Normalized()),
		Direction:    string(r.Order.Direction),
		Magnitude:    r.Order.Magnitude.String(),
		ReserveDelta: r.ReserveDelta.String(),
		SupplyDelta:  r.SupplyDelta.String(),
		ExecutedAt:   r.ExecutedAt,
		Outcome:      string(r.Outcome),
		Reason:       r.Reason,
		PrevDigest:   r.PrevDigest,
	}
	payload, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(ethcrypto.Keccak256(payload)), nil
}

// VerifyDigest recomputes the digest and compares it to the stored value.
func (r SettlementRecord) VerifyDigest() error {
	if r.Digest == "" {
		return fmt.Errorf("settlement record %s: digest missing", r.ID)
	}
	want, err := r.ComputeDigest()
	if err != nil {
		return err
	}
	if !strings.EqualFold(want, r.Digest) {
		return fmt.Errorf("settlement record %s: digest mismatch", r.ID)
	}
	return nil
}

// ReserveAccountID names the ledger account holding the reserve backing for
// the given peg currency. Owned exclusively by the settlement engine.
func ReserveAccountID(peg Currency) string {
	return "serp:reserve:" + string(peg.Normalized())
}

// TreasuryAccountID is the ledger account that receives minted supply and
// surrenders supply for burning.
const TreasuryAccountID = "serp:treasury"
