// Package engine implements the supply-adjustment pipeline: the pure
// adjustment calculator, the reserve settlement engine, and the per-height
// cycle runner that drives them.
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/serpworks/serpd/internal/model"
	"github.com/serpworks/serpd/internal/pkg/apperrors"
)

// maxWorkingDigits bounds the integer digits of any intermediate value. The
// decimal library does not wrap, so "overflow" here means a result too large
// to be a sane balance; such cycles abort for the currency with no mutation.
const maxWorkingDigits = 38

// rangeCheck rejects values whose integer part exceeds the working bound.
func rangeCheck(values ...decimal.Decimal) error {
	limit := decimal.New(1, maxWorkingDigits)
	for _, v := range values {
		if v.Abs().GreaterThanOrEqual(limit) {
			return apperrors.Newf(apperrors.ErrArithmeticOverflow,
				"value %s exceeds %d-digit working bound", v.String(), maxWorkingDigits)
		}
	}
	return nil
}

// Compute maps one observation to an adjustment order.
//
// deviation = (price - peg) / peg. Inside the tolerance band, or on a stale
// observation, the order is a no-op: the dead band keeps feed noise from
// oscillating supply. Outside it, magnitude is proportional to supply but
// clamped by the per-peg max step, so a single manipulated print can never
// move more than the configured fraction of supply in one cycle.
func Compute(obs model.PriceObservation, cfg model.PegConfig, supply decimal.Decimal) (model.AdjustmentOrder, error) {
	order := model.AdjustmentOrder{
		Currency:   cfg.Currency.Normalized(),
		Direction:  model.DirectionNone,
		Magnitude:  decimal.Zero,
		ComputedAt: obs.ObservedAt,
	}

	if obs.IsStale {
		return order, nil
	}
	if !cfg.PegPrice.IsPositive() {
		return order, apperrors.Newf(apperrors.ErrArithmeticOverflow,
			"peg price %s must be positive", cfg.PegPrice.String())
	}
	if supply.IsNegative() {
		return order, apperrors.Newf(apperrors.ErrArithmeticOverflow,
			"supply %s must not be negative", supply.String())
	}
	if err := rangeCheck(obs.Price, supply); err != nil {
		return order, err
	}

	deviation := obs.Price.Sub(cfg.PegPrice).Div(cfg.PegPrice)
	if deviation.Abs().LessThanOrEqual(cfg.ToleranceBand) {
		return order, nil
	}

	step := deviation.Abs()
	if step.GreaterThan(cfg.MaxStep) {
		step = cfg.MaxStep
	}

	magnitude := supply.Mul(step)
	if err := rangeCheck(magnitude); err != nil {
		return order, err
	}
	// Round down to whole currency exponent units; never adjust by more than
	// the proportional target.
	magnitude = magnitude.RoundDown(int32(magnitudeScale))

	if deviation.IsPositive() {
		order.Direction = model.DirectionExpand
	} else {
		order.Direction = model.DirectionContract
		// A contraction can never retire more than exists.
		if magnitude.GreaterThan(supply) {
			magnitude = supply
		}
	}
	if !magnitude.IsPositive() {
		// Rounded to nothing: treat as inside the dead band.
		order.Direction = model.DirectionNone
		order.Magnitude = decimal.Zero
		return order, nil
	}
	order.Magnitude = magnitude
	return order, nil
}

// magnitudeScale is the fractional precision of adjustment magnitudes.
// Eight decimal places covers every currency unit in use here.
const magnitudeScale = 8
