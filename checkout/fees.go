package checkout

// ComputeFee returns the marketplace fee for a sale price, both in minor
// currency units. The fee is 1% of the price rounded half-up, clamped to
// minFeeCents so it never falls under the processor's minimum application
// fee. Integer arithmetic only.
func ComputeFee(priceCents, minFeeCents int64) int64 {
	fee := (priceCents + 50) / 100
	if fee < minFeeCents {
		fee = minFeeCents
	}
	return fee
}

// SplitPrice returns the marketplace fee and the seller's share. The two
// always sum to priceCents exactly.
func SplitPrice(priceCents, minFeeCents int64) (feeCents, sellerCents int64) {
	feeCents = ComputeFee(priceCents, minFeeCents)
	sellerCents = priceCents - feeCents
	return feeCents, sellerCents
}
