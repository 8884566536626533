package basket

import "math/big"

// pow10 returns 10^exp as a big integer. Exponents here derive from token
// decimals and oracle precisions, both small.
func pow10(exp uint32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// ScaleByDecimals rescales a token amount from one decimal precision to
// another. Scaling down truncates; the lost precision is deliberate and
// mirrors plain integer division.
func ScaleByDecimals(amount uint64, sourceDecimals, destDecimals uint8) (uint64, error) {
	switch {
	case sourceDecimals == destDecimals:
		return amount, nil
	case destDecimals > sourceDecimals:
		scaled := new(big.Int).Mul(
			new(big.Int).SetUint64(amount),
			pow10(uint32(destDecimals-sourceDecimals)),
		)
		if !scaled.IsUint64() {
			return 0, ErrMathOverflow
		}
		return scaled.Uint64(), nil
	default:
		scaled := new(big.Int).Quo(
			new(big.Int).SetUint64(amount),
			pow10(uint32(sourceDecimals-destDecimals)),
		)
		return scaled.Uint64(), nil
	}
}

// ProRataShare computes floor(assetBalance * burnAmount / totalSupply) in a
// widened integer domain so the intermediate product cannot overflow, then
// narrows the result back to 64 bits.
func ProRataShare(assetBalance, burnAmount, totalSupply uint64) (uint64, error) {
	if totalSupply == 0 {
		return 0, ErrZeroSupply
	}
	share := new(big.Int).Mul(
		new(big.Int).SetUint64(assetBalance),
		new(big.Int).SetUint64(burnAmount),
	)
	share.Quo(share, new(big.Int).SetUint64(totalSupply))
	if !share.IsUint64() {
		return 0, ErrCastingFailure
	}
	return share.Uint64(), nil
}

// PriceToIssueAmount converts a deposit amount into reserve tokens at the
// given fixed-point price: floor(amount * price / 10^targetPrecision). The
// peg assumes one reserve token unit equals one price unit. Non-positive
// prices are rejected upstream by oracle validation; a negative price here
// fails the 64-bit narrowing.
func PriceToIssueAmount(depositAmount uint64, price *big.Int, targetPrecision uint32) (uint64, error) {
	if price == nil || price.Sign() <= 0 {
		return 0, ErrCastingFailure
	}
	issued := new(big.Int).Mul(new(big.Int).SetUint64(depositAmount), price)
	issued.Quo(issued, pow10(targetPrecision))
	if !issued.IsUint64() {
		return 0, ErrCastingFailure
	}
	return issued.Uint64(), nil
}

// ClampToPeg caps an oracle price at the 1:1 peg (10^targetPrecision). A
// collateral trading above its peg must never mint more than a 1:1 issuance.
func ClampToPeg(price *big.Int, targetPrecision uint32) *big.Int {
	peg := pow10(targetPrecision)
	if price == nil || price.Cmp(peg) > 0 {
		return peg
	}
	return new(big.Int).Set(price)
}
