package onchaind

// SatPerKWeight expresses a feerate in satoshis per 1000 weight units, the
// unit Lightning fees are negotiated in. Named to match the convention of
// lnd's lnwallet/chainfee.SatPerKWeight.
type SatPerKWeight int64

// FeeForWeight computes the fee, in satoshis, for the given weight at this
// feerate, using the same floor-division the wire fee formulas use.
func (f SatPerKWeight) FeeForWeight(weight int64) int64 {
	return int64(f) * weight / 1000
}

// FeerateRange is a mutable [min, max] bound on the channel's unknown
// feerate, seeded from the commitment fee and narrowed every time a valid
// counterparty signature is observed against a specific candidate feerate.
//
// It is monotonically narrowing: Narrow may only shrink the interval. If a
// narrowing would produce min > max, that indicates an internal
// inconsistency in the caller's candidate feerate and is rejected.
type FeerateRange struct {
	Min SatPerKWeight
	Max SatPerKWeight
}

// NewFeerateRange constructs the initial range from the min and max bounds
// supplied by the parent; it is an internal error for min to exceed max.
// Callers may widen only by constructing a new range, never through Narrow.
func NewFeerateRange(min, max SatPerKWeight) (*FeerateRange, error) {
	if min > max {
		return nil, internalErrorf("invalid feerate range [%d, %d]",
			min, max)
	}
	return &FeerateRange{Min: min, Max: max}, nil
}

// Narrow shrinks the range to a single point, the feerate inferred from a
// successfully verified counterparty signature. It is an internal error to
// narrow to a value outside the current range, or to narrow such that
// min > max results.
func (r *FeerateRange) Narrow(inferred SatPerKWeight) error {
	if inferred < r.Min || inferred > r.Max {
		return internalErrorf("inferred feerate %d outside current "+
			"range [%d, %d]", inferred, r.Min, r.Max)
	}

	newMin, newMax := inferred, inferred
	if newMin < r.Min || newMax > r.Max {
		return internalErrorf("feerate range would widen: "+
			"[%d,%d] -> [%d,%d]", r.Min, r.Max, newMin, newMax)
	}

	r.Min = newMin
	r.Max = newMax
	return nil
}

// Contains reports whether the given feerate lies within [Min, Max].
func (r *FeerateRange) Contains(f SatPerKWeight) bool {
	return f >= r.Min && f <= r.Max
}
