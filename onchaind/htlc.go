package onchaind

// HtlcStub is what the parent tells us about one HTLC carried by the
// commitment transaction being resolved: just enough to reconstruct its
// witness script, match it against a commitment output and size a sweep of
// it. The rest of the HTLC (its id and routing state) lives in the
// parent's channel state.
type HtlcStub struct {
	// CltvExpiry is the absolute block height after which the HTLC's
	// sender may reclaim the funds.
	CltvExpiry uint32

	// PaymentHash160 is ripemd160(sha256(preimage)), as carried in the
	// witness script (BOLT #3 uses the 20-byte hash on-chain to save
	// space).
	PaymentHash160 [20]byte

	// Owner is the side that offered this HTLC.
	Owner Side

	// Amount is the HTLC's value in satoshis, needed to size the
	// second-stage sweep's sign descriptor.
	Amount int64
}
