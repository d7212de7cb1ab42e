package onchaind

// HandleTheirRevoked is the entry point for §4.5: the counterparty
// broadcast a commitment transaction they had already revoked to us, a
// cheat attempt. The correct response is a justice transaction sweeping
// every output using the revocation private key, grounded on
// breacharbiter.go's overall shape (locate the breached outputs, build a
// single justice transaction via input.CommitSpendRevoke /
// input.ReceiverHtlcSpendRevoke / input.SenderHtlcSpendRevoke).
//
// The source leaves the penalty path unimplemented. Rather than invent
// penalty semantics this rendition keeps it an explicit stub: see
// DESIGN.md's Open Question decision for handle_their_cheat.
func HandleTheirRevoked(commitNum uint64) (ChannelState, error) {
	return 0, internalErrorf("revoked-commitment penalty handling is not "+
		"implemented for commitment %d (open question, see DESIGN.md)",
		commitNum)
}
