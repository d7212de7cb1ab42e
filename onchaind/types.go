package onchaind

// TxType tags an on-chain transaction by what produced or consumed it. It
// is used for logging and for resolution attribution; the set is closed and
// callers must exhaustively switch on it rather than extend it.
type TxType int

const (
	// FundingTransaction is the channel's original funding transaction.
	FundingTransaction TxType = iota

	// MutualClose is a cooperatively negotiated closing transaction.
	MutualClose

	// OurUnilateral is our own force-close commitment transaction.
	OurUnilateral

	// TheirUnilateral is the counterparty's force-close commitment
	// transaction.
	TheirUnilateral

	// TheirRevokedUnilateral is a revoked counterparty commitment
	// broadcast as a cheat attempt.
	TheirRevokedUnilateral

	// OurHtlcTimeoutToUs is the second-stage sweep of an HTLC we offered
	// on our own commitment, claimed back after timeout.
	OurHtlcTimeoutToUs

	// TheirHtlcTimeoutToThem is the logical (txless) resolution of an
	// HTLC the counterparty offered us, after it timed out unclaimed.
	TheirHtlcTimeoutToThem

	// OurUnilateralToUsReturnToWallet is the delayed-to-self sweep of
	// our own commitment's to-local output.
	OurUnilateralToUsReturnToWallet

	// Self marks a resolution with no on-chain counterpart: the output
	// was simply ignored once it reached the required depth.
	Self

	// UnknownTxType marks a spend the engine could not attribute to any
	// proposal or expected spender.
	UnknownTxType
)

// String returns the wire/log name for a TxType.
func (t TxType) String() string {
	switch t {
	case FundingTransaction:
		return "FUNDING_TRANSACTION"
	case MutualClose:
		return "MUTUAL_CLOSE"
	case OurUnilateral:
		return "OUR_UNILATERAL"
	case TheirUnilateral:
		return "THEIR_UNILATERAL"
	case TheirRevokedUnilateral:
		return "THEIR_REVOKED_UNILATERAL"
	case OurHtlcTimeoutToUs:
		return "OUR_HTLC_TIMEOUT_TO_US"
	case TheirHtlcTimeoutToThem:
		return "THEIR_HTLC_TIMEOUT_TO_THEM"
	case OurUnilateralToUsReturnToWallet:
		return "OUR_UNILATERAL_TO_US_RETURN_TO_WALLET"
	case Self:
		return "SELF"
	case UnknownTxType:
		return "UNKNOWN_TXTYPE"
	default:
		return "UNKNOWN_TXTYPE"
	}
}

// OutputType classifies what a tracked output *is*, independent of how it
// will be resolved.
type OutputType int

const (
	// FundingOutput is the channel's funding output itself.
	FundingOutput OutputType = iota

	// OutputToUs is an immediately-spendable (no delay) output on the
	// counterparty's commitment paying to us.
	OutputToUs

	// OutputToThem is an immediately-spendable output on our own
	// commitment paying the counterparty.
	OutputToThem

	// DelayedOutputToUs is our to-local output, spendable by us only
	// after to_self_delay.
	DelayedOutputToUs

	// DelayedOutputToThem is the counterparty's to-local output on their
	// own commitment, spendable by them only after their to_self_delay.
	DelayedOutputToThem

	// OurHtlc is an HTLC output that we offered.
	OurHtlc

	// TheirHtlc is an HTLC output that the counterparty offered.
	TheirHtlc
)

// String returns the log name for an OutputType.
func (o OutputType) String() string {
	switch o {
	case FundingOutput:
		return "FUNDING_OUTPUT"
	case OutputToUs:
		return "OUTPUT_TO_US"
	case OutputToThem:
		return "OUTPUT_TO_THEM"
	case DelayedOutputToUs:
		return "DELAYED_OUTPUT_TO_US"
	case DelayedOutputToThem:
		return "DELAYED_OUTPUT_TO_THEM"
	case OurHtlc:
		return "OUR_HTLC"
	case TheirHtlc:
		return "THEIR_HTLC"
	default:
		return "UNKNOWN_OUTPUT_TYPE"
	}
}

// CloseType is the classification the close classifier assigns to the
// transaction that spent the funding output.
type CloseType int

const (
	// CloseMutual is a cooperative close.
	CloseMutual CloseType = iota

	// CloseOurUnilateral is our own force close.
	CloseOurUnilateral

	// CloseTheirUnilateralPrevious is the counterparty's force close
	// using their previous (already-revoked-to-us) commitment point.
	CloseTheirUnilateralPrevious

	// CloseTheirUnilateralCurrent is the counterparty's force close
	// using their current, not-yet-revoked commitment point.
	CloseTheirUnilateralCurrent

	// CloseTheirRevoked is a revoked counterparty commitment broadcast
	// as a cheat attempt.
	CloseTheirRevoked
)

// String returns the log name for a CloseType.
func (c CloseType) String() string {
	switch c {
	case CloseMutual:
		return "mutual"
	case CloseOurUnilateral:
		return "our_unilateral"
	case CloseTheirUnilateralPrevious:
		return "their_unilateral_previous"
	case CloseTheirUnilateralCurrent:
		return "their_unilateral_current"
	case CloseTheirRevoked:
		return "their_revoked"
	default:
		return "unknown_close_type"
	}
}

// Side identifies one of the two channel parties.
type Side int

const (
	// Local is us.
	Local Side = iota

	// Remote is the channel counterparty.
	Remote
)

// String returns "local" or "remote".
func (s Side) String() string {
	if s == Local {
		return "local"
	}
	return "remote"
}

// ChannelState is the coarse classification the parent is told about once
// the close type has been determined, mirroring the three states the
// original onchaind can report.
type ChannelState int

const (
	// StateMutual is reported after a mutual close is classified.
	StateMutual ChannelState = iota

	// StateOurUnilateral is reported after our own force close is
	// classified.
	StateOurUnilateral

	// StateTheirUnilateral is reported after a counterparty force close
	// (current or previous) is classified; a revoked close ends the
	// handshake with an error instead.
	StateTheirUnilateral
)

// String returns the wire name for a ChannelState.
func (s ChannelState) String() string {
	switch s {
	case StateMutual:
		return "ONCHAIND_MUTUAL"
	case StateOurUnilateral:
		return "ONCHAIND_OUR_UNILATERAL"
	case StateTheirUnilateral:
		return "ONCHAIND_THEIR_UNILATERAL"
	default:
		return "ONCHAIND_UNKNOWN"
	}
}

// IrrevocableDepth is the confirmation depth (in blocks) at which a
// resolution is considered irrevocable, per BOLT #5.
const IrrevocableDepth = 100
