package onchaind

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Proposal is the transaction (or, for TheirHtlcTimeoutToThem, the logical
// non-transaction) we intend to use to claim a tracked output, along with
// the confirmation depth of the output's parent transaction required
// before it becomes broadcastable.
type Proposal struct {
	// TxType attributes the proposal to one of the closed set of
	// resolution kinds.
	TxType TxType

	// Tx is the fully-signed transaction to broadcast. Nil for a
	// proposal that resolves without a transaction of our own:
	// TheirHtlcTimeoutToThem, and OurHtlcTimeoutToUs for an HTLC too
	// small to sweep above the dust limit.
	Tx *wire.MsgTx

	// RequiredDepth is the confirmation depth the output's parent
	// transaction must reach before Tx becomes valid to broadcast (0 if
	// it is immediately broadcastable, e.g. a CSV/CLTV-free output).
	RequiredDepth uint32
}

// Resolution records how a tracked output was settled on chain. It is
// recorded as soon as the resolving spend is reported (or, for a txless
// proposal, as soon as its required depth is reached); whether it has
// since reached IrrevocableDepth is checked by AllIrrevocablyResolved.
type Resolution struct {
	// TxType attributes the resolution.
	TxType TxType

	// SpendTxid is the txid of the transaction that spent the output.
	// Zero for the resolution of a txless proposal.
	SpendTxid chainhash.Hash

	// SpendHeight is the height at which the resolving transaction was
	// first confirmed (for a txless proposal, the height at which its
	// required depth was reached).
	SpendHeight uint32
}

// TrackedOutput is one output the engine has undertaken to resolve, from
// the moment it is identified (by classifying the close, or by walking a
// commitment transaction's outputs) until it is irrevocably resolved.
type TrackedOutput struct {
	// Outpoint identifies the output.
	Outpoint wire.OutPoint

	// Amount is the output's value in satoshis.
	Amount int64

	// OutputType classifies what the output is.
	OutputType OutputType

	// proposal is the resolution we intend to pursue, set at most once.
	proposal *Proposal

	// resolution is set once the proposal's (or some other) spend is
	// observed, at its first confirmation.
	resolution *Resolution

	// ignored marks an output that required no resolution of its own
	// (e.g. it was already spent immediately by the transaction that
	// created it, or it was explicitly written off).
	ignored bool
}

// NewTrackedOutput constructs a TrackedOutput for the given outpoint,
// amount and type. It begins with no proposal and no resolution.
func NewTrackedOutput(outpoint wire.OutPoint, amount int64,
	outputType OutputType) *TrackedOutput {

	return &TrackedOutput{
		Outpoint:   outpoint,
		Amount:     amount,
		OutputType: outputType,
	}
}

// Propose attaches an immediately-broadcastable resolution proposal to the
// output. It is an internal error to propose twice.
func (o *TrackedOutput) Propose(txType TxType, tx *wire.MsgTx) error {
	return o.ProposeAtDepth(txType, tx, 0)
}

// ProposeAtDepth attaches a resolution proposal that only becomes
// broadcastable once the output's parent transaction reaches requiredDepth
// confirmations (used for CSV/CLTV-gated sweeps, e.g. to_self_delay). It is
// an internal error to propose twice for the same output.
func (o *TrackedOutput) ProposeAtDepth(txType TxType, tx *wire.MsgTx,
	requiredDepth uint32) error {

	if o.proposal != nil {
		return internalErrorf("output %v already has a proposal (%s)",
			o.Outpoint, o.proposal.TxType)
	}
	if o.ignored {
		return internalErrorf("output %v was ignored, cannot propose",
			o.Outpoint)
	}

	o.proposal = &Proposal{
		TxType:        txType,
		Tx:            tx,
		RequiredDepth: requiredDepth,
	}
	return nil
}

// ProposeAtBlock attaches a resolution proposal that only becomes
// broadcastable once the output's parent transaction confirms at or past
// blockRequired, an absolute block height (used for CLTV-gated HTLC
// resolutions, e.g. cltv_expiry). originatingHeight is the height at which
// the parent transaction itself confirmed; the absolute height is
// translated into a confirmation depth via
// depth_required = max(0, blockRequired - originatingHeight).
func (o *TrackedOutput) ProposeAtBlock(txType TxType, tx *wire.MsgTx,
	blockRequired, originatingHeight uint32) error {

	var requiredDepth uint32
	if blockRequired > originatingHeight {
		requiredDepth = blockRequired - originatingHeight
	}
	return o.ProposeAtDepth(txType, tx, requiredDepth)
}

// Ignore marks the output as requiring no resolution of our own. It is an
// internal error to ignore an output that already has a proposal.
func (o *TrackedOutput) Ignore() error {
	if o.proposal != nil {
		return internalErrorf("output %v already has a proposal, "+
			"cannot ignore", o.Outpoint)
	}
	o.ignored = true
	return nil
}

// Proposal returns the output's current proposal, or nil if none has been
// made yet.
func (o *TrackedOutput) Proposal() *Proposal {
	return o.proposal
}

// Resolved reports whether the output has a recorded resolution.
func (o *TrackedOutput) Resolved() bool {
	return o.resolution != nil
}

// Resolution returns the output's recorded resolution, or nil if unresolved.
func (o *TrackedOutput) Resolution() *Resolution {
	return o.resolution
}

// ResolvedByProposal records that the output's own proposal was confirmed,
// using the proposal's TxType and the given txid/height. It is an internal
// error to call this without a prior proposal, or to resolve twice.
func (o *TrackedOutput) ResolvedByProposal(spendTxid chainhash.Hash,
	spendHeight uint32) error {

	if o.proposal == nil {
		return internalErrorf("output %v resolved by its own "+
			"proposal but has none", o.Outpoint)
	}
	return o.resolve(o.proposal.TxType, spendTxid, spendHeight)
}

// ResolvedByOther records that the output was resolved by some transaction
// other than our own proposal (e.g. the close transaction that spent the
// funding output). It is an internal error to resolve twice.
func (o *TrackedOutput) ResolvedByOther(txType TxType,
	spendTxid chainhash.Hash, spendHeight uint32) error {

	return o.resolve(txType, spendTxid, spendHeight)
}

func (o *TrackedOutput) resolve(txType TxType, spendTxid chainhash.Hash,
	spendHeight uint32) error {

	if o.resolution != nil {
		return internalErrorf("output %v already resolved by %s",
			o.Outpoint, o.resolution.TxType)
	}

	o.resolution = &Resolution{
		TxType:      txType,
		SpendTxid:   spendTxid,
		SpendHeight: spendHeight,
	}
	return nil
}

// TrackedOutputStore holds every output the engine has undertaken to
// resolve for one channel close, and answers whether every one of them has
// reached irrevocable resolution.
type TrackedOutputStore struct {
	mu      sync.Mutex
	outputs map[wire.OutPoint]*TrackedOutput
}

// NewTrackedOutputStore constructs an empty store.
func NewTrackedOutputStore() *TrackedOutputStore {
	return &TrackedOutputStore{
		outputs: make(map[wire.OutPoint]*TrackedOutput),
	}
}

// Add registers a new tracked output. It is an internal error to add the
// same outpoint twice.
func (s *TrackedOutputStore) Add(out *TrackedOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outputs[out.Outpoint]; ok {
		return internalErrorf("output %v already tracked", out.Outpoint)
	}
	s.outputs[out.Outpoint] = out
	return nil
}

// Get looks up a tracked output by outpoint.
func (s *TrackedOutputStore) Get(op wire.OutPoint) (*TrackedOutput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := s.outputs[op]
	return out, ok
}

// All returns every tracked output, in no particular order.
func (s *TrackedOutputStore) All() []*TrackedOutput {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*TrackedOutput, 0, len(s.outputs))
	for _, o := range s.outputs {
		out = append(out, o)
	}
	return out
}

// UnknownSpend records that a tracked output was spent by a transaction the
// engine could not attribute to its own proposal or to any expected
// spender, per the unknown_spend operation.
type UnknownSpend struct {
	Outpoint  wire.OutPoint
	SpendTxid chainhash.Hash
}

// ResolveAsUnknownSpend records out as resolved by an unattributed spend,
// returning the UnknownSpend describing it. Used for OUTPUT_TO_US and
// DELAYED_OUTPUT_TO_US outputs spent by a transaction that is neither our
// own proposal nor anything else we can classify.
func (o *TrackedOutput) ResolveAsUnknownSpend(spendTxid chainhash.Hash,
	spendHeight uint32) (*UnknownSpend, error) {

	if err := o.ResolvedByOther(UnknownTxType, spendTxid, spendHeight); err != nil {
		return nil, err
	}
	return &UnknownSpend{Outpoint: o.Outpoint, SpendTxid: spendTxid}, nil
}

// AllIrrevocablyResolved reports whether every tracked output is either
// ignored or has a resolution recorded at least IrrevocableDepth blocks
// below currentHeight.
func (s *TrackedOutputStore) AllIrrevocablyResolved(currentHeight uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.outputs {
		if o.ignored {
			continue
		}
		if o.resolution == nil {
			return false
		}
		if currentHeight < o.resolution.SpendHeight+IrrevocableDepth-1 {
			return false
		}
	}
	return true
}
