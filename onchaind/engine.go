package onchaind

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/shachain"

	"github.com/Flowdalic/onchaind/protocol"
)

// Engine drives one channel's full on-chain resolution lifecycle: the
// one-shot init handshake, classification of the transaction that spent
// the funding output, and the depth/spend loop that follows every tracked
// output through to irrevocable resolution.
type Engine struct {
	store  *TrackedOutputStore
	signer *LocalSigner

	commitTxid        chainhash.Hash
	commitSpendHeight uint32
	commitNumOutputs  uint32

	broadcast map[wire.OutPoint]bool
}

// NewEngine constructs an Engine with an empty output store and signer.
func NewEngine() *Engine {
	return &Engine{
		store:     NewTrackedOutputStore(),
		signer:    NewLocalSigner(),
		broadcast: make(map[wire.OutPoint]bool),
	}
}

// Run executes the full engine lifecycle against the duplex connection to
// the parent: the init handshake, then the depth/spend loop until every
// tracked output is irrevocably resolved.
func (e *Engine) Run(r io.Reader, w io.Writer) error {
	state, err := e.handshake(r, w)
	if err != nil {
		return err
	}

	reply := &protocol.OnchainInitReply{State: uint8(state)}
	if err := protocol.WriteMessage(w, reply); err != nil {
		return err
	}

	return e.loop(r, w)
}

// handshake reads the OnchainInit message and its trailing OnchainHtlc
// messages, classifies the close, and dispatches to the appropriate
// per-close-type handler.
func (e *Engine) handshake(r io.Reader, w io.Writer) (ChannelState, error) {
	msg, err := protocol.ReadMessage(r)
	if err != nil {
		return 0, err
	}
	init, ok := msg.(*protocol.OnchainInit)
	if !ok {
		return 0, badCommandf("expected onchain_init, got %T", msg)
	}

	htlcs := make([]HtlcStub, init.NumHtlcs)
	for i := range htlcs {
		msg, err := protocol.ReadMessage(r)
		if err != nil {
			return 0, err
		}
		h, ok := msg.(*protocol.OnchainHtlc)
		if !ok {
			return 0, badCommandf("expected onchain_htlc, got %T", msg)
		}
		htlcs[i] = HtlcStub{
			CltvExpiry:     h.CltvExpiry,
			PaymentHash160: h.PaymentHash160,
			Owner:          sideFromWire(h.Owner),
			Amount:         h.Amount,
		}
	}

	e.commitTxid = init.SpendingTx.TxHash()
	e.commitSpendHeight = init.SpendingHeight
	e.commitNumOutputs = uint32(len(init.SpendingTx.TxOut))

	fundingOutpoint := wire.OutPoint{
		Hash:  init.FundingTxid,
		Index: init.FundingOutputIndex,
	}
	funding := NewTrackedOutput(fundingOutpoint, init.FundingAmountSat, FundingOutput)
	if err := e.store.Add(funding); err != nil {
		return 0, err
	}

	revocationStore, err := shachain.NewRevocationStoreFromBytes(
		bytes.NewReader(init.ShachainBlob),
	)
	if err != nil {
		return 0, badCommandf("decoding shachain blob: %w", err)
	}

	localPaymentBasepoint, err := btcec.ParsePubKey(init.LocalPaymentBasepoint)
	if err != nil {
		return 0, badCommandf("parsing local payment basepoint: %w", err)
	}
	remotePaymentBasepoint, err := btcec.ParsePubKey(init.RemotePaymentBasepoint)
	if err != nil {
		return 0, badCommandf("parsing remote payment basepoint: %w", err)
	}

	funderBasepoint, fundeeBasepoint := localPaymentBasepoint, remotePaymentBasepoint
	if Side(init.Funder) == Remote {
		funderBasepoint, fundeeBasepoint = remotePaymentBasepoint, localPaymentBasepoint
	}

	classification, err := ClassifyClose(&CloseInput{
		SpendingTx:             init.SpendingTx,
		LocalClosingScript:     init.LocalScriptPubkey,
		RemoteClosingScript:    init.RemoteScriptPubkey,
		OurBroadcastTxid:       init.OurBroadcastTxid,
		FunderPaymentBasepoint: funderBasepoint,
		FundeePaymentBasepoint: fundeeBasepoint,
		RevocationsReceived:    init.RevocationsReceived,
		Shachain:               revocationStore,
	})
	if err != nil {
		return 0, err
	}

	log.Infof("classified close of funding outpoint %v as %s, spent by "+
		"%v paying out %v", fundingOutpoint, classification.CloseType,
		e.commitTxid, btcutil.Amount(init.FundingAmountSat))
	log.Debugf("spending transaction: %v", spew.Sdump(init.SpendingTx))

	switch classification.CloseType {
	case CloseMutual:
		closeTxid := init.SpendingTx.TxHash()
		return HandleMutualClose(e.store, funding, closeTxid, init.SpendingHeight)

	case CloseOurUnilateral:
		if err := resolveFunding(funding, OurUnilateral, e.commitTxid, init.SpendingHeight); err != nil {
			return 0, err
		}
		return e.handleOurUnilateral(init, htlcs, classification.CommitNum, remotePaymentBasepoint)

	case CloseTheirUnilateralPrevious, CloseTheirUnilateralCurrent:
		if err := resolveFunding(funding, TheirUnilateral, e.commitTxid, init.SpendingHeight); err != nil {
			return 0, err
		}
		return e.handleTheirUnilateral(init, htlcs, classification.CommitNum, localPaymentBasepoint, remotePaymentBasepoint)

	case CloseTheirRevoked:
		log.Warnf("counterparty broadcast revoked commitment number %d "+
			"for funding outpoint %v, treating as a cheat attempt",
			classification.CommitNum, fundingOutpoint)
		if err := resolveFunding(funding, TheirRevokedUnilateral, e.commitTxid, init.SpendingHeight); err != nil {
			return 0, err
		}
		return HandleTheirRevoked(classification.CommitNum)

	default:
		return 0, internalErrorf("unhandled close type %s", classification.CloseType)
	}
}

// resolveFunding records that the channel's funding output was spent by
// the classified close transaction; the funding output itself requires no
// proposal of our own, its spend is simply the close.
func resolveFunding(funding *TrackedOutput, txType TxType,
	spendTxid chainhash.Hash, spendHeight uint32) error {

	return funding.ResolvedByOther(txType, spendTxid, spendHeight)
}

func (e *Engine) handleOurUnilateral(init *protocol.OnchainInit, htlcs []HtlcStub,
	commitNum uint64, remotePaymentBasepoint *btcec.PublicKey) (ChannelState, error) {

	commitPoint := commitmentPoint(init.ChannelSeed, commitNum)

	revocationBasepoint, err := btcec.ParsePubKey(init.RemoteRevocationBasepoint)
	if err != nil {
		return 0, badCommandf("parsing remote revocation basepoint: %w", err)
	}
	selfDelayedBasepoint, err := btcec.ParsePubKey(init.LocalDelayedPaymentBasepoint)
	if err != nil {
		return 0, badCommandf("parsing local delayed payment basepoint: %w", err)
	}
	selfPaymentBasepoint, err := btcec.ParsePubKey(init.LocalPaymentBasepoint)
	if err != nil {
		return 0, badCommandf("parsing local payment basepoint: %w", err)
	}

	selfDelayedPriv, _ := btcec.PrivKeyFromBytes(init.LocalDelayedPaymentBasepointPriv[:])
	selfPaymentPriv, _ := btcec.PrivKeyFromBytes(init.LocalPaymentBasepointPriv[:])

	feerateRange, err := NewFeerateRange(
		SatPerKWeight(init.FeerateRangeMin), SatPerKWeight(init.FeerateRangeMax),
	)
	if err != nil {
		return 0, err
	}

	return HandleUnilateralClose(e.store, &UnilateralCloseInput{
		SelfSide:                 Local,
		CommitTx:                 init.SpendingTx,
		CommitPoint:              commitPoint,
		RevocationBasepoint:      revocationBasepoint,
		SelfDelayedBasepoint:     selfDelayedBasepoint,
		SelfPaymentBasepoint:     selfPaymentBasepoint,
		OtherPaymentBasepoint:    remotePaymentBasepoint,
		SelfDelayedBasepointPriv: selfDelayedPriv,
		SelfPaymentBasepointPriv: selfPaymentPriv,
		ToSelfDelay:              init.LocalToSelfDelay,
		Htlcs:                    htlcs,
		OriginatingHeight:        init.SpendingHeight,
		FeerateRange:             feerateRange,
		CounterpartyHtlcSigs:     init.CounterpartyHtlcSigs,
		DestScript:               init.LocalScriptPubkey,
		DustLimit:                init.LocalDustLimitSat,
		Signer:                   e.signer,
	})
}

func (e *Engine) handleTheirUnilateral(init *protocol.OnchainInit, htlcs []HtlcStub,
	commitNum uint64, localPaymentBasepoint, remotePaymentBasepoint *btcec.PublicKey) (ChannelState, error) {

	var commitPoint *btcec.PublicKey
	var err error
	if commitNum == init.RevocationsReceived {
		commitPoint, err = btcec.ParsePubKey(init.OldRemotePerCommitPoint)
	} else {
		commitPoint, err = btcec.ParsePubKey(init.RemotePerCommitPoint)
	}
	if err != nil {
		return 0, badCommandf("parsing remote per-commitment point: %w", err)
	}

	localRevocationBasepoint, err := btcec.ParsePubKey(init.LocalRevocationBasepoint)
	if err != nil {
		return 0, badCommandf("parsing local revocation basepoint: %w", err)
	}
	selfDelayedBasepoint, err := btcec.ParsePubKey(init.RemoteDelayedPaymentBasepoint)
	if err != nil {
		return 0, badCommandf("parsing remote delayed payment basepoint: %w", err)
	}

	ourPaymentPriv, _ := btcec.PrivKeyFromBytes(init.LocalPaymentBasepointPriv[:])

	feerateRange, err := NewFeerateRange(
		SatPerKWeight(init.FeerateRangeMin), SatPerKWeight(init.FeerateRangeMax),
	)
	if err != nil {
		return 0, err
	}

	return HandleUnilateralClose(e.store, &UnilateralCloseInput{
		SelfSide:                  Remote,
		CommitTx:                  init.SpendingTx,
		CommitPoint:               commitPoint,
		RevocationBasepoint:       localRevocationBasepoint,
		SelfDelayedBasepoint:      selfDelayedBasepoint,
		SelfPaymentBasepoint:      remotePaymentBasepoint,
		OtherPaymentBasepoint:     localPaymentBasepoint,
		OtherPaymentBasepointPriv: ourPaymentPriv,
		ToSelfDelay:               init.RemoteToSelfDelay,
		Htlcs:                     htlcs,
		OriginatingHeight:         init.SpendingHeight,
		FeerateRange:              feerateRange,
		DestScript:                init.LocalScriptPubkey,
		DustLimit:                 init.LocalDustLimitSat,
		Signer:                    e.signer,
	})
}

// loop processes depth and spend notifications until every tracked output
// is irrevocably resolved, then reports which watched transaction's
// outputs may be forgotten.
func (e *Engine) loop(r io.Reader, w io.Writer) error {
	for {
		msg, err := protocol.ReadMessage(r)
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case *protocol.OnchainDepth:
			if m.Txid != e.commitTxid {
				continue
			}
			if err := e.handleDepth(w, m.Depth); err != nil {
				return err
			}
			if e.store.AllIrrevocablyResolved(e.currentHeight(m.Depth)) {
				log.Infof("commitment %v fully resolved at depth %d, "+
					"requesting unwatch of its %d outputs",
					e.commitTxid, m.Depth, e.commitNumOutputs)
				return protocol.WriteMessage(w, &protocol.OnchainUnwatchTx{
					Txid:       e.commitTxid,
					NumOutputs: e.commitNumOutputs,
				})
			}

		case *protocol.OnchainSpent:
			if err := e.handleSpent(w, m); err != nil {
				return err
			}

		case *protocol.OnchainKnownPreimage:
			if err := e.handleKnownPreimage(m); err != nil {
				return err
			}

		default:
			return badCommandf("unexpected message %T in resolution loop", msg)
		}
	}
}

// currentHeight derives the chain tip height from a depth report against
// the commitment transaction: a depth of 1 means the commitment
// transaction confirmed exactly at commitSpendHeight.
func (e *Engine) currentHeight(commitDepth uint32) uint32 {
	if commitDepth == 0 {
		return e.commitSpendHeight
	}
	return e.commitSpendHeight + commitDepth - 1
}

// handleDepth broadcasts every proposal whose RequiredDepth the
// commitment's confirmation depth has now reached, skipping proposals
// already broadcast. A proposal with no transaction of its own (e.g.
// TheirHtlcTimeoutToThem) is instead marked resolved the moment its
// required depth is reached: there is nothing to broadcast.
func (e *Engine) handleDepth(w io.Writer, depth uint32) error {
	for _, out := range e.store.All() {
		if out.Resolved() {
			continue
		}
		proposal := out.Proposal()
		if proposal == nil {
			continue
		}
		if depth < proposal.RequiredDepth {
			continue
		}

		if proposal.Tx == nil {
			log.Infof("marking %s for outpoint %v resolved at depth %d "+
				"with no transaction of its own",
				proposal.TxType, out.Outpoint, depth)
			if err := out.ResolvedByProposal(chainhash.Hash{}, e.currentHeight(depth)); err != nil {
				return err
			}
			continue
		}

		if e.broadcast[out.Outpoint] {
			continue
		}
		e.broadcast[out.Outpoint] = true

		log.Infof("broadcasting %s for outpoint %v (%v) at depth %d",
			proposal.TxType, out.Outpoint, btcutil.Amount(out.Amount), depth)
		log.Debugf("broadcast transaction: %v", spew.Sdump(proposal.Tx))

		if err := protocol.WriteMessage(w, &protocol.OnchainBroadcastTx{
			Label: proposal.TxType.String(),
			Tx:    proposal.Tx,
		}); err != nil {
			return err
		}
	}
	return nil
}

// handleSpent records the resolution of a tracked output once its spend is
// observed, whether by our own proposal or by some other transaction (e.g.
// the counterparty claiming an HTLC with the preimage first). A spend of an
// outpoint the engine never took on is reported back via unwatch_tx rather
// than treated as fatal; a second, conflicting spend of an already-resolved
// output is fatal.
func (e *Engine) handleSpent(w io.Writer, m *protocol.OnchainSpent) error {
	out, ok := e.store.Get(m.Outpoint)
	if !ok {
		log.Warnf("spend reported for untracked outpoint %v, requesting unwatch",
			m.Outpoint)
		return protocol.WriteMessage(w, &protocol.OnchainUnwatchTx{
			Txid:       m.Outpoint.Hash,
			NumOutputs: m.Outpoint.Index + 1,
		})
	}

	spendTxid := m.Tx.TxHash()

	if out.Resolved() {
		if out.Resolution().SpendTxid == spendTxid {
			return nil
		}
		return internalErrorf("outpoint %v already resolved by %s (%v), "+
			"but a conflicting spend %v was reported", out.Outpoint,
			out.Resolution().TxType, out.Resolution().SpendTxid, spendTxid)
	}

	proposal := out.Proposal()
	if proposal != nil && proposal.Tx != nil && proposal.Tx.TxHash() == spendTxid {
		log.Debugf("outpoint %v resolved by our own %s proposal %v",
			out.Outpoint, proposal.TxType, spendTxid)
		return out.ResolvedByProposal(spendTxid, m.SpendHeight)
	}

	switch out.OutputType {
	case OutputToUs, DelayedOutputToUs:
		log.Warnf("output %v (%s) spent by unexpected transaction %v, "+
			"not our own proposal", out.Outpoint, out.OutputType, spendTxid)
		_, err := out.ResolveAsUnknownSpend(spendTxid, m.SpendHeight)
		return err

	case TheirHtlc:
		log.Debugf("their htlc output %v spent by %v ahead of its timeout "+
			"proposal; leaving it to the txless timeout resolution",
			out.Outpoint, spendTxid)
		return nil

	case OurHtlc:
		preimage, found := extractPreimage(m.Tx, out.Outpoint)
		if !found {
			return internalErrorf("our htlc output %v spent by %v with no "+
				"recognizable preimage witness", out.Outpoint, spendTxid)
		}
		return HandleKnownPreimage(out, preimage)

	case FundingOutput:
		return internalErrorf("funding output %v unexpectedly re-spent by %v",
			out.Outpoint, spendTxid)

	case OutputToThem, DelayedOutputToThem:
		return internalErrorf("output %v (%s), which belongs to the "+
			"counterparty, was spent by %v; we do not resolve it ourselves",
			out.Outpoint, out.OutputType, spendTxid)

	default:
		return internalErrorf("output %v has unhandled output type %s",
			out.Outpoint, out.OutputType)
	}
}

// extractPreimage looks for a 32-byte payment preimage in the witness of
// the input of tx that spends outpoint, per the HTLC-success witness
// layout (signature, preimage, witness script).
func extractPreimage(tx *wire.MsgTx, outpoint wire.OutPoint) ([32]byte, bool) {
	for _, txIn := range tx.TxIn {
		if txIn.PreviousOutPoint != outpoint {
			continue
		}
		for _, item := range txIn.Witness {
			if len(item) == 32 {
				var preimage [32]byte
				copy(preimage[:], item)
				return preimage, true
			}
		}
	}
	return [32]byte{}, false
}

func (e *Engine) handleKnownPreimage(m *protocol.OnchainKnownPreimage) error {
	for _, out := range e.store.All() {
		if out.OutputType == TheirHtlc && !out.Resolved() {
			log.Debugf("applying learned preimage to their HTLC output %v",
				out.Outpoint)
			if err := HandleKnownPreimage(out, m.Preimage); err != nil {
				return err
			}
		}
	}
	return nil
}

func sideFromWire(b uint8) Side {
	if b == uint8(Remote) {
		return Remote
	}
	return Local
}
