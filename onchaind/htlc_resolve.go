package onchaind

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/keychain"
)

// htlcTimeoutWeight is the fixed weight of a legacy HTLC-timeout
// transaction, used to compute its fee from a candidate feerate.
const htlcTimeoutWeight = 663

// OurHtlcOurCommitParams bundles the inputs ResolveOurHtlcOurCommit needs to
// construct and verify candidate HTLC-timeout transactions, per §4.6(a):
// building the second-stage HTLC-timeout transaction for an HTLC we offered
// on our own commitment, brute-forcing the unknown feerate against the
// counterparty's pre-supplied signature.
//
// Grounded on lnwallet/transactions.go's CreateHtlcTimeoutTx, adapted to
// build the offered-HTLC witness script directly via input.SenderHTLCScript
// rather than channeldb.ChannelType-parameterized helpers.
type OurHtlcOurCommitParams struct {
	// Htlc is the offered HTLC being resolved.
	Htlc HtlcStub

	// Outpoint is the HTLC output on the commitment transaction.
	Outpoint wire.OutPoint

	// FeerateRange bounds the unknown commitment feerate; narrowed in
	// place once the matching feerate is found.
	FeerateRange *FeerateRange

	// RemoteSig is the counterparty's pre-supplied signature over the
	// HTLC-timeout transaction, without the trailing sighash byte.
	RemoteSig []byte

	// SenderHtlcKey and ReceiverHtlcKey are the two keys parameterizing
	// the offered-HTLC witness script (sender is us).
	SenderHtlcKey, ReceiverHtlcKey *btcec.PublicKey

	// RevocationKey is the revocation pubkey of the commitment the HTLC
	// output lives on.
	RevocationKey *btcec.PublicKey

	// LocalHtlcKeyDesc identifies our own HTLC signing key for the
	// LocalSigner.
	LocalHtlcKeyDesc keychain.KeyDescriptor

	// SecondLevelRevocationKey and SecondLevelDelayKey parameterize the
	// second-stage output's own script (the covenant transitioning the
	// HTLC into a delayed claim by us).
	SecondLevelRevocationKey, SecondLevelDelayKey *btcec.PublicKey

	// ToSelfDelay is the CSV delay imposed on the second-stage output.
	ToSelfDelay uint32

	// OriginatingHeight is the block height at which the commitment
	// transaction carrying this HTLC output confirmed, used to translate
	// Htlc.CltvExpiry into a confirmation depth.
	OriginatingHeight uint32
}

// ResolveOurHtlcOurCommit constructs, brute-force fee-matches, and signs the
// HTLC-timeout transaction for an offered HTLC on our own commitment, per
// §4.6(a). On success it narrows p.FeerateRange to the single matching
// value and proposes the transaction on out, gated at cltv_expiry blocks
// (translated to a required confirmation depth against
// p.OriginatingHeight by ProposeAtBlock).
func ResolveOurHtlcOurCommit(signer input.Signer, out *TrackedOutput,
	p *OurHtlcOurCommitParams) error {

	offeredScript, err := input.SenderHTLCScript(
		p.SenderHtlcKey, p.ReceiverHtlcKey, p.RevocationKey,
		p.Htlc.PaymentHash160[:], false,
	)
	if err != nil {
		return cryptoFailedf("rebuilding offered htlc script: %w", err)
	}
	offeredPkScript, err := input.WitnessScriptHash(offeredScript)
	if err != nil {
		return cryptoFailedf("hashing offered htlc script: %w", err)
	}

	secondLevelScript, err := input.SecondLevelHtlcScript(
		p.SecondLevelRevocationKey, p.SecondLevelDelayKey, p.ToSelfDelay,
	)
	if err != nil {
		return cryptoFailedf("building second-level script: %w", err)
	}
	secondLevelPkScript, err := input.WitnessScriptHash(secondLevelScript)
	if err != nil {
		return cryptoFailedf("hashing second-level script: %w", err)
	}

	timeoutTx := wire.NewMsgTx(2)
	timeoutTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: p.Outpoint,
		Sequence:         0,
	})
	timeoutTx.LockTime = p.Htlc.CltvExpiry

	sigHashes := txscript.NewTxSigHashes(timeoutTx,
		txscript.NewCannedPrevOutputFetcher(offeredPkScript, p.Htlc.Amount),
	)

	var (
		matchedFeerate SatPerKWeight
		found          bool
		triedFee       = int64(-1)
	)

	for i := p.FeerateRange.Max; i >= p.FeerateRange.Min; i-- {
		fee := i.FeeForWeight(htlcTimeoutWeight)
		if fee > p.Htlc.Amount {
			continue
		}
		if fee == triedFee {
			continue
		}
		triedFee = fee

		outAmt := p.Htlc.Amount - fee
		timeoutTx.TxOut = []*wire.TxOut{{
			Value:    outAmt,
			PkScript: secondLevelPkScript,
		}}

		sigHash, err := txscript.CalcWitnessSigHash(
			offeredScript, sigHashes, txscript.SigHashAll,
			timeoutTx, 0, p.Htlc.Amount,
		)
		if err != nil {
			return cryptoFailedf("computing sighash: %w", err)
		}

		sig, err := ecdsa.ParseDERSignature(p.RemoteSig)
		if err != nil {
			return cryptoFailedf("parsing counterparty htlc "+
				"signature: %w", err)
		}
		if sig.Verify(sigHash, p.ReceiverHtlcKey) {
			matchedFeerate = i
			found = true
			break
		}
	}
	if !found {
		return internalErrorf("no feerate in range [%d,%d] matches "+
			"the counterparty's htlc-timeout signature for %v",
			p.FeerateRange.Min, p.FeerateRange.Max, p.Outpoint)
	}

	if err := p.FeerateRange.Narrow(matchedFeerate); err != nil {
		return err
	}

	signDesc := &input.SignDescriptor{
		KeyDesc:       p.LocalHtlcKeyDesc,
		WitnessScript: offeredScript,
		Output: &wire.TxOut{
			Value:    p.Htlc.Amount,
			PkScript: nil,
		},
		HashType:   txscript.SigHashAll,
		SigHashes:  sigHashes,
		InputIndex: 0,
	}

	remoteSig, err := ecdsa.ParseDERSignature(p.RemoteSig)
	if err != nil {
		return cryptoFailedf("parsing counterparty htlc signature: %w", err)
	}

	witness, err := input.SenderHtlcSpendTimeout(
		remoteSig, txscript.SigHashAll, signer, signDesc, timeoutTx,
	)
	if err != nil {
		return cryptoFailedf("signing htlc-timeout tx: %w", err)
	}
	timeoutTx.TxIn[0].Witness = witness

	return out.ProposeAtBlock(
		OurHtlcTimeoutToUs, timeoutTx, p.Htlc.CltvExpiry, p.OriginatingHeight,
	)
}

// ResolveOurHtlcTheirCommit sweeps an HTLC we offered on the counterparty's
// commitment transaction directly, per §4.6(b): a single-stage spend after
// cltv_expiry, no second-level transaction. If the HTLC amount less the fee
// does not exceed dustLimit, no sweep transaction is built: a txless
// OurHtlcTimeoutToUs proposal is made at cltv_expiry instead.
func ResolveOurHtlcTheirCommit(signer input.Signer, out *TrackedOutput,
	htlc HtlcStub, outpoint wire.OutPoint, senderHtlcKey,
	receiverHtlcKey, revocationKey *btcec.PublicKey,
	localHtlcKeyDesc keychain.KeyDescriptor, singleTweak []byte,
	destScript []byte, feerate SatPerKWeight, dustLimit int64,
	originatingHeight uint32) error {

	offeredScript, err := input.ReceiverHTLCScript(
		htlc.CltvExpiry, senderHtlcKey, receiverHtlcKey, revocationKey,
		htlc.PaymentHash160[:], false,
	)
	if err != nil {
		return cryptoFailedf("rebuilding received htlc script: %w", err)
	}
	offeredPkScript, err := input.WitnessScriptHash(offeredScript)
	if err != nil {
		return cryptoFailedf("hashing received htlc script: %w", err)
	}

	sweepTx := wire.NewMsgTx(2)
	sweepTx.AddTxIn(&wire.TxIn{PreviousOutPoint: outpoint})

	const htlcTimeoutSingleStageWeight = 673 + 73
	fee := feerate.FeeForWeight(htlcTimeoutSingleStageWeight)

	amt := htlc.Amount - fee
	if amt <= dustLimit {
		return out.ProposeAtBlock(
			OurHtlcTimeoutToUs, nil, htlc.CltvExpiry, originatingHeight,
		)
	}

	sweepTx.AddTxOut(&wire.TxOut{Value: amt, PkScript: destScript})

	signDesc := &input.SignDescriptor{
		KeyDesc:       localHtlcKeyDesc,
		SingleTweak:   singleTweak,
		WitnessScript: offeredScript,
		Output: &wire.TxOut{
			Value:    htlc.Amount,
			PkScript: nil,
		},
		HashType: txscript.SigHashAll,
		SigHashes: txscript.NewTxSigHashes(sweepTx,
			txscript.NewCannedPrevOutputFetcher(offeredPkScript, htlc.Amount),
		),
		InputIndex: 0,
	}

	witness, err := input.ReceiverHtlcSpendTimeout(
		signer, signDesc, sweepTx, int32(htlc.CltvExpiry),
	)
	if err != nil {
		return cryptoFailedf("signing htlc sweep tx: %w", err)
	}
	sweepTx.TxIn[0].Witness = witness

	return out.ProposeAtBlock(
		OurHtlcTimeoutToUs, sweepTx, htlc.CltvExpiry, originatingHeight,
	)
}

// ResolveTheirHtlc proposes the null (txless) resolution for a
// counterparty-offered HTLC we cannot yet claim, per §4.7: once the output
// reaches the required depth past cltv_expiry, the engine resolves it under
// this TheirHtlcTimeoutToThem proposal with a zero txid. The output is not
// marked ignored and no Self resolution is recorded for it.
func ResolveTheirHtlc(out *TrackedOutput, htlc HtlcStub, originatingHeight uint32) error {
	return out.ProposeAtBlock(
		TheirHtlcTimeoutToThem, nil, htlc.CltvExpiry, originatingHeight,
	)
}

// HandleKnownPreimage is invoked when the parent reports a preimage for a
// tracked counterparty-offered HTLC, and when one of our offered HTLC
// outputs is spent with a preimage witness. The source leaves this path
// unimplemented (a FIXME); this rendition keeps it an explicit stub rather
// than inventing sweep-by-preimage semantics, consistent with the
// preimage-fulfillment non-goal.
func HandleKnownPreimage(out *TrackedOutput, preimage [32]byte) error {
	return internalErrorf("preimage-based htlc claim is not implemented " +
		"(open question, see DESIGN.md)")
}
