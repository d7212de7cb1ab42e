package onchaind

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/keychain"
)

// UnilateralCloseInput bundles everything §4.3 (our own force close) and
// §4.4 (the counterparty's force close) need; the two handlers are mirror
// images of each other, distinguished only by SelfSide: Local means the
// commitment transaction being resolved is our own, Remote means it is the
// counterparty's.
type UnilateralCloseInput struct {
	SelfSide Side

	CommitTx    *wire.MsgTx
	CommitPoint *btcec.PublicKey

	// RevocationBasepoint is the *counterparty of the commitment owner's*
	// revocation basepoint (see deriveKeySet).
	RevocationBasepoint   *btcec.PublicKey
	SelfDelayedBasepoint  *btcec.PublicKey
	SelfPaymentBasepoint  *btcec.PublicKey
	OtherPaymentBasepoint *btcec.PublicKey

	// SelfDelayedBasepointPriv and SelfPaymentBasepointPriv are only
	// populated when SelfSide == Local: only then do we hold the base
	// private keys belonging to the commitment owner.
	SelfDelayedBasepointPriv *btcec.PrivateKey
	SelfPaymentBasepointPriv *btcec.PrivateKey

	// OtherPaymentBasepointPriv is our own payment basepoint's private
	// key. We always hold it, regardless of whose commitment this is:
	// when SelfSide == Remote it is what OtherPaymentBasepoint derives
	// from, needed to sweep our own HTLC off the counterparty's
	// commitment in §4.6(b).
	OtherPaymentBasepointPriv *btcec.PrivateKey

	ToSelfDelay uint32
	Htlcs       []HtlcStub

	// OriginatingHeight is the block height at which CommitTx confirmed,
	// used to translate each HTLC's CltvExpiry into a confirmation depth.
	OriginatingHeight uint32

	// FeerateRange bounds the commitment's unknown feerate; narrowed as a
	// side effect of resolving OUR_HTLC outputs on our own commitment.
	FeerateRange *FeerateRange

	// CounterpartyHtlcSigs are consumed strictly in commitment-output
	// order for LOCAL-owned HTLCs when SelfSide == Local.
	CounterpartyHtlcSigs [][]byte

	// DestScript is our wallet's P2WPKH script, the destination for
	// every sweep transaction this handler proposes.
	DestScript []byte

	DustLimit int64

	Signer *LocalSigner
}

// HandleUnilateralClose implements §4.3/§4.4: enumerate the commitment's
// outputs, match each to exactly one known script, and either track it for
// ignoring or attach a resolution proposal.
func HandleUnilateralClose(store *TrackedOutputStore, in *UnilateralCloseInput) (ChannelState, error) {
	keys, err := deriveKeySet(
		in.CommitPoint, in.RevocationBasepoint, in.SelfDelayedBasepoint,
		in.SelfPaymentBasepoint, in.OtherPaymentBasepoint,
	)
	if err != nil {
		return 0, err
	}

	scripts, err := buildCommitmentScripts(
		in.SelfSide, in.ToSelfDelay, keys, in.Htlcs,
	)
	if err != nil {
		return 0, err
	}

	var delayedPriv, paymentPriv *btcec.PrivateKey
	if in.SelfSide == Local {
		delayedPriv, paymentPriv = derivePrivKeySet(
			in.CommitPoint, in.SelfDelayedBasepointPriv,
			in.SelfPaymentBasepointPriv,
		)
		in.Signer.Register(delayedPriv)
		in.Signer.Register(paymentPriv)
	}

	commitTxid := in.CommitTx.TxHash()
	sigIdx := 0

	for i, txOut := range in.CommitTx.TxOut {
		outpoint := wire.OutPoint{Hash: commitTxid, Index: uint32(i)}
		kind, htlc := scripts.matchOutput(txOut.PkScript)

		switch kind {
		case matchToSelf:
			if in.SelfSide == Local {
				out := NewTrackedOutput(outpoint, txOut.Value, DelayedOutputToUs)
				if err := store.Add(out); err != nil {
					return 0, err
				}
				if err := proposeSelfSweep(in, out, keys, outpoint, txOut.Value, delayedPriv); err != nil {
					return 0, err
				}
			} else {
				out := NewTrackedOutput(outpoint, txOut.Value, DelayedOutputToThem)
				if err := store.Add(out); err != nil {
					return 0, err
				}
				if err := out.Ignore(); err != nil {
					return 0, err
				}
			}

		case matchToOther:
			outputType := OutputToThem
			if in.SelfSide == Remote {
				outputType = OutputToUs
			}
			out := NewTrackedOutput(outpoint, txOut.Value, outputType)
			if err := store.Add(out); err != nil {
				return 0, err
			}
			if err := out.Ignore(); err != nil {
				return 0, err
			}

		case matchHtlc:
			if htlc.Owner == Local {
				out := NewTrackedOutput(outpoint, htlc.Amount, OurHtlc)
				if err := store.Add(out); err != nil {
					return 0, err
				}

				if in.SelfSide == Local {
					if sigIdx >= len(in.CounterpartyHtlcSigs) {
						return 0, internalErrorf("ran out of "+
							"counterparty htlc signatures "+
							"at output %d", i)
					}
					sig := in.CounterpartyHtlcSigs[sigIdx]
					sigIdx++

					senderKey, receiverKey := keys.SelfPaymentKey, keys.OtherPaymentKey
					err := ResolveOurHtlcOurCommit(in.Signer, out, &OurHtlcOurCommitParams{
						Htlc:                     *htlc,
						Outpoint:                 outpoint,
						FeerateRange:             in.FeerateRange,
						RemoteSig:                sig,
						SenderHtlcKey:            senderKey,
						ReceiverHtlcKey:          receiverKey,
						RevocationKey:            keys.SelfRevocationKey,
						LocalHtlcKeyDesc:         keychain.KeyDescriptor{PubKey: paymentPriv.PubKey()},
						SecondLevelRevocationKey: keys.SelfRevocationKey,
						SecondLevelDelayKey:      keys.SelfDelayedPaymentKey,
						ToSelfDelay:              in.ToSelfDelay,
						OriginatingHeight:        in.OriginatingHeight,
					})
					if err != nil {
						return 0, err
					}
				} else {
					senderKey, receiverKey := keys.OtherPaymentKey, keys.SelfPaymentKey

					ourTweak := input.SingleTweakBytes(
						in.CommitPoint, in.OtherPaymentBasepoint,
					)
					ourHtlcPriv := input.TweakPrivKey(
						in.OtherPaymentBasepointPriv, ourTweak,
					)
					in.Signer.Register(ourHtlcPriv)

					err := ResolveOurHtlcTheirCommit(
						in.Signer, out, *htlc, outpoint,
						senderKey, receiverKey, keys.SelfRevocationKey,
						keychain.KeyDescriptor{PubKey: ourHtlcPriv.PubKey()},
						nil, in.DestScript,
						in.FeerateRange.Min, in.DustLimit,
						in.OriginatingHeight,
					)
					if err != nil {
						return 0, err
					}
				}
			} else {
				out := NewTrackedOutput(outpoint, htlc.Amount, TheirHtlc)
				if err := store.Add(out); err != nil {
					return 0, err
				}
				if err := ResolveTheirHtlc(out, *htlc, in.OriginatingHeight); err != nil {
					return 0, err
				}
			}

		default:
			return 0, internalErrorf("output %d of commitment %v "+
				"matches no known script", i, commitTxid)
		}
	}

	if in.SelfSide == Local {
		return StateOurUnilateral, nil
	}
	return StateTheirUnilateral, nil
}

// proposeSelfSweep builds and signs the delayed-to-self sweep transaction
// for our own commitment's to-local output, per §4.3's table entry: an
// nSequence = to_self_delay, nLockTime = 0 spend via
// input.CommitSpendTimeout.
func proposeSelfSweep(in *UnilateralCloseInput, out *TrackedOutput,
	keys *KeySet, outpoint wire.OutPoint, amount int64,
	delayedPriv *btcec.PrivateKey) error {

	toSelfWitnessScript, err := input.CommitScriptToSelf(
		in.ToSelfDelay, keys.SelfDelayedPaymentKey, keys.SelfRevocationKey,
	)
	if err != nil {
		return cryptoFailedf("rebuilding to-self script: %w", err)
	}
	toSelfPkScript, err := input.WitnessScriptHash(toSelfWitnessScript)
	if err != nil {
		return cryptoFailedf("hashing to-self script: %w", err)
	}

	sweepTx := wire.NewMsgTx(2)
	sweepTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: outpoint,
		Sequence:         in.ToSelfDelay,
	})

	// Approximate weight of a legacy one-input-one-output CSV-timeout
	// sweep (sig + empty-vector + witness script, p2wsh input).
	const toSelfSweepWeight = 500

	fee := in.FeerateRange.Min.FeeForWeight(toSelfSweepWeight)
	sweepAmt := amount - fee
	if sweepAmt <= in.DustLimit {
		sweepAmt = amount
	}
	sweepTx.AddTxOut(&wire.TxOut{Value: sweepAmt, PkScript: in.DestScript})

	signDesc := &input.SignDescriptor{
		KeyDesc:       keychain.KeyDescriptor{PubKey: delayedPriv.PubKey()},
		WitnessScript: toSelfWitnessScript,
		Output:        &wire.TxOut{Value: amount},
		HashType: txscript.SigHashAll,
		SigHashes: txscript.NewTxSigHashes(sweepTx,
			txscript.NewCannedPrevOutputFetcher(toSelfPkScript, amount),
		),
		InputIndex: 0,
	}

	witness, err := input.CommitSpendTimeout(in.Signer, signDesc, sweepTx)
	if err != nil {
		return cryptoFailedf("signing delayed self-sweep: %w", err)
	}
	sweepTx.TxIn[0].Witness = witness

	return out.ProposeAtDepth(OurUnilateralToUsReturnToWallet, sweepTx, in.ToSelfDelay)
}
