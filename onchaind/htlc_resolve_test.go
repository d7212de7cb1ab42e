package onchaind

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/stretchr/testify/require"
)

// signTimeoutTxAtFeerate builds the same candidate HTLC-timeout transaction
// ResolveOurHtlcOurCommit does for one feerate, and signs it with the
// receiver's key, producing the "counterparty signature" the real protocol
// would have handed us ahead of time.
func signTimeoutTxAtFeerate(t *testing.T, outpoint wire.OutPoint,
	cltvExpiry uint32, amount int64, offeredScript, secondLevelPkScript []byte,
	receiverPriv *btcec.PrivateKey, senderPub *btcec.PublicKey,
	feerate SatPerKWeight) []byte {

	t.Helper()

	fee := feerate.FeeForWeight(htlcTimeoutWeight)
	require.Less(t, fee, amount)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: outpoint})
	tx.LockTime = cltvExpiry
	tx.AddTxOut(&wire.TxOut{Value: amount - fee, PkScript: secondLevelPkScript})

	pkScript, err := input.WitnessScriptHash(offeredScript)
	require.NoError(t, err)

	sigHashes := txscript.NewTxSigHashes(
		tx, txscript.NewCannedPrevOutputFetcher(pkScript, amount),
	)
	sigHash, err := txscript.CalcWitnessSigHash(
		offeredScript, sigHashes, txscript.SigHashAll, tx, 0, amount,
	)
	require.NoError(t, err)

	sig := ecdsa.Sign(receiverPriv, sigHash)
	require.True(t, sig.Verify(sigHash, receiverPriv.PubKey()))

	return sig.Serialize()
}

func TestResolveOurHtlcOurCommitFindsMatchingFeerate(t *testing.T) {
	senderPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	receiverPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	revocationPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	secondLevelRevocationPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	secondLevelDelayPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	htlc := HtlcStub{
		CltvExpiry:     500000,
		PaymentHash160: [20]byte{0x01, 0x02, 0x03},
		Owner:          Local,
		Amount:         100000,
	}
	outpoint := wire.OutPoint{Index: 0}

	offeredScript, err := input.SenderHTLCScript(
		senderPriv.PubKey(), receiverPriv.PubKey(), revocationPriv.PubKey(),
		htlc.PaymentHash160[:], false,
	)
	require.NoError(t, err)

	secondLevelScript, err := input.SecondLevelHtlcScript(
		secondLevelRevocationPriv.PubKey(), secondLevelDelayPriv.PubKey(), 144,
	)
	require.NoError(t, err)
	secondLevelPkScript, err := input.WitnessScriptHash(secondLevelScript)
	require.NoError(t, err)

	const trueFeerate = SatPerKWeight(500)
	remoteSig := signTimeoutTxAtFeerate(
		t, outpoint, htlc.CltvExpiry, htlc.Amount, offeredScript,
		secondLevelPkScript, receiverPriv, senderPriv.PubKey(), trueFeerate,
	)

	signer := NewLocalSigner()
	signer.Register(senderPriv)

	feerateRange, err := NewFeerateRange(253, 10000)
	require.NoError(t, err)

	out := NewTrackedOutput(outpoint, htlc.Amount, OurHtlc)

	params := &OurHtlcOurCommitParams{
		Htlc:                     htlc,
		Outpoint:                 outpoint,
		FeerateRange:             feerateRange,
		RemoteSig:                remoteSig,
		SenderHtlcKey:            senderPriv.PubKey(),
		ReceiverHtlcKey:          receiverPriv.PubKey(),
		RevocationKey:            revocationPriv.PubKey(),
		LocalHtlcKeyDesc:         keychain.KeyDescriptor{PubKey: senderPriv.PubKey()},
		SecondLevelRevocationKey: secondLevelRevocationPriv.PubKey(),
		SecondLevelDelayKey:      secondLevelDelayPriv.PubKey(),
		ToSelfDelay:              144,
	}

	err = ResolveOurHtlcOurCommit(signer, out, params)
	require.NoError(t, err)

	require.Equal(t, trueFeerate, feerateRange.Min)
	require.Equal(t, trueFeerate, feerateRange.Max)

	proposal := out.Proposal()
	require.NotNil(t, proposal)
	require.Equal(t, OurHtlcTimeoutToUs, proposal.TxType)
	require.NotNil(t, proposal.Tx)
	require.Len(t, proposal.Tx.TxIn[0].Witness, 5)
}

func TestResolveOurHtlcOurCommitFailsWhenNoFeerateMatches(t *testing.T) {
	senderPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	receiverPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	revocationPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	secondLevelRevocationPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	secondLevelDelayPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	htlc := HtlcStub{
		CltvExpiry:     500000,
		PaymentHash160: [20]byte{0xaa},
		Owner:          Local,
		Amount:         100000,
	}
	outpoint := wire.OutPoint{Index: 1}

	// Sign with a feerate that will never be tried because it's outside
	// the search range handed to ResolveOurHtlcOurCommit.
	offeredScript, err := input.SenderHTLCScript(
		senderPriv.PubKey(), receiverPriv.PubKey(), revocationPriv.PubKey(),
		htlc.PaymentHash160[:], false,
	)
	require.NoError(t, err)
	secondLevelScript, err := input.SecondLevelHtlcScript(
		secondLevelRevocationPriv.PubKey(), secondLevelDelayPriv.PubKey(), 144,
	)
	require.NoError(t, err)
	secondLevelPkScript, err := input.WitnessScriptHash(secondLevelScript)
	require.NoError(t, err)

	const outOfRangeFeerate = SatPerKWeight(50000)
	remoteSig := signTimeoutTxAtFeerate(
		t, outpoint, htlc.CltvExpiry, htlc.Amount, offeredScript,
		secondLevelPkScript, receiverPriv, senderPriv.PubKey(), outOfRangeFeerate,
	)

	signer := NewLocalSigner()
	signer.Register(senderPriv)

	feerateRange, err := NewFeerateRange(253, 10000)
	require.NoError(t, err)

	out := NewTrackedOutput(outpoint, htlc.Amount, OurHtlc)

	params := &OurHtlcOurCommitParams{
		Htlc:                     htlc,
		Outpoint:                 outpoint,
		FeerateRange:             feerateRange,
		RemoteSig:                remoteSig,
		SenderHtlcKey:            senderPriv.PubKey(),
		ReceiverHtlcKey:          receiverPriv.PubKey(),
		RevocationKey:            revocationPriv.PubKey(),
		LocalHtlcKeyDesc:         keychain.KeyDescriptor{PubKey: senderPriv.PubKey()},
		SecondLevelRevocationKey: secondLevelRevocationPriv.PubKey(),
		SecondLevelDelayKey:      secondLevelDelayPriv.PubKey(),
		ToSelfDelay:              144,
	}

	err = ResolveOurHtlcOurCommit(signer, out, params)
	require.Error(t, err)
	require.Nil(t, out.Proposal())
}

func TestResolveOurHtlcTheirCommitProposesSweep(t *testing.T) {
	senderPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	receiverPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	revocationPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	htlc := HtlcStub{
		CltvExpiry:     500000,
		PaymentHash160: [20]byte{0x05},
		Owner:          Local,
		Amount:         80000,
	}
	outpoint := wire.OutPoint{Index: 2}

	signer := NewLocalSigner()
	signer.Register(senderPriv)

	out := NewTrackedOutput(outpoint, htlc.Amount, OurHtlc)

	const originatingHeight = 499900
	err = ResolveOurHtlcTheirCommit(
		signer, out, htlc, outpoint, senderPriv.PubKey(), receiverPriv.PubKey(),
		revocationPriv.PubKey(), keychain.KeyDescriptor{PubKey: senderPriv.PubKey()},
		nil, []byte{0x00, 0x14, 0x01}, SatPerKWeight(500), 354, originatingHeight,
	)
	require.NoError(t, err)

	proposal := out.Proposal()
	require.NotNil(t, proposal)
	require.Equal(t, OurHtlcTimeoutToUs, proposal.TxType)
	require.NotNil(t, proposal.Tx)
	require.Equal(t, uint32(htlc.CltvExpiry-originatingHeight), proposal.RequiredDepth)
}

func TestResolveOurHtlcTheirCommitIgnoresDustOutput(t *testing.T) {
	senderPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	receiverPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	revocationPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	htlc := HtlcStub{
		CltvExpiry:     500000,
		PaymentHash160: [20]byte{0x06},
		Owner:          Local,
		Amount:         400,
	}
	outpoint := wire.OutPoint{Index: 3}

	signer := NewLocalSigner()
	signer.Register(senderPriv)

	out := NewTrackedOutput(outpoint, htlc.Amount, OurHtlc)

	const originatingHeight = 499900
	err = ResolveOurHtlcTheirCommit(
		signer, out, htlc, outpoint, senderPriv.PubKey(), receiverPriv.PubKey(),
		revocationPriv.PubKey(), keychain.KeyDescriptor{PubKey: senderPriv.PubKey()},
		nil, []byte{0x00, 0x14, 0x01}, SatPerKWeight(5000), 354, originatingHeight,
	)
	require.NoError(t, err)

	proposal := out.Proposal()
	require.NotNil(t, proposal)
	require.Nil(t, proposal.Tx)
	require.Equal(t, uint32(htlc.CltvExpiry-originatingHeight), proposal.RequiredDepth)
}

func TestResolveTheirHtlcProposesNilTxGatedAtCltvExpiry(t *testing.T) {
	out := NewTrackedOutput(wire.OutPoint{Index: 4}, 1000, TheirHtlc)
	htlc := HtlcStub{CltvExpiry: 500010, PaymentHash160: [20]byte{0x07}}

	const originatingHeight = 500000
	require.NoError(t, ResolveTheirHtlc(out, htlc, originatingHeight))

	proposal := out.Proposal()
	require.NotNil(t, proposal)
	require.Equal(t, TheirHtlcTimeoutToThem, proposal.TxType)
	require.Nil(t, proposal.Tx)
	require.Equal(t, uint32(10), proposal.RequiredDepth)
}

func TestResolveTheirHtlcFloorsRequiredDepthAtZero(t *testing.T) {
	out := NewTrackedOutput(wire.OutPoint{Index: 5}, 1000, TheirHtlc)
	htlc := HtlcStub{CltvExpiry: 400000, PaymentHash160: [20]byte{0x08}}

	require.NoError(t, ResolveTheirHtlc(out, htlc, 500000))

	proposal := out.Proposal()
	require.NotNil(t, proposal)
	require.Equal(t, uint32(0), proposal.RequiredDepth)
}

func TestHandleKnownPreimageIsUnimplemented(t *testing.T) {
	out := NewTrackedOutput(wire.OutPoint{Index: 5}, 1000, TheirHtlc)

	err := HandleKnownPreimage(out, [32]byte{0x01})
	require.Error(t, err)

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, InternalError, fatal.Kind)
}
