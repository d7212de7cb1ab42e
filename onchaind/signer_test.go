package onchaind

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/stretchr/testify/require"
)

func simpleCheckSigScript(t *testing.T, pub *btcec.PublicKey) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddData(pub.SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)
	return script
}

func TestLocalSignerFetchPrivKeyRejectsUnregisteredKey(t *testing.T) {
	signer := NewLocalSigner()

	unregistered, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	desc := &keychain.KeyDescriptor{PubKey: unregistered.PubKey()}
	_, err = signer.fetchPrivKey(desc)
	require.Error(t, err)

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, CryptoFailed, fatal.Kind)
}

func TestLocalSignerFetchPrivKeyRejectsMissingPubKey(t *testing.T) {
	signer := NewLocalSigner()

	_, err := signer.fetchPrivKey(&keychain.KeyDescriptor{})
	require.Error(t, err)
}

func TestLocalSignerSignOutputRawProducesValidSignature(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	signer := NewLocalSigner()
	signer.Register(priv)

	witnessScript := simpleCheckSigScript(t, priv.PubKey())
	pkScript, err := input.WitnessScriptHash(witnessScript)
	require.NoError(t, err)

	const amt = int64(50000)
	prevOut := &wire.TxOut{Value: amt, PkScript: pkScript}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0}})
	tx.AddTxOut(&wire.TxOut{Value: amt - 1000, PkScript: []byte{0x00, 0x14}})

	sigHashes := txscript.NewTxSigHashes(
		tx, txscript.NewCannedPrevOutputFetcher(pkScript, amt),
	)

	signDesc := &input.SignDescriptor{
		KeyDesc:       keychain.KeyDescriptor{PubKey: priv.PubKey()},
		WitnessScript: witnessScript,
		Output:        prevOut,
		HashType:      txscript.SigHashAll,
		SigHashes:     sigHashes,
		InputIndex:    0,
	}

	sig, err := signer.SignOutputRaw(tx, signDesc)
	require.NoError(t, err)

	sigHash, err := txscript.CalcWitnessSigHash(
		witnessScript, sigHashes, txscript.SigHashAll, tx, 0, amt,
	)
	require.NoError(t, err)
	require.True(t, sig.Verify(sigHash, priv.PubKey()))
}

func TestLocalSignerSignOutputRawAppliesSingleTweak(t *testing.T) {
	base, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	commitPoint, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	commitPub := commitPoint.PubKey()

	signer := NewLocalSigner()
	signer.Register(base)

	tweakedPub := input.TweakPubKey(base.PubKey(), commitPub)
	witnessScript := simpleCheckSigScript(t, tweakedPub)
	pkScript, err := input.WitnessScriptHash(witnessScript)
	require.NoError(t, err)

	const amt = int64(20000)
	prevOut := &wire.TxOut{Value: amt, PkScript: pkScript}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0}})
	tx.AddTxOut(&wire.TxOut{Value: amt - 500, PkScript: []byte{0x00, 0x14}})

	sigHashes := txscript.NewTxSigHashes(
		tx, txscript.NewCannedPrevOutputFetcher(pkScript, amt),
	)

	signDesc := &input.SignDescriptor{
		// fetchPrivKey looks the key up by its un-tweaked base pubkey;
		// the tweak is what derives the key that actually matches
		// witnessScript.
		KeyDesc:       keychain.KeyDescriptor{PubKey: base.PubKey()},
		SingleTweak:   input.SingleTweakBytes(commitPub, base.PubKey()),
		WitnessScript: witnessScript,
		Output:        prevOut,
		HashType:      txscript.SigHashAll,
		SigHashes:     sigHashes,
		InputIndex:    0,
	}

	sig, err := signer.SignOutputRaw(tx, signDesc)
	require.NoError(t, err)

	sigHash, err := txscript.CalcWitnessSigHash(
		witnessScript, sigHashes, txscript.SigHashAll, tx, 0, amt,
	)
	require.NoError(t, err)
	require.True(t, sig.Verify(sigHash, tweakedPub))
}

func TestLocalSignerMuSig2MethodsAreUnreachable(t *testing.T) {
	signer := NewLocalSigner()

	_, err := signer.MuSig2CreateSession(0, keychain.KeyLocator{}, nil, nil, nil, nil)
	require.ErrorIs(t, err, errMuSig2Unsupported)

	err = signer.MuSig2Cleanup(input.MuSig2SessionID{})
	require.ErrorIs(t, err, errMuSig2Unsupported)
}
