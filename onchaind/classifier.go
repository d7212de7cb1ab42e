package onchaind

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ShachainLookup is the subset of github.com/lightningnetwork/lnd/shachain's
// Store interface this engine needs: looking up a previously-received
// per-commitment secret by its commitment index. A genuine
// shachain.RevocationStore satisfies it directly.
type ShachainLookup interface {
	LookUp(index uint64) (*chainhash.Hash, error)
}

// CloseInput bundles everything the close classifier needs to evaluate the
// decision rule against the transaction that spent the funding output.
type CloseInput struct {
	// SpendingTx is the transaction that spent the funding output.
	SpendingTx *wire.MsgTx

	// LocalClosingScript and RemoteClosingScript are the two scripts a
	// mutual close is allowed to pay.
	LocalClosingScript  []byte
	RemoteClosingScript []byte

	// OurBroadcastTxid is the txid of the commitment transaction we
	// would have broadcast ourselves, if we force-closed.
	OurBroadcastTxid chainhash.Hash

	// FunderPaymentBasepoint and FundeePaymentBasepoint parameterize the
	// commitment-number obscurer, per BOLT #3.
	FunderPaymentBasepoint *btcec.PublicKey
	FundeePaymentBasepoint *btcec.PublicKey

	// RevocationsReceived is the number of commitments the counterparty
	// has revoked to us so far (i.e. the next commitment number we
	// expect them to reveal the secret for).
	RevocationsReceived uint64

	// Shachain looks up previously-received revocation secrets.
	Shachain ShachainLookup
}

// ClassifyResult is the outcome of close classification.
type ClassifyResult struct {
	CloseType CloseType

	// CommitNum is the unmasked commitment number, meaningful for every
	// CloseType except CloseMutual.
	CommitNum uint64
}

// ClassifyClose implements the seven-step close-type decision rule: a
// mutual close pays only the two known closing scripts; anything else is a
// unilateral commitment transaction whose masked commitment number is
// compared against our own broadcast txid, the shachain of received
// revocations, and the expected next two commitment numbers.
func ClassifyClose(in *CloseInput) (*ClassifyResult, error) {
	if isMutualClose(in.SpendingTx, in.LocalClosingScript, in.RemoteClosingScript) {
		return &ClassifyResult{CloseType: CloseMutual}, nil
	}

	obscurer := deriveObscurer(in.FunderPaymentBasepoint, in.FundeePaymentBasepoint)
	commitNum, err := extractCommitNumber(in.SpendingTx, obscurer)
	if err != nil {
		return nil, err
	}

	spendingTxid := in.SpendingTx.TxHash()
	if spendingTxid == in.OurBroadcastTxid {
		return &ClassifyResult{
			CloseType: CloseOurUnilateral,
			CommitNum: commitNum,
		}, nil
	}

	if in.Shachain != nil {
		secret, err := in.Shachain.LookUp(commitNum)
		if err == nil && secret != nil {
			return &ClassifyResult{
				CloseType: CloseTheirRevoked,
				CommitNum: commitNum,
			}, nil
		}
	}

	switch commitNum {
	case in.RevocationsReceived:
		return &ClassifyResult{
			CloseType: CloseTheirUnilateralPrevious,
			CommitNum: commitNum,
		}, nil
	case in.RevocationsReceived + 1:
		return &ClassifyResult{
			CloseType: CloseTheirUnilateralCurrent,
			CommitNum: commitNum,
		}, nil
	}

	return nil, internalErrorf("commitment number %d is neither our "+
		"broadcast, a known revocation, nor the expected next "+
		"two commitments (revocations_received=%d)",
		commitNum, in.RevocationsReceived)
}

// isMutualClose reports whether every output of tx pays either the local
// or the remote closing script, each matched at most once. A mutual close
// transaction may omit either output (if below the dust limit), but may
// never include an output paying anything else.
func isMutualClose(tx *wire.MsgTx, localScript, remoteScript []byte) bool {
	localMatched := false
	remoteMatched := false

	for _, out := range tx.TxOut {
		switch {
		case !localMatched && scriptsEqual(out.PkScript, localScript):
			localMatched = true
		case !remoteMatched && scriptsEqual(out.PkScript, remoteScript):
			remoteMatched = true
		default:
			return false
		}
	}
	return true
}

func scriptsEqual(a, b []byte) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
