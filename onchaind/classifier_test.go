package onchaind

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

type mockShachain struct {
	known map[uint64]chainhash.Hash
}

func newMockShachain() *mockShachain {
	return &mockShachain{known: make(map[uint64]chainhash.Hash)}
}

func (m *mockShachain) LookUp(index uint64) (*chainhash.Hash, error) {
	h, ok := m.known[index]
	if !ok {
		return nil, internalErrorf("no secret known for index %d", index)
	}
	return &h, nil
}

func testBasepoints(t *testing.T) (funder, fundee *btcec.PublicKey) {
	t.Helper()

	p1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	p2, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return p1.PubKey(), p2.PubKey()
}

func commitTxWithNumber(commitNum uint64, obscurer uint64) *wire.MsgTx {
	locktime, sequence := maskCommitNumber(commitNum, obscurer)

	tx := wire.NewMsgTx(2)
	tx.LockTime = locktime
	tx.AddTxIn(&wire.TxIn{Sequence: sequence})
	tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{0x00, 0x14}})
	return tx
}

func TestClassifyCloseMutual(t *testing.T) {
	local := []byte{0x00, 0x14, 0x01}
	remote := []byte{0x00, 0x14, 0x02}

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(&wire.TxOut{Value: 500, PkScript: local})
	tx.AddTxOut(&wire.TxOut{Value: 500, PkScript: remote})

	funder, fundee := testBasepoints(t)

	result, err := ClassifyClose(&CloseInput{
		SpendingTx:             tx,
		LocalClosingScript:     local,
		RemoteClosingScript:    remote,
		FunderPaymentBasepoint: funder,
		FundeePaymentBasepoint: fundee,
	})
	require.NoError(t, err)
	require.Equal(t, CloseMutual, result.CloseType)
}

func TestClassifyCloseOurUnilateral(t *testing.T) {
	funder, fundee := testBasepoints(t)
	obscurer := deriveObscurer(funder, fundee)

	const commitNum = uint64(5)
	tx := commitTxWithNumber(commitNum, obscurer)
	ourTxid := tx.TxHash()

	result, err := ClassifyClose(&CloseInput{
		SpendingTx:             tx,
		LocalClosingScript:     []byte{0x00},
		RemoteClosingScript:    []byte{0x01},
		OurBroadcastTxid:       ourTxid,
		FunderPaymentBasepoint: funder,
		FundeePaymentBasepoint: fundee,
		RevocationsReceived:    commitNum,
	})
	require.NoError(t, err)
	require.Equal(t, CloseOurUnilateral, result.CloseType)
	require.Equal(t, commitNum, result.CommitNum)
}

func TestClassifyCloseTheirUnilateralCurrent(t *testing.T) {
	funder, fundee := testBasepoints(t)
	obscurer := deriveObscurer(funder, fundee)

	const revocationsReceived = uint64(3)
	const commitNum = revocationsReceived + 1

	tx := commitTxWithNumber(commitNum, obscurer)

	result, err := ClassifyClose(&CloseInput{
		SpendingTx:             tx,
		LocalClosingScript:     []byte{0x00},
		RemoteClosingScript:    []byte{0x01},
		FunderPaymentBasepoint: funder,
		FundeePaymentBasepoint: fundee,
		RevocationsReceived:    revocationsReceived,
		Shachain:               newMockShachain(),
	})
	require.NoError(t, err)
	require.Equal(t, CloseTheirUnilateralCurrent, result.CloseType)
	require.Equal(t, commitNum, result.CommitNum)
}

func TestClassifyCloseTheirUnilateralPrevious(t *testing.T) {
	funder, fundee := testBasepoints(t)
	obscurer := deriveObscurer(funder, fundee)

	const revocationsReceived = uint64(3)
	tx := commitTxWithNumber(revocationsReceived, obscurer)

	result, err := ClassifyClose(&CloseInput{
		SpendingTx:             tx,
		LocalClosingScript:     []byte{0x00},
		RemoteClosingScript:    []byte{0x01},
		FunderPaymentBasepoint: funder,
		FundeePaymentBasepoint: fundee,
		RevocationsReceived:    revocationsReceived,
		Shachain:               newMockShachain(),
	})
	require.NoError(t, err)
	require.Equal(t, CloseTheirUnilateralPrevious, result.CloseType)
}

func TestClassifyCloseTheirRevoked(t *testing.T) {
	funder, fundee := testBasepoints(t)
	obscurer := deriveObscurer(funder, fundee)

	const revokedCommitNum = uint64(1)
	tx := commitTxWithNumber(revokedCommitNum, obscurer)

	shachain := newMockShachain()
	shachain.known[revokedCommitNum] = chainhash.Hash{0x01}

	result, err := ClassifyClose(&CloseInput{
		SpendingTx:             tx,
		LocalClosingScript:     []byte{0x00},
		RemoteClosingScript:    []byte{0x01},
		FunderPaymentBasepoint: funder,
		FundeePaymentBasepoint: fundee,
		RevocationsReceived:    5,
		Shachain:               shachain,
	})
	require.NoError(t, err)
	require.Equal(t, CloseTheirRevoked, result.CloseType)
	require.Equal(t, revokedCommitNum, result.CommitNum)
}

func TestClassifyCloseUnattributableIsInternalError(t *testing.T) {
	funder, fundee := testBasepoints(t)
	obscurer := deriveObscurer(funder, fundee)

	// A commitment number far from both the expected next two numbers
	// and any known revocation cannot be attributed to anything.
	tx := commitTxWithNumber(500, obscurer)

	_, err := ClassifyClose(&CloseInput{
		SpendingTx:             tx,
		LocalClosingScript:     []byte{0x00},
		RemoteClosingScript:    []byte{0x01},
		FunderPaymentBasepoint: funder,
		FundeePaymentBasepoint: fundee,
		RevocationsReceived:    3,
		Shachain:               newMockShachain(),
	})
	require.Error(t, err)

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, InternalError, fatal.Kind)
}
