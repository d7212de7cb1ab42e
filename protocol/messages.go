package protocol

import (
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// OnchainInit is the one-shot handshake message the parent sends to start
// resolution of a single channel close. It carries every piece of static
// channel state the engine needs up front: base points, the channel seed,
// the serialized shachain of received revocations, the transaction that
// spent the funding output, and the number of HTLCs the spending
// commitment (if any) carries, each of which then follows as its own
// OnchainHtlc message.
type OnchainInit struct {
	ChannelSeed [32]byte

	// ShachainBlob is a shachain.RevocationStore serialized via its own
	// Encode method; the engine reconstructs it with
	// shachain.NewRevocationStoreFromBytes.
	ShachainBlob []byte

	// RevocationsReceived is the number of commitments the counterparty
	// has revoked to us so far.
	RevocationsReceived uint64

	FundingTxid        chainhash.Hash
	FundingOutputIndex uint32
	FundingAmountSat   int64

	OldRemotePerCommitPoint []byte
	RemotePerCommitPoint    []byte

	LocalToSelfDelay  uint32
	RemoteToSelfDelay uint32

	// FeerateRangeMin/Max bound the channel's second-stage HTLC
	// transaction feerate, unknown until inferred by trial signature
	// verification.
	FeerateRangeMin   uint32
	FeerateRangeMax   uint32
	LocalDustLimitSat int64

	RemoteRevocationBasepoint     []byte
	RemotePaymentBasepoint        []byte
	RemoteDelayedPaymentBasepoint []byte

	LocalRevocationBasepoint    []byte
	LocalPaymentBasepoint       []byte
	LocalDelayedPaymentBasepoint []byte

	// LocalPaymentBasepointPriv and LocalDelayedPaymentBasepointPriv are
	// our own base private keys, 32-byte big-endian scalars, needed to
	// sign our own commitment's outputs.
	LocalPaymentBasepointPriv        [32]byte
	LocalDelayedPaymentBasepointPriv [32]byte

	OurBroadcastTxid chainhash.Hash

	LocalScriptPubkey  []byte
	RemoteScriptPubkey []byte

	OurWalletPubkey []byte

	// Funder is 0 for local, 1 for remote (see onchaind.Side).
	Funder uint8

	SpendingTx     *wire.MsgTx
	SpendingHeight uint32

	// CounterpartyHtlcSigs are consumed in commitment-output order for
	// HTLCs we offered, when the spending commitment is our own.
	CounterpartyHtlcSigs [][]byte

	NumHtlcs uint16
}

func (m *OnchainInit) MsgType() MessageType { return MsgOnchainInit }

func (m *OnchainInit) Encode(w io.Writer) error {
	if err := writeFixed32(w, m.ChannelSeed); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, m.ShachainBlob); err != nil {
		return err
	}
	if err := writeUint64(w, m.RevocationsReceived); err != nil {
		return err
	}
	if _, err := w.Write(m.FundingTxid[:]); err != nil {
		return err
	}
	if err := writeUint32(w, m.FundingOutputIndex); err != nil {
		return err
	}
	if err := writeInt64(w, m.FundingAmountSat); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, m.OldRemotePerCommitPoint); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, m.RemotePerCommitPoint); err != nil {
		return err
	}
	if err := writeUint32(w, m.LocalToSelfDelay); err != nil {
		return err
	}
	if err := writeUint32(w, m.RemoteToSelfDelay); err != nil {
		return err
	}
	if err := writeUint32(w, m.FeerateRangeMin); err != nil {
		return err
	}
	if err := writeUint32(w, m.FeerateRangeMax); err != nil {
		return err
	}
	if err := writeInt64(w, m.LocalDustLimitSat); err != nil {
		return err
	}
	for _, b := range [][]byte{
		m.RemoteRevocationBasepoint, m.RemotePaymentBasepoint,
		m.RemoteDelayedPaymentBasepoint, m.LocalRevocationBasepoint,
		m.LocalPaymentBasepoint, m.LocalDelayedPaymentBasepoint,
	} {
		if err := wire.WriteVarBytes(w, 0, b); err != nil {
			return err
		}
	}
	if err := writeFixed32(w, m.LocalPaymentBasepointPriv); err != nil {
		return err
	}
	if err := writeFixed32(w, m.LocalDelayedPaymentBasepointPriv); err != nil {
		return err
	}
	if _, err := w.Write(m.OurBroadcastTxid[:]); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, m.LocalScriptPubkey); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, m.RemoteScriptPubkey); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, m.OurWalletPubkey); err != nil {
		return err
	}
	if _, err := w.Write([]byte{m.Funder}); err != nil {
		return err
	}
	if err := m.SpendingTx.Serialize(w); err != nil {
		return err
	}
	if err := writeUint32(w, m.SpendingHeight); err != nil {
		return err
	}
	if err := writeUint16(w, uint16(len(m.CounterpartyHtlcSigs))); err != nil {
		return err
	}
	for _, sig := range m.CounterpartyHtlcSigs {
		if err := wire.WriteVarBytes(w, 0, sig); err != nil {
			return err
		}
	}
	return writeUint16(w, m.NumHtlcs)
}

func (m *OnchainInit) Decode(r io.Reader) error {
	var err error
	if m.ChannelSeed, err = readFixed32(r); err != nil {
		return err
	}
	if m.ShachainBlob, err = wire.ReadVarBytes(r, 0, MaxMsgBody, "shachain_blob"); err != nil {
		return err
	}
	if m.RevocationsReceived, err = readUint64(r); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, m.FundingTxid[:]); err != nil {
		return err
	}
	if m.FundingOutputIndex, err = readUint32(r); err != nil {
		return err
	}
	if m.FundingAmountSat, err = readInt64(r); err != nil {
		return err
	}
	if m.OldRemotePerCommitPoint, err = wire.ReadVarBytes(r, 0, 65, "old_remote_per_commit_point"); err != nil {
		return err
	}
	if m.RemotePerCommitPoint, err = wire.ReadVarBytes(r, 0, 65, "remote_per_commit_point"); err != nil {
		return err
	}
	if m.LocalToSelfDelay, err = readUint32(r); err != nil {
		return err
	}
	if m.RemoteToSelfDelay, err = readUint32(r); err != nil {
		return err
	}
	if m.FeerateRangeMin, err = readUint32(r); err != nil {
		return err
	}
	if m.FeerateRangeMax, err = readUint32(r); err != nil {
		return err
	}
	if m.LocalDustLimitSat, err = readInt64(r); err != nil {
		return err
	}
	fields := []*[]byte{
		&m.RemoteRevocationBasepoint, &m.RemotePaymentBasepoint,
		&m.RemoteDelayedPaymentBasepoint, &m.LocalRevocationBasepoint,
		&m.LocalPaymentBasepoint, &m.LocalDelayedPaymentBasepoint,
	}
	for _, f := range fields {
		*f, err = wire.ReadVarBytes(r, 0, 65, "basepoint")
		if err != nil {
			return err
		}
	}
	if m.LocalPaymentBasepointPriv, err = readFixed32(r); err != nil {
		return err
	}
	if m.LocalDelayedPaymentBasepointPriv, err = readFixed32(r); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, m.OurBroadcastTxid[:]); err != nil {
		return err
	}
	if m.LocalScriptPubkey, err = wire.ReadVarBytes(r, 0, 512, "local_script_pubkey"); err != nil {
		return err
	}
	if m.RemoteScriptPubkey, err = wire.ReadVarBytes(r, 0, 512, "remote_script_pubkey"); err != nil {
		return err
	}
	if m.OurWalletPubkey, err = wire.ReadVarBytes(r, 0, 65, "our_wallet_pubkey"); err != nil {
		return err
	}
	var funder [1]byte
	if _, err := io.ReadFull(r, funder[:]); err != nil {
		return err
	}
	m.Funder = funder[0]

	m.SpendingTx = &wire.MsgTx{}
	if err := m.SpendingTx.Deserialize(r); err != nil {
		return err
	}

	if m.SpendingHeight, err = readUint32(r); err != nil {
		return err
	}

	numSigs, err := readUint16(r)
	if err != nil {
		return err
	}
	m.CounterpartyHtlcSigs = make([][]byte, numSigs)
	for i := range m.CounterpartyHtlcSigs {
		m.CounterpartyHtlcSigs[i], err = wire.ReadVarBytes(r, 0, 80, "htlc_sig")
		if err != nil {
			return err
		}
	}

	m.NumHtlcs, err = readUint16(r)
	return err
}

// OnchainHtlc describes one HTLC carried by the commitment transaction
// being resolved. The parent sends exactly OnchainInit.NumHtlcs of these
// immediately following the OnchainInit message.
type OnchainHtlc struct {
	CltvExpiry     uint32
	PaymentHash160 [20]byte

	// Owner is 0 for local, 1 for remote (see onchaind.Side).
	Owner  uint8
	Amount int64
}

func (m *OnchainHtlc) MsgType() MessageType { return MsgOnchainHtlc }

func (m *OnchainHtlc) Encode(w io.Writer) error {
	if err := writeUint32(w, m.CltvExpiry); err != nil {
		return err
	}
	if _, err := w.Write(m.PaymentHash160[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{m.Owner}); err != nil {
		return err
	}
	return writeInt64(w, m.Amount)
}

func (m *OnchainHtlc) Decode(r io.Reader) error {
	var err error
	if m.CltvExpiry, err = readUint32(r); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, m.PaymentHash160[:]); err != nil {
		return err
	}
	var owner [1]byte
	if _, err := io.ReadFull(r, owner[:]); err != nil {
		return err
	}
	m.Owner = owner[0]
	m.Amount, err = readInt64(r)
	return err
}

// OnchainDepth reports that a transaction the engine is watching has
// reached a new confirmation depth.
type OnchainDepth struct {
	Txid  chainhash.Hash
	Depth uint32
}

func (m *OnchainDepth) MsgType() MessageType { return MsgOnchainDepth }

func (m *OnchainDepth) Encode(w io.Writer) error {
	if _, err := w.Write(m.Txid[:]); err != nil {
		return err
	}
	return writeUint32(w, m.Depth)
}

func (m *OnchainDepth) Decode(r io.Reader) error {
	if _, err := io.ReadFull(r, m.Txid[:]); err != nil {
		return err
	}
	var err error
	m.Depth, err = readUint32(r)
	return err
}

// OnchainSpent reports a transaction that spent one of the outpoints the
// engine is watching.
type OnchainSpent struct {
	Outpoint    wire.OutPoint
	SpendHeight uint32
	Tx          *wire.MsgTx
}

func (m *OnchainSpent) MsgType() MessageType { return MsgOnchainSpent }

func (m *OnchainSpent) Encode(w io.Writer) error {
	if _, err := w.Write(m.Outpoint.Hash[:]); err != nil {
		return err
	}
	if err := writeUint32(w, m.Outpoint.Index); err != nil {
		return err
	}
	if err := writeUint32(w, m.SpendHeight); err != nil {
		return err
	}
	return m.Tx.Serialize(w)
}

func (m *OnchainSpent) Decode(r io.Reader) error {
	if _, err := io.ReadFull(r, m.Outpoint.Hash[:]); err != nil {
		return err
	}
	var err error
	if m.Outpoint.Index, err = readUint32(r); err != nil {
		return err
	}
	if m.SpendHeight, err = readUint32(r); err != nil {
		return err
	}
	m.Tx = &wire.MsgTx{}
	return m.Tx.Deserialize(r)
}

// OnchainKnownPreimage reports a preimage the parent learned for a tracked
// counterparty-offered HTLC.
type OnchainKnownPreimage struct {
	Preimage [32]byte
}

func (m *OnchainKnownPreimage) MsgType() MessageType { return MsgOnchainKnownPreimage }

func (m *OnchainKnownPreimage) Encode(w io.Writer) error {
	_, err := w.Write(m.Preimage[:])
	return err
}

func (m *OnchainKnownPreimage) Decode(r io.Reader) error {
	_, err := io.ReadFull(r, m.Preimage[:])
	return err
}

// OnchainInitReply is the engine's response to OnchainInit, once the
// spending transaction has been classified.
type OnchainInitReply struct {
	// State is the onchaind.ChannelState value.
	State uint8
}

func (m *OnchainInitReply) MsgType() MessageType { return MsgOnchainInitReply }

func (m *OnchainInitReply) Encode(w io.Writer) error {
	_, err := w.Write([]byte{m.State})
	return err
}

func (m *OnchainInitReply) Decode(r io.Reader) error {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	m.State = b[0]
	return nil
}

// OnchainBroadcastTx asks the parent to broadcast a fully-signed
// resolution transaction.
type OnchainBroadcastTx struct {
	Label string
	Tx    *wire.MsgTx
}

func (m *OnchainBroadcastTx) MsgType() MessageType { return MsgOnchainBroadcastTx }

func (m *OnchainBroadcastTx) Encode(w io.Writer) error {
	if err := wire.WriteVarBytes(w, 0, []byte(m.Label)); err != nil {
		return err
	}
	return m.Tx.Serialize(w)
}

func (m *OnchainBroadcastTx) Decode(r io.Reader) error {
	label, err := wire.ReadVarBytes(r, 0, 256, "label")
	if err != nil {
		return err
	}
	m.Label = string(label)
	m.Tx = &wire.MsgTx{}
	return m.Tx.Deserialize(r)
}

// OnchainUnwatchTx asks the parent to stop watching a transaction's
// outputs, once every one of them is irrevocably resolved or ignored.
type OnchainUnwatchTx struct {
	Txid        chainhash.Hash
	NumOutputs  uint32
}

func (m *OnchainUnwatchTx) MsgType() MessageType { return MsgOnchainUnwatchTx }

func (m *OnchainUnwatchTx) Encode(w io.Writer) error {
	if _, err := w.Write(m.Txid[:]); err != nil {
		return err
	}
	return writeUint32(w, m.NumOutputs)
}

func (m *OnchainUnwatchTx) Decode(r io.Reader) error {
	if _, err := io.ReadFull(r, m.Txid[:]); err != nil {
		return err
	}
	var err error
	m.NumOutputs, err = readUint32(r)
	return err
}

func writeFixed32(w io.Writer, b [32]byte) error {
	_, err := w.Write(b[:])
	return err
}

func readFixed32(r io.Reader) ([32]byte, error) {
	var b [32]byte
	_, err := io.ReadFull(r, b[:])
	return b, err
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeInt64(w io.Writer, v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	_, err := w.Write(b[:])
	return err
}

func readInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}
