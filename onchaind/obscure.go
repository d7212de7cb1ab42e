package onchaind

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// obscurerSize is the number of bytes of the 48-bit commitment-number
// obscurer that are actually meaningful (the low 6 bytes of a SHA-256
// digest).
const obscurerSize = 6

// maxCommitNum is the largest 48-bit value the obscured commitment number
// can take.
const maxCommitNum = (1 << 48) - 1

// timelockShift pushes the commitment transaction's locktime field into
// Unix-timestamp territory (BOLT #3), leaving the lower 24 bits free to
// carry half of the obscured commitment number while still parsing as a
// locktime rather than a block height.
const timelockShift = uint32(1 << 29)

// sequenceHintTag marks the upper byte of the sequence field as carrying a
// state hint rather than an ordinary relative-locktime sequence number.
const sequenceHintTag = uint32(0x80) << 24

// deriveObscurer computes the 48-bit commitment-number obscurer, the low 6
// bytes of SHA-256(fundingPaymentBasepoint || fundeePaymentBasepoint), per
// BOLT #3. The order of the two basepoints matters: the funder's basepoint
// always comes first.
func deriveObscurer(funderPaymentBasepoint,
	fundeePaymentBasepoint *btcec.PublicKey) uint64 {

	h := sha256.New()
	h.Write(funderPaymentBasepoint.SerializeCompressed())
	h.Write(fundeePaymentBasepoint.SerializeCompressed())
	digest := h.Sum(nil)

	var buf [8]byte
	copy(buf[8-obscurerSize:], digest[32-obscurerSize:])
	return binary.BigEndian.Uint64(buf[:])
}

// maskCommitNumber encodes a 48-bit commitment number into the locktime and
// txin[0] sequence fields of a commitment transaction, XOR'd against the
// given obscurer, mirroring lnwallet's SetStateNumHint.
func maskCommitNumber(commitNum uint64, obscurer uint64) (locktime, sequence uint32) {
	obscured := (commitNum ^ obscurer) & maxCommitNum

	locktime = timelockShift | uint32(obscured&0xffffff)
	sequence = sequenceHintTag | uint32((obscured>>24)&0xffffff)
	return locktime, sequence
}

// unmaskCommitNumber recovers the 48-bit commitment number from a
// commitment transaction's locktime and txin[0] sequence fields, given the
// obscurer. This is the exact inverse of maskCommitNumber:
// unmaskCommitNumber(maskCommitNumber(n, o), o) == n for any 48-bit n.
func unmaskCommitNumber(locktime, sequence uint32, obscurer uint64) uint64 {
	obscured := uint64(sequence&0xffffff)<<24 | uint64(locktime&0xffffff)
	return obscured ^ obscurer
}

// extractCommitNumber pulls the commitment number out of a commitment
// transaction's locktime/sequence fields. The transaction MUST have exactly
// one input; this holds for every valid commitment transaction.
func extractCommitNumber(tx *wire.MsgTx, obscurer uint64) (uint64, error) {
	if len(tx.TxIn) != 1 {
		return 0, internalErrorf("commitment tx must have exactly "+
			"one input, has %d", len(tx.TxIn))
	}
	return unmaskCommitNumber(tx.LockTime, tx.TxIn[0].Sequence, obscurer), nil
}
