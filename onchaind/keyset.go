package onchaind

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/input"
)

// generateFromSeed derives the per-commitment secret for commitment number
// index from our 32-byte per-channel seed, per BOLT #3's
// "generation" shachain algorithm: starting from the seed, for each of the
// 48 bits of index (from bit 47 down to bit 0) that is set, flip that bit of
// the running value and re-hash with SHA-256.
//
// This is the same bit-flip-and-hash construction shachain.element.derive
// uses to reconstruct a descendant from an ancestor; here the ancestor is
// always the all-bits seed (index 2^48-1) so every commitment secret can be
// produced directly without a stored chain.
func generateFromSeed(seed [32]byte, index uint64) [32]byte {
	buf := seed

	for b := 47; b >= 0; b-- {
		if index&(1<<uint(b)) == 0 {
			continue
		}

		byteNumber := b / 8
		bitNumber := uint(b % 8)
		buf[byteNumber] ^= 1 << bitNumber

		buf = sha256.Sum256(buf[:])
	}

	return buf
}

// commitmentPoint computes the per-commitment point for commitment number
// index, given our channel seed.
func commitmentPoint(seed [32]byte, index uint64) *btcec.PublicKey {
	secret := generateFromSeed(seed, index)
	return input.ComputeCommitmentPoint(secret[:])
}

// commitmentSecretKey computes the per-commitment private scalar for
// commitment number index, given our channel seed.
func commitmentSecretKey(seed [32]byte, index uint64) *btcec.PrivateKey {
	secret := generateFromSeed(seed, index)
	priv, _ := btcec.PrivKeyFromBytes(secret[:])
	return priv
}

// KeySet is the full set of keys in effect for one party's version of the
// commitment transaction at a given commitment number, derived by tweaking
// each base point with the per-commitment point for that commitment.
// Field names retain the BOLT #3 contract terms.
type KeySet struct {
	// SelfRevocationKey is the revocation pubkey for this commitment:
	// knowledge of its private key (released once the commitment is
	// revoked) lets the counterparty sweep every output.
	SelfRevocationKey *btcec.PublicKey

	// SelfDelayedPaymentKey is the key guarding the to-local output,
	// spendable by its owner only after to_self_delay confirmations.
	SelfDelayedPaymentKey *btcec.PublicKey

	// SelfPaymentKey is the owner's plain payment key for this
	// commitment (used in HTLC scripts).
	SelfPaymentKey *btcec.PublicKey

	// OtherPaymentKey is the counterparty's plain payment key, used for
	// the immediately-spendable direct output and in HTLC scripts.
	OtherPaymentKey *btcec.PublicKey
}

// deriveKeySet derives the full KeySet for one side's commitment at the
// given per-commitment point, from that side's (self) base points and the
// counterparty's (other) payment base point. selfDelayedBase and
// selfPaymentBase belong to the commitment's owner; otherPaymentBase
// belongs to the counterparty; revocationBase is the *counterparty's*
// revocation base point (only they can ever derive the private key, using
// the commitment secret once revealed).
func deriveKeySet(commitPoint *btcec.PublicKey, revocationBase,
	selfDelayedBase, selfPaymentBase, otherPaymentBase *btcec.PublicKey) (*KeySet, error) {

	if commitPoint == nil || revocationBase == nil || selfDelayedBase == nil ||
		selfPaymentBase == nil || otherPaymentBase == nil {

		return nil, cryptoFailedf("nil base point or commitment " +
			"point supplied to deriveKeySet")
	}

	return &KeySet{
		SelfRevocationKey: input.DeriveRevocationPubkey(
			revocationBase, commitPoint,
		),
		SelfDelayedPaymentKey: input.TweakPubKey(
			selfDelayedBase, commitPoint,
		),
		SelfPaymentKey: input.TweakPubKey(
			selfPaymentBase, commitPoint,
		),
		OtherPaymentKey: input.TweakPubKey(
			otherPaymentBase, commitPoint,
		),
	}, nil
}

// derivePrivKeySet derives the private counterparts of SelfDelayedPaymentKey
// and SelfPaymentKey that deriveKeySet produced, so that we can sign with
// them. Only meaningful when the commitment in question is our own: we
// never know the counterparty's base private keys.
func derivePrivKeySet(commitPoint *btcec.PublicKey,
	selfDelayedBasePriv, selfPaymentBasePriv *btcec.PrivateKey) (delayedPriv,
	paymentPriv *btcec.PrivateKey) {

	delayedTweak := input.SingleTweakBytes(
		commitPoint, selfDelayedBasePriv.PubKey(),
	)
	paymentTweak := input.SingleTweakBytes(
		commitPoint, selfPaymentBasePriv.PubKey(),
	)

	return input.TweakPrivKey(selfDelayedBasePriv, delayedTweak),
		input.TweakPrivKey(selfPaymentBasePriv, paymentTweak)
}
