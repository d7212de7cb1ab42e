package onchaind

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/input"
	"github.com/stretchr/testify/require"
)

func TestGenerateFromSeedIsDeterministic(t *testing.T) {
	seed := [32]byte{0xaa, 0xbb, 0xcc}

	a := generateFromSeed(seed, 12345)
	b := generateFromSeed(seed, 12345)
	require.Equal(t, a, b)

	c := generateFromSeed(seed, 12346)
	require.NotEqual(t, a, c)
}

func TestDeriveKeySetTweaksEveryKey(t *testing.T) {
	seed := [32]byte{0x01}
	commitPoint := commitmentPoint(seed, 0)

	revBase, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	selfDelayedBase, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	selfPaymentBase, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	otherPaymentBase, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	keys, err := deriveKeySet(
		commitPoint, revBase.PubKey(), selfDelayedBase.PubKey(),
		selfPaymentBase.PubKey(), otherPaymentBase.PubKey(),
	)
	require.NoError(t, err)

	require.NotEqual(t, revBase.PubKey().SerializeCompressed(), keys.SelfRevocationKey.SerializeCompressed())
	require.NotEqual(t, selfDelayedBase.PubKey().SerializeCompressed(), keys.SelfDelayedPaymentKey.SerializeCompressed())
	require.NotEqual(t, selfPaymentBase.PubKey().SerializeCompressed(), keys.SelfPaymentKey.SerializeCompressed())
	require.NotEqual(t, otherPaymentBase.PubKey().SerializeCompressed(), keys.OtherPaymentKey.SerializeCompressed())

	expectedOtherKey := input.TweakPubKey(otherPaymentBase.PubKey(), commitPoint)
	require.Equal(t, expectedOtherKey.SerializeCompressed(), keys.OtherPaymentKey.SerializeCompressed())
}

func TestDeriveKeySetRejectsNilInputs(t *testing.T) {
	_, err := deriveKeySet(nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestDerivePrivKeySetMatchesPublicTweak(t *testing.T) {
	seed := [32]byte{0x02}
	commitPoint := commitmentPoint(seed, 7)

	delayedBase, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	paymentBase, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	delayedPriv, paymentPriv := derivePrivKeySet(commitPoint, delayedBase, paymentBase)

	expectedDelayedPub := input.TweakPubKey(delayedBase.PubKey(), commitPoint)
	expectedPaymentPub := input.TweakPubKey(paymentBase.PubKey(), commitPoint)

	require.Equal(t, expectedDelayedPub.SerializeCompressed(), delayedPriv.PubKey().SerializeCompressed())
	require.Equal(t, expectedPaymentPub.SerializeCompressed(), paymentPriv.PubKey().SerializeCompressed())
}
