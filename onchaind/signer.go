package onchaind

import (
	"crypto/sha256"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/keychain"
)

// LocalSigner is this engine's implementation of input.Signer. Unlike the
// wallet-backed signer the parent process normally uses, it holds a fixed
// set of private keys derived once at handler startup (per-commitment
// payment/delayed-payment keys, and any revocation private key learned from
// a breach) and signs strictly from that set: there is no BIP-32 key-chain
// to walk, matching keychain.KeyDescriptor's "PubKey populated directly"
// usage throughout this package's callers.
//
// Grounded on lnwallet/btcwallet's BtcWallet.SignOutputRaw/ComputeInputScript:
// fetch the raw private key by its public key, apply the sign descriptor's
// single/double tweak, then produce a witness signature.
type LocalSigner struct {
	mu   sync.Mutex
	keys map[[33]byte]*btcec.PrivateKey
}

// NewLocalSigner constructs a signer with no registered keys.
func NewLocalSigner() *LocalSigner {
	return &LocalSigner{
		keys: make(map[[33]byte]*btcec.PrivateKey),
	}
}

// Register makes priv available for signing under its own public key.
func (s *LocalSigner) Register(priv *btcec.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pub [33]byte
	copy(pub[:], priv.PubKey().SerializeCompressed())
	s.keys[pub] = priv
}

func (s *LocalSigner) fetchPrivKey(desc *keychain.KeyDescriptor) (*btcec.PrivateKey, error) {
	if desc.PubKey == nil {
		return nil, cryptoFailedf("sign descriptor has no pubkey, " +
			"and this signer does not derive by key locator")
	}

	var pub [33]byte
	copy(pub[:], desc.PubKey.SerializeCompressed())

	s.mu.Lock()
	priv, ok := s.keys[pub]
	s.mu.Unlock()

	if !ok {
		return nil, cryptoFailedf("no private key registered for "+
			"pubkey %x", desc.PubKey.SerializeCompressed())
	}
	return priv, nil
}

// maybeTweakPrivKey applies the sign descriptor's single or double tweak to
// privKey, mirroring btcwallet's maybeTweakPrivKey exactly: a single tweak
// derives a payment/delayed-payment key for a specific commitment; a double
// tweak derives the revocation private key once a revoked commitment
// secret is known.
func maybeTweakPrivKey(signDesc *input.SignDescriptor,
	privKey *btcec.PrivateKey) *btcec.PrivateKey {

	switch {
	case signDesc.SingleTweak != nil:
		return input.TweakPrivKey(privKey, signDesc.SingleTweak)
	case signDesc.DoubleTweak != nil:
		return input.DeriveRevocationPrivKey(privKey, signDesc.DoubleTweak)
	default:
		return privKey
	}
}

// SignOutputRaw implements input.Signer.
func (s *LocalSigner) SignOutputRaw(tx *wire.MsgTx,
	signDesc *input.SignDescriptor) (input.Signature, error) {

	privKey, err := s.fetchPrivKey(&signDesc.KeyDesc)
	if err != nil {
		return nil, err
	}
	privKey = maybeTweakPrivKey(signDesc, privKey)

	amt := signDesc.Output.Value
	sig, err := txscript.RawTxInWitnessSignature(
		tx, signDesc.SigHashes, signDesc.InputIndex, amt,
		signDesc.WitnessScript, signDesc.HashType, privKey,
	)
	if err != nil {
		return nil, cryptoFailedf("signing witness input %d: %w",
			signDesc.InputIndex, err)
	}

	return ecdsa.ParseDERSignature(sig[:len(sig)-1])
}

// ComputeInputScript implements input.Signer, producing a p2wpkh witness.
// No path in this engine calls it: the direct-to-us output on the
// counterparty's commitment is ignored rather than swept, and p2wsh outputs
// are signed through SignOutputRaw and assembled into a witness by the
// input.*Spend* helpers.
func (s *LocalSigner) ComputeInputScript(tx *wire.MsgTx,
	signDesc *input.SignDescriptor) (*input.Script, error) {

	privKey, err := s.fetchPrivKey(&signDesc.KeyDesc)
	if err != nil {
		return nil, err
	}
	privKey = maybeTweakPrivKey(signDesc, privKey)

	amt := signDesc.Output.Value
	witnessScript, err := txscript.WitnessSignature(
		tx, signDesc.SigHashes, signDesc.InputIndex, amt,
		signDesc.Output.PkScript, signDesc.HashType, privKey,
		true,
	)
	if err != nil {
		return nil, cryptoFailedf("computing input script for "+
			"input %d: %w", signDesc.InputIndex, err)
	}

	return &input.Script{Witness: witnessScript}, nil
}

// The MuSig2* methods below are unreachable in practice: every HTLC and
// commitment output this engine resolves uses the legacy script templates
// (CHECKMULTISIG-based HTLC scripts, CSV/CLTV-gated self outputs), never a
// taproot MuSig2 channel. They exist only to satisfy input.Signer.
var errMuSig2Unsupported = cryptoFailedf("musig2 signing not supported by this engine")

func (s *LocalSigner) MuSig2CreateSession(input.MuSig2Version,
	keychain.KeyLocator, []*btcec.PublicKey, *input.MuSig2Tweaks,
	[][musig2.PubNonceSize]byte, *musig2.Nonces) (*input.MuSig2SessionInfo, error) {

	return nil, errMuSig2Unsupported
}

func (s *LocalSigner) MuSig2RegisterNonces(input.MuSig2SessionID,
	[][musig2.PubNonceSize]byte) (bool, error) {

	return false, errMuSig2Unsupported
}

func (s *LocalSigner) MuSig2RegisterCombinedNonce(input.MuSig2SessionID,
	[musig2.PubNonceSize]byte) error {

	return errMuSig2Unsupported
}

func (s *LocalSigner) MuSig2GetCombinedNonce(
	input.MuSig2SessionID) ([musig2.PubNonceSize]byte, error) {

	return [musig2.PubNonceSize]byte{}, errMuSig2Unsupported
}

func (s *LocalSigner) MuSig2Sign(input.MuSig2SessionID, [sha256.Size]byte,
	bool) (*musig2.PartialSignature, error) {

	return nil, errMuSig2Unsupported
}

func (s *LocalSigner) MuSig2CombineSig(input.MuSig2SessionID,
	[]*musig2.PartialSignature) (*schnorr.Signature, bool, error) {

	return nil, false, errMuSig2Unsupported
}

func (s *LocalSigner) MuSig2Cleanup(input.MuSig2SessionID) error {
	return errMuSig2Unsupported
}

var _ input.Signer = (*LocalSigner)(nil)
