package onchaind

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/input"
)

// matchKind identifies which of a commitment's output matchers a given
// output script satisfied, independent of which side's commitment this is
// (the handler maps a matchKind to a concrete OutputType using whichever
// side owns the commitment).
type matchKind int

const (
	matchNone matchKind = iota
	matchToSelf
	matchToOther
	matchHtlc
)

// commitmentScripts holds the full set of P2WSH/P2WPKH scripts that can
// appear as outputs of one party's version of the commitment transaction,
// keyed for single-shot matching against the observed outputs (§4.3/§4.4:
// "match exactly one matcher and nullify it once matched").
type commitmentScripts struct {
	toSelf  []byte // P2WSH: self's delayed-or-revoked output
	toOther []byte // P2WPKH: the other party's immediately-spendable output
	htlcs   []htlcScriptEntry
}

type htlcScriptEntry struct {
	stub   HtlcStub
	script []byte // P2WSH
}

// buildCommitmentScripts constructs every script that could appear as an
// output of the commitment transaction owned by the side identified by
// selfSide (Local for our own commitment, Remote for the counterparty's),
// given the fully-tweaked KeySet for that commitment and the HTLC stubs it
// carries.
func buildCommitmentScripts(selfSide Side, toSelfDelay uint32, keys *KeySet,
	htlcs []HtlcStub) (*commitmentScripts, error) {

	toSelfWitness, err := input.CommitScriptToSelf(
		toSelfDelay, keys.SelfDelayedPaymentKey, keys.SelfRevocationKey,
	)
	if err != nil {
		return nil, cryptoFailedf("building to-self script: %w", err)
	}
	toSelf, err := input.WitnessScriptHash(toSelfWitness)
	if err != nil {
		return nil, cryptoFailedf("hashing to-self script: %w", err)
	}

	toOther, err := p2wpkh(keys.OtherPaymentKey)
	if err != nil {
		return nil, cryptoFailedf("building to-other script: %w", err)
	}

	entries := make([]htlcScriptEntry, 0, len(htlcs))
	for _, stub := range htlcs {
		senderKey, receiverKey := keys.OtherPaymentKey, keys.SelfPaymentKey
		if stub.Owner == selfSide {
			senderKey, receiverKey = keys.SelfPaymentKey, keys.OtherPaymentKey
		}

		var witnessScript []byte
		if stub.Owner == selfSide {
			witnessScript, err = input.SenderHTLCScript(
				senderKey, receiverKey, keys.SelfRevocationKey,
				stub.PaymentHash160[:], false,
			)
		} else {
			witnessScript, err = input.ReceiverHTLCScript(
				stub.CltvExpiry, senderKey, receiverKey,
				keys.SelfRevocationKey, stub.PaymentHash160[:], false,
			)
		}
		if err != nil {
			return nil, cryptoFailedf("building htlc script: %w", err)
		}

		p2wsh, err := input.WitnessScriptHash(witnessScript)
		if err != nil {
			return nil, cryptoFailedf("hashing htlc script: %w", err)
		}

		entries = append(entries, htlcScriptEntry{
			stub:   stub,
			script: p2wsh,
		})
	}

	return &commitmentScripts{
		toSelf:  toSelf,
		toOther: toOther,
		htlcs:   entries,
	}, nil
}

// p2wpkh builds the witness program paying directly to key, matching the
// commitment transaction's unencumbered output (BOLT #3's
// to_remote/to_local-no-delay output), grounded on
// input.CommitScriptUnencumbered.
func p2wpkh(key *btcec.PublicKey) ([]byte, error) {
	return input.CommitScriptUnencumbered(key)
}

// matchOutput finds which of the commitment scripts pkScript matches,
// consuming (nullifying) that matcher so it cannot match a second output.
// For a matchHtlc result, stub identifies which HTLC matched.
func (c *commitmentScripts) matchOutput(pkScript []byte) (kind matchKind, stub *HtlcStub) {
	if c.toSelf != nil && scriptsEqual(pkScript, c.toSelf) {
		c.toSelf = nil
		return matchToSelf, nil
	}
	if c.toOther != nil && scriptsEqual(pkScript, c.toOther) {
		c.toOther = nil
		return matchToOther, nil
	}
	for i := range c.htlcs {
		if c.htlcs[i].script == nil {
			continue
		}
		if scriptsEqual(pkScript, c.htlcs[i].script) {
			matched := c.htlcs[i].stub
			c.htlcs[i].script = nil
			return matchHtlc, &matched
		}
	}
	return matchNone, nil
}
