package onchaind

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// HandleMutualClose implements §4.2: a mutual close resolves the funding
// output directly by the mutual-close transaction; no further outputs are
// tracked, since a mutual close pays out to each party's own wallet
// immediately.
func HandleMutualClose(store *TrackedOutputStore, funding *TrackedOutput,
	closeTxid chainhash.Hash, spendHeight uint32) (ChannelState, error) {

	if err := funding.ResolvedByOther(MutualClose, closeTxid, spendHeight); err != nil {
		return 0, err
	}
	return StateMutual, nil
}
