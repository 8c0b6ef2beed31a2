package consensus

import (
	"fmt"

	"github.com/ledgerforge/consensuscore/internal/chainerrors"
	"github.com/ledgerforge/consensuscore/internal/core"
	"github.com/ledgerforge/consensuscore/internal/core/types"
)

// applyTransaction mutates the account(s) tx touches inside store's active
// overlay, per spec §4.9 step 6's "simulate all transactions to produce
// StateDeltas". A coinbase transaction only credits its recipient; every
// other transaction is checked against the in-block nonce sequence (spec
// §4.9 step 4: "nonce = account.nonce + accumulated_tx_count_for_sender +
// 1") and against lane balance sufficiency before debiting the sender and
// crediting the recipient. txIndexForSender is how many of this sender's
// transactions earlier in the same block have already been applied.
func applyTransaction(store AccountStore, tx *core.SignedTransaction, txIndexForSender uint64) error {
	if tx.IsCoinbase() {
		recipient, err := store.Get(tx.Payload.Recipient)
		if err != nil {
			return err
		}
		if recipient == nil {
			recipient = &types.Account{Address: append(types.Address(nil), tx.Payload.Recipient...)}
		}
		recipient.BalanceConsumer += tx.Payload.AmountConsumer
		recipient.BalanceIndustrial += tx.Payload.AmountIndustrial
		return store.Put(recipient)
	}

	sender, err := store.Get(tx.Payload.Sender)
	if err != nil {
		return err
	}
	if sender == nil {
		return fmt.Errorf("%w: sender %s has no account", chainerrors.ErrInvalidBlock, tx.Payload.Sender.Hex())
	}

	wantNonce := sender.Nonce + txIndexForSender + 1
	if tx.Payload.Nonce != wantNonce {
		return fmt.Errorf("%w: tx nonce %d does not match expected %d", chainerrors.ErrInvalidBlock, tx.Payload.Nonce, wantNonce)
	}

	total := tx.Payload.AmountConsumer + tx.Payload.AmountIndustrial + tx.Payload.Fee
	if sender.Balance(tx.Lane) < total {
		return fmt.Errorf("%w: sender %s has insufficient %s-lane balance", chainerrors.ErrInvalidBlock, tx.Payload.Sender.Hex(), tx.Lane)
	}

	debitBalance(sender, tx.Lane, total)
	sender.RemovePendingNonce(tx.Payload.Nonce)
	releasePendingReservation(sender, tx.Lane, total)
	sender.Nonce = tx.Payload.Nonce
	if err := store.Put(sender); err != nil {
		return err
	}

	recipient, err := store.Get(tx.Payload.Recipient)
	if err != nil {
		return err
	}
	if recipient == nil {
		recipient = &types.Account{Address: append(types.Address(nil), tx.Payload.Recipient...)}
	}
	recipient.BalanceConsumer += tx.Payload.AmountConsumer
	recipient.BalanceIndustrial += tx.Payload.AmountIndustrial
	return store.Put(recipient)
}

func debitBalance(acc *types.Account, l types.Lane, amount uint64) {
	if l == types.LaneIndustrial {
		acc.BalanceIndustrial -= amount
		return
	}
	acc.BalanceConsumer -= amount
}

// releasePendingReservation undoes the mempool admission's pending-balance
// reservation for amount in lane l, saturating at zero so a transaction
// applied without having gone through this node's own mempool (received
// from a peer) never underflows the field.
func releasePendingReservation(acc *types.Account, l types.Lane, amount uint64) {
	pending := acc.PendingBalance(l)
	if amount > pending {
		amount = pending
	}
	if l == types.LaneIndustrial {
		acc.PendingBalanceIndustrial -= amount
		return
	}
	acc.PendingBalanceConsumer -= amount
}

// AccountStore is the narrow store surface applyTransaction needs,
// satisfied by *state.Store's Get/Put pair (already scoped the same way
// for the mempool's AccountView).
type AccountStore interface {
	Get(addr types.Address) (*types.Account, error)
	Put(acc *types.Account) error
}
