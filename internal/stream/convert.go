package stream

import (
	"encoding/hex"

	"github.com/mr-tron/base58"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"github.com/pumpfun-indexer/streamcore/internal/parser"
)

// ToTx adapts a demuxed RawMessage's upstream transaction update into the
// parser package's wire-decoupled Tx shape (spec.md §9). Non-transaction
// updates (slot, ping/pong) have no Tx representation and ok is false.
func ToTx(raw RawMessage) (parser.Tx, bool) {
	if raw.Update == nil {
		return parser.Tx{}, false
	}
	txUpdate, ok := raw.Update.UpdateOneof.(*pb.SubscribeUpdate_Transaction)
	if !ok || txUpdate.Transaction == nil || txUpdate.Transaction.Transaction == nil {
		return parser.Tx{}, false
	}

	info := txUpdate.Transaction.Transaction
	tx := parser.Tx{
		Signature: hex.EncodeToString(info.Signature),
		Slot:      txUpdate.Transaction.Slot,
		Raw:       raw.Update,
	}

	if meta := info.Meta; meta != nil {
		tx.Failed = meta.Err != nil
		tx.LogMessages = meta.LogMessages
	}

	if msg := transactionMessage(info); msg != nil {
		accounts := make([]string, 0, len(msg.AccountKeys))
		for _, key := range msg.AccountKeys {
			accounts = append(accounts, base58.Encode(key))
		}
		tx.Accounts = accounts

		if len(msg.Instructions) > 0 {
			idx := msg.Instructions[0].ProgramIdIndex
			if int(idx) < len(msg.AccountKeys) {
				tx.ProgramID = base58.Encode(msg.AccountKeys[idx])
			}
		}
	}

	return tx, true
}

// transactionMessage reaches into the nested solana-storage transaction
// envelope the geyser proto wraps every signed transaction in.
func transactionMessage(info *pb.Transaction) *pb.Message {
	if info.Transaction == nil {
		return nil
	}
	return info.Transaction.Message
}
