package treasury

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// BANK TRANSFERS - Safe <-> bank in one combined mutation
// =============================================================================

type TransferType string

const (
	TransferDeposit    TransferType = "deposit"    // safe -> bank
	TransferWithdrawal TransferType = "withdrawal" // bank -> safe
)

func (t TransferType) Valid() bool { return t == TransferDeposit || t == TransferWithdrawal }

// BankTransfer records both accounts before and after the movement.
type BankTransfer struct {
	ID            string
	Type          TransferType
	Amount        Amount
	SafeBefore    Amount
	SafeAfter     Amount
	BankBefore    Amount
	BankAfter     Amount
	BankReference string // deposit slip / withdrawal voucher number
	Notes         string
	TransactionID string
	RecordedBy    string
	RecordedAt    time.Time
}

type TransferRequest struct {
	Type          TransferType
	Amount        Amount
	BankReference string
	Notes         string
	RecordedBy    string
}

type BankTransferService struct {
	store   Store
	mutator *BalanceMutator
	log     zerolog.Logger
}

func NewBankTransferService(l *Ledger) *BankTransferService {
	return &BankTransferService{store: l.store, mutator: l.mutator, log: l.log}
}

// Transfer moves money between the safe and the bank. The source account
// must cover the amount (InsufficientFundsError otherwise).
func (s *BankTransferService) Transfer(ctx context.Context, req TransferRequest) (BankTransfer, Snapshot, error) {
	if !req.Type.Valid() {
		return BankTransfer{}, Snapshot{}, fmt.Errorf("%w: %q", ErrInvalidTransfer, req.Type)
	}
	if req.Amount <= 0 {
		return BankTransfer{}, Snapshot{}, fmt.Errorf("%w: %d", ErrInvalidAmount, req.Amount)
	}

	deltas := Deltas{AccountSafe: -req.Amount, AccountBank: req.Amount}
	meta := Meta{Type: TxBankDeposit, Direction: DirectionOut, Description: "Bank deposit"}
	if req.Type == TransferWithdrawal {
		deltas = deltas.Neg()
		meta = Meta{Type: TxBankWithdrawal, Direction: DirectionIn, Description: "Bank withdrawal"}
	}
	if req.BankReference != "" {
		meta.Description += " " + req.BankReference
	}
	meta.Amount = req.Amount
	meta.RecordedBy = req.RecordedBy

	var (
		transfer BankTransfer
		snap     Snapshot
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		before, err := tx.LockSnapshot(ctx)
		if err != nil {
			return err
		}

		transfer = BankTransfer{
			ID:            NewID(),
			Type:          req.Type,
			Amount:        req.Amount,
			SafeBefore:    before.Safe,
			BankBefore:    before.Bank,
			BankReference: req.BankReference,
			Notes:         req.Notes,
			RecordedBy:    req.RecordedBy,
		}
		meta.Reference = Reference{Kind: RefBankTransfer, ID: transfer.ID}

		var rec TransactionRecord
		snap, rec, err = s.mutator.Apply(ctx, tx, deltas, meta)
		if err != nil {
			return err
		}
		transfer.SafeAfter = snap.Safe
		transfer.BankAfter = snap.Bank
		transfer.TransactionID = rec.ID
		transfer.RecordedAt = rec.RecordedAt
		return tx.AppendBankTransfer(ctx, transfer)
	})
	if err != nil {
		return BankTransfer{}, Snapshot{}, err
	}

	s.log.Info().
		Str("type", string(transfer.Type)).
		Int64("amount", int64(transfer.Amount)).
		Str("bank_ref", transfer.BankReference).
		Msg("bank transfer recorded")
	return transfer, snap, nil
}

// History lists bank transfers, newest first.
func (s *BankTransferService) History(ctx context.Context, limit int) ([]BankTransfer, error) {
	var out []BankTransfer
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListBankTransfers(ctx, limit)
		return err
	})
	return out, err
}
