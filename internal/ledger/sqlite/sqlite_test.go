package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dua-ia/dua-credits/internal/ledger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *Store, userID string, total, used int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.Grant(ctx, ledger.GrantRequest{UserID: userID, Amount: total, Actor: "test"}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if used > 0 {
		if _, err := store.Deduct(ctx, ledger.AdjustRequest{UserID: userID, Amount: used, Actor: "test"}); err != nil {
			t.Fatalf("Deduct: %v", err)
		}
	}
}

func TestChargeAppendsTransaction(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seed(t, store, "user-1", 10, 0)

	receipt, err := store.Charge(ctx, ledger.ChargeRequest{
		UserID:    "user-1",
		Operation: "music_convert_wav",
		Amount:    1,
		Metadata:  map[string]any{"task_id": "abc"},
	})
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if receipt.Balance.UsedCredits != 1 || receipt.Balance.Available() != 9 {
		t.Fatalf("unexpected balance %+v", receipt.Balance)
	}
	if receipt.Transaction.Delta != -1 || receipt.Transaction.Kind != ledger.KindCharge {
		t.Fatalf("unexpected transaction %+v", receipt.Transaction)
	}
	if receipt.Transaction.BalanceAfter != 9 {
		t.Fatalf("balance_after = %d", receipt.Transaction.BalanceAfter)
	}

	got, err := store.Transaction(ctx, receipt.Transaction.ID)
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if got.Metadata["task_id"] != "abc" {
		t.Fatalf("metadata not persisted: %+v", got.Metadata)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("created_at not decoded")
	}
}

func TestChargeInsufficientLeavesBalance(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seed(t, store, "user-1", 60, 20)

	_, err := store.Charge(ctx, ledger.ChargeRequest{UserID: "user-1", Operation: "music_split_stem_full", Amount: 50})
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	bal, err := store.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.UsedCredits != 20 || bal.TotalCredits != 60 {
		t.Fatalf("balance changed: %+v", bal)
	}
	charges, err := store.ListTransactions(ctx, ledger.TransactionFilter{UserID: "user-1", Kind: ledger.KindCharge})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(charges) != 0 {
		t.Fatalf("expected no charge records, got %d", len(charges))
	}
}

func TestChargeWithoutBalanceRow(t *testing.T) {
	store := newStore(t)
	_, err := store.Charge(context.Background(), ledger.ChargeRequest{UserID: "ghost", Operation: "image_fast", Amount: 15})
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if _, err := store.Balance(context.Background(), "ghost"); !errors.Is(err, ledger.ErrBalanceNotFound) {
		t.Fatalf("expected ErrBalanceNotFound, got %v", err)
	}
}

func TestRepeatedChargesMatchTransactionCount(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seed(t, store, "user-1", 10, 0)

	for i := 0; i < 4; i++ {
		if _, err := store.Charge(ctx, ledger.ChargeRequest{UserID: "user-1", Operation: "music_convert_wav", Amount: 1}); err != nil {
			t.Fatalf("Charge %d: %v", i, err)
		}
	}
	bal, _ := store.Balance(ctx, "user-1")
	if bal.UsedCredits != 4 {
		t.Fatalf("used = %d, want 4", bal.UsedCredits)
	}
	summary, err := store.Summary(ctx, "user-1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Charges != 4 || summary.Spent != 4 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestConcurrentChargesNeverOverdraw(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seed(t, store, "user-1", 30, 0)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Charge(ctx, ledger.ChargeRequest{UserID: "user-1", Operation: "music_generate_v5", Amount: 6}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ledger.ErrInsufficientCredits) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	bal, _ := store.Balance(ctx, "user-1")
	if succeeded != 5 {
		t.Fatalf("succeeded = %d, want 5", succeeded)
	}
	if bal.UsedCredits != succeeded*6 {
		t.Fatalf("used = %d, want %d", bal.UsedCredits, succeeded*6)
	}
	charges, _ := store.ListTransactions(ctx, ledger.TransactionFilter{UserID: "user-1", Kind: ledger.KindCharge, Limit: 100})
	if int64(len(charges)) != succeeded {
		t.Fatalf("charge records = %d, want %d", len(charges), succeeded)
	}
}

func TestRefundIsIdempotent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seed(t, store, "user-1", 50, 0)

	charge, err := store.Charge(ctx, ledger.ChargeRequest{UserID: "user-1", Operation: "image_standard", Amount: 25})
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	first, err := store.Refund(ctx, ledger.RefundRequest{TransactionID: charge.Transaction.ID, Reason: "vendor failed"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if first.Duplicate || first.Transaction.Delta != 25 || first.Transaction.RefundOf != charge.Transaction.ID {
		t.Fatalf("unexpected refund %+v", first)
	}
	if first.Transaction.Metadata["refund"] != true {
		t.Fatalf("refund metadata missing: %+v", first.Transaction.Metadata)
	}
	if first.Balance.UsedCredits != 0 {
		t.Fatalf("used = %d after refund", first.Balance.UsedCredits)
	}

	second, err := store.Refund(ctx, ledger.RefundRequest{TransactionID: charge.Transaction.ID})
	if err != nil {
		t.Fatalf("second Refund: %v", err)
	}
	if !second.Duplicate || second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Transaction.ID, second)
	}
	bal, _ := store.Balance(ctx, "user-1")
	if bal.UsedCredits != 0 || bal.TotalCredits != 50 {
		t.Fatalf("balance changed by duplicate refund: %+v", bal)
	}
}

func TestRefundRejectsNonCharges(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	grant, err := store.Grant(ctx, ledger.GrantRequest{UserID: "user-1", Amount: 10})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := store.Refund(ctx, ledger.RefundRequest{TransactionID: grant.Transaction.ID}); !errors.Is(err, ledger.ErrNotRefundable) {
		t.Fatalf("expected ErrNotRefundable, got %v", err)
	}
	if _, err := store.Refund(ctx, ledger.RefundRequest{TransactionID: "missing"}); !errors.Is(err, ledger.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestSetAvailable(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seed(t, store, "user-1", 40, 15)

	receipt, err := store.SetAvailable(ctx, ledger.SetRequest{UserID: "user-1", Available: 100, Actor: "admin"})
	if err != nil {
		t.Fatalf("SetAvailable: %v", err)
	}
	if receipt.Balance.Available() != 100 || receipt.Balance.UsedCredits != 15 {
		t.Fatalf("unexpected balance %+v", receipt.Balance)
	}
	if receipt.Transaction.Delta != 75 || receipt.Transaction.Kind != ledger.KindAdjust {
		t.Fatalf("unexpected transaction %+v", receipt.Transaction)
	}

	fresh, err := store.SetAvailable(ctx, ledger.SetRequest{UserID: "user-2", Available: 5})
	if err != nil {
		t.Fatalf("SetAvailable new user: %v", err)
	}
	if fresh.Balance.Available() != 5 {
		t.Fatalf("new user available = %d", fresh.Balance.Available())
	}
	if _, err := store.SetAvailable(ctx, ledger.SetRequest{UserID: "user-1", Available: -1}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestInviteCodeSingleUse(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if err := store.CreateInviteCodes(ctx, []ledger.InviteCode{{Code: "dua-welcome", CreditsGranted: 100, CreatedBy: "admin"}}); err != nil {
		t.Fatalf("CreateInviteCodes: %v", err)
	}

	invite, receipt, err := store.RedeemInviteCode(ctx, " Dua-Welcome ", "user-1")
	if err != nil {
		t.Fatalf("RedeemInviteCode: %v", err)
	}
	if invite.Code != "DUA-WELCOME" || invite.UsedBy != "user-1" || invite.Active {
		t.Fatalf("unexpected invite %+v", invite)
	}
	if invite.UsedAt == nil {
		t.Fatalf("used_at not set")
	}
	if receipt.Balance.Available() != 100 || receipt.Transaction.Kind != ledger.KindGrant {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	if _, _, err := store.RedeemInviteCode(ctx, "DUA-WELCOME", "user-2"); !errors.Is(err, ledger.ErrInviteUsed) {
		t.Fatalf("expected ErrInviteUsed, got %v", err)
	}
	if _, _, err := store.RedeemInviteCode(ctx, "NOPE-CODE", "user-2"); !errors.Is(err, ledger.ErrInviteInvalid) {
		t.Fatalf("expected ErrInviteInvalid, got %v", err)
	}
	if _, _, err := store.RedeemInviteCode(ctx, "abc", "user-2"); !errors.Is(err, ledger.ErrInviteInvalid) {
		t.Fatalf("expected short code to be invalid, got %v", err)
	}
	if err := store.CreateInviteCodes(ctx, []ledger.InviteCode{{Code: "DUA-WELCOME", CreditsGranted: 5}}); !errors.Is(err, ledger.ErrInviteExists) {
		t.Fatalf("expected ErrInviteExists, got %v", err)
	}
}

func TestServiceCostOverrides(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, ok, err := store.CostOverride(ctx, "music_convert_wav"); err != nil || ok {
		t.Fatalf("expected no override, ok=%v err=%v", ok, err)
	}
	saved, err := store.UpsertServiceCost(ctx, ledger.ServiceCost{
		ServiceName: "music_convert_wav",
		CreditsCost: 2,
		Active:      true,
		Category:    "music",
		UpdatedBy:   "admin@dua.ia",
	})
	if err != nil {
		t.Fatalf("UpsertServiceCost: %v", err)
	}
	if saved.UpdatedAt.IsZero() || saved.CreditsCost != 2 {
		t.Fatalf("unexpected saved row %+v", saved)
	}
	cost, ok, err := store.CostOverride(ctx, "music_convert_wav")
	if err != nil || !ok || cost != 2 {
		t.Fatalf("override = %d ok=%v err=%v", cost, ok, err)
	}

	if _, err := store.UpsertServiceCost(ctx, ledger.ServiceCost{ServiceName: "music_convert_wav", CreditsCost: 2, Active: false}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, ok, _ := store.CostOverride(ctx, "music_convert_wav"); ok {
		t.Fatalf("inactive override must be ignored")
	}
	all, err := store.ServiceCosts(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ServiceCosts = %d rows, err %v", len(all), err)
	}
}

func TestStats(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seed(t, store, "user-1", 100, 0)
	seed(t, store, "user-2", 10, 10)

	for i := 0; i < 2; i++ {
		if _, err := store.Charge(ctx, ledger.ChargeRequest{UserID: "user-1", Operation: "image_standard", Amount: 25}); err != nil {
			t.Fatalf("Charge: %v", err)
		}
	}
	if _, err := store.Charge(ctx, ledger.ChargeRequest{UserID: "user-1", Operation: "music_convert_wav", Amount: 1}); err != nil {
		t.Fatalf("Charge: %v", err)
	}

	st, err := store.Stats(ctx, time.Now().Add(-time.Hour), 5)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Users != 2 || st.UsersWithCredits != 1 {
		t.Fatalf("users = %d with credits = %d", st.Users, st.UsersWithCredits)
	}
	if st.TotalCredits != 110 || st.UsedCredits != 61 || st.AvailableCredits != 49 {
		t.Fatalf("unexpected totals %+v", st)
	}
	if st.PeriodSpent != 61 || st.PeriodAdded != 110 || st.PeriodNet != 49 {
		t.Fatalf("unexpected period %+v", st)
	}
	if len(st.TopOperations) != 2 || st.TopOperations[0].Operation != "image_standard" || st.TopOperations[0].Count != 2 {
		t.Fatalf("unexpected top operations %+v", st.TopOperations)
	}

	balances, err := store.ListBalances(ctx, 10, 0)
	if err != nil || len(balances) != 2 || balances[0].UserID != "user-1" {
		t.Fatalf("ListBalances = %+v err %v", balances, err)
	}
}
