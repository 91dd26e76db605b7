package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/commispay/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func expectLockBatch(dbmock sqlmock.Sqlmock, batchID string, total int64, status models.SettlementStatus) {
	dbmock.ExpectQuery("SELECT id, batch_number, settlement_date, total_amount, currency, status, COALESCE\\(bank_reference, ''\\), COALESCE\\(failure_reason, ''\\), COALESCE\\(created_by, ''\\), created_at FROM settlement_batches WHERE id = \\$1 FOR UPDATE").
		WithArgs(batchID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "batch_number", "settlement_date", "total_amount", "currency", "status", "bank_reference", "failure_reason", "created_by", "created_at"}).
			AddRow(batchID, "STL-20260829-ABCDEF", time.Now(), total, "INR", status, "", "", "ops@example.com", time.Now()))
}

func expectBatchMembers(dbmock sqlmock.Sqlmock, batchID string, members ...[3]interface{}) {
	rows := sqlmock.NewRows([]string{"id", "account_id", "requested_amount", "tds_amount", "net_amount", "currency", "bank_details", "status", "gateway_transaction_id", "notes", "created_at"})
	for _, m := range members {
		id := m[0].(string)
		requested := m[1].(int64)
		net := m[2].(int64)
		rows.AddRow(id, "acct1", requested, requested-net, net, "INR", []byte(testBankJSON), models.PayoutProcessing, "", "", time.Now())
	}
	dbmock.ExpectQuery("SELECT id, account_id, requested_amount, tds_amount, net_amount, currency, bank_details, status, COALESCE\\(gateway_transaction_id, ''\\), COALESCE\\(notes, ''\\), created_at FROM payouts WHERE batch_id = \\$1 ORDER BY created_at").
		WithArgs(batchID).
		WillReturnRows(rows)
}

func TestSettlementService_CreateBatch(t *testing.T) {
	t.Run("groups processing payouts and sums net amounts", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		payouts := NewPayoutService(db, nil, NewBankService())
		service := NewSettlementService(db, payouts)

		dbmock.ExpectBegin()

		expectLockPayout(dbmock, "p1", 50000, 5000, 45000, models.PayoutProcessing)
		dbmock.ExpectExec("UPDATE payouts SET batch_id = \\$1 WHERE id = \\$2 AND batch_id IS NULL").
			WithArgs(sqlmock.AnyArg(), "p1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		expectLockPayout(dbmock, "p2", 30000, 3000, 27000, models.PayoutProcessing)
		dbmock.ExpectExec("UPDATE payouts SET batch_id = \\$1 WHERE id = \\$2 AND batch_id IS NULL").
			WithArgs(sqlmock.AnyArg(), "p2").
			WillReturnResult(sqlmock.NewResult(0, 1))

		dbmock.ExpectExec("INSERT INTO settlement_batches").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(72000), "INR",
				models.SettlementPending, "ops@example.com", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		dbmock.ExpectCommit()

		batch, err := service.createBatch([]string{"p1", "p2"}, time.Now(), "ops@example.com")
		assert.NoError(t, err)
		assert.Equal(t, int64(72000), batch.TotalAmount)
		assert.Equal(t, models.SettlementPending, batch.Status)
		assert.Contains(t, batch.BatchNumber, "STL-")
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("members lock in sorted order regardless of request order", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		payouts := NewPayoutService(db, nil, NewBankService())
		service := NewSettlementService(db, payouts)

		dbmock.ExpectBegin()

		// Request order is p2, p1; the lock order must still be p1, p2 so two
		// overlapping creations cannot deadlock.
		expectLockPayout(dbmock, "p1", 50000, 5000, 45000, models.PayoutProcessing)
		dbmock.ExpectExec("UPDATE payouts SET batch_id = \\$1 WHERE id = \\$2 AND batch_id IS NULL").
			WithArgs(sqlmock.AnyArg(), "p1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		expectLockPayout(dbmock, "p2", 30000, 3000, 27000, models.PayoutProcessing)
		dbmock.ExpectExec("UPDATE payouts SET batch_id = \\$1 WHERE id = \\$2 AND batch_id IS NULL").
			WithArgs(sqlmock.AnyArg(), "p2").
			WillReturnResult(sqlmock.NewResult(0, 1))

		dbmock.ExpectExec("INSERT INTO settlement_batches").
			WillReturnResult(sqlmock.NewResult(1, 1))

		dbmock.ExpectCommit()

		batch, err := service.createBatch([]string{"p2", "p1"}, time.Now(), "ops@example.com")
		assert.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2"}, batch.PayoutIDs)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("pending payout cannot join a batch", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		payouts := NewPayoutService(db, nil, NewBankService())
		service := NewSettlementService(db, payouts)

		dbmock.ExpectBegin()
		expectLockPayout(dbmock, "p1", 50000, 5000, 45000, models.PayoutPending)
		dbmock.ExpectRollback()

		_, err = service.createBatch([]string{"p1"}, time.Now(), "ops@example.com")
		assert.True(t, IsInvalidStateTransition(err))
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("payout already in another batch aborts creation", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		payouts := NewPayoutService(db, nil, NewBankService())
		service := NewSettlementService(db, payouts)

		dbmock.ExpectBegin()
		expectLockPayout(dbmock, "p1", 50000, 5000, 45000, models.PayoutProcessing)
		dbmock.ExpectExec("UPDATE payouts SET batch_id = \\$1 WHERE id = \\$2 AND batch_id IS NULL").
			WithArgs(sqlmock.AnyArg(), "p1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		dbmock.ExpectRollback()

		_, err = service.createBatch([]string{"p1"}, time.Now(), "ops@example.com")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already belongs")
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})
}

func TestSettlementService_CompleteBatch(t *testing.T) {
	t.Run("all members complete atomically", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		payouts := NewPayoutService(db, nil, NewBankService())
		service := NewSettlementService(db, payouts)

		dbmock.ExpectBegin()
		expectLockBatch(dbmock, "batch1", 72000, models.SettlementProcessing)
		expectBatchMembers(dbmock, "batch1",
			[3]interface{}{"p1", int64(50000), int64(45000)},
			[3]interface{}{"p2", int64(30000), int64(27000)})

		for _, id := range []string{"p1", "p2"} {
			expectLockPayout(dbmock, id, 50000, 5000, 45000, models.PayoutProcessing)
			dbmock.ExpectExec("UPDATE payouts SET status = \\$1, completed_by = \\$3, completed_at = \\$4 WHERE id = \\$2 AND status = 'processing'").
				WithArgs(models.PayoutCompleted, id, "ops@example.com", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))
		}

		dbmock.ExpectExec("UPDATE settlement_batches SET status = \\$1, bank_reference = \\$2, total_amount = \\$3, completed_at = \\$4 WHERE id = \\$5 AND status IN \\('pending', 'processing'\\)").
			WithArgs(models.SettlementCompleted, "BANKREF-77", int64(72000), sqlmock.AnyArg(), "batch1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		dbmock.ExpectCommit()

		batch, err := service.completeBatch("batch1", "BANKREF-77", "ops@example.com")
		assert.NoError(t, err)
		assert.Equal(t, models.SettlementCompleted, batch.Status)
		assert.Equal(t, "BANKREF-77", batch.BankReference)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("one non-processing member aborts every completion", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		payouts := NewPayoutService(db, nil, NewBankService())
		service := NewSettlementService(db, payouts)

		dbmock.ExpectBegin()
		expectLockBatch(dbmock, "batch1", 72000, models.SettlementProcessing)
		expectBatchMembers(dbmock, "batch1",
			[3]interface{}{"p1", int64(50000), int64(45000)},
			[3]interface{}{"p2", int64(30000), int64(27000)})

		expectLockPayout(dbmock, "p1", 50000, 5000, 45000, models.PayoutProcessing)
		dbmock.ExpectExec("UPDATE payouts SET status = \\$1, completed_by = \\$3, completed_at = \\$4 WHERE id = \\$2 AND status = 'processing'").
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Second member was cancelled out-of-band: the whole batch rolls back
		expectLockPayout(dbmock, "p2", 30000, 3000, 27000, models.PayoutCancelled)
		dbmock.ExpectRollback()

		_, err = service.completeBatch("batch1", "BANKREF-77", "ops@example.com")
		assert.True(t, IsInvalidStateTransition(err))
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("total mismatch halts completion", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		payouts := NewPayoutService(db, nil, NewBankService())
		service := NewSettlementService(db, payouts)

		dbmock.ExpectBegin()
		expectLockBatch(dbmock, "batch1", 99999, models.SettlementProcessing)
		expectBatchMembers(dbmock, "batch1",
			[3]interface{}{"p1", int64(50000), int64(45000)})
		dbmock.ExpectRollback()

		_, err = service.completeBatch("batch1", "BANKREF-77", "ops@example.com")

		var integrity *SettlementIntegrityError
		assert.True(t, asSettlementIntegrityError(err, &integrity))
		assert.Equal(t, int64(99999), integrity.Stored)
		assert.Equal(t, int64(45000), integrity.Computed)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("completed batch cannot be completed again", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		payouts := NewPayoutService(db, nil, NewBankService())
		service := NewSettlementService(db, payouts)

		dbmock.ExpectBegin()
		expectLockBatch(dbmock, "batch1", 72000, models.SettlementCompleted)
		dbmock.ExpectRollback()

		_, err = service.completeBatch("batch1", "BANKREF-77", "ops@example.com")
		assert.True(t, IsInvalidStateTransition(err))
	})
}

func TestSettlementService_FailBatch(t *testing.T) {
	t.Run("cancels members and credits balances back", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		payouts := NewPayoutService(db, nil, NewBankService())
		service := NewSettlementService(db, payouts)

		dbmock.ExpectBegin()
		expectLockBatch(dbmock, "batch1", 45000, models.SettlementProcessing)
		expectBatchMembers(dbmock, "batch1",
			[3]interface{}{"p1", int64(50000), int64(45000)})

		// CancelTx: lock payout, compensating credit, guarded transition
		expectLockPayout(dbmock, "p1", 50000, 5000, 45000, models.PayoutProcessing)

		dbmock.ExpectQuery("SELECT id, balance, version, updated_at FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version", "updated_at"}).
				AddRow("acct1", 50000, 2, time.Now()))

		dbmock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("p1", "acct1", int64(50000), "CREDIT", 100000, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		dbmock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(100000, sqlmock.AnyArg(), "acct1", 2).
			WillReturnResult(sqlmock.NewResult(1, 1))

		dbmock.ExpectExec("UPDATE payouts SET status = \\$1, cancelled_at = \\$3 WHERE id = \\$2 AND status = 'processing'").
			WithArgs(models.PayoutCancelled, "p1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		dbmock.ExpectExec("UPDATE settlement_batches SET status = \\$1, failure_reason = \\$2, failed_at = \\$3 WHERE id = \\$4 AND status IN \\('pending', 'processing'\\)").
			WithArgs(models.SettlementFailed, "bank file rejected", sqlmock.AnyArg(), "batch1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		dbmock.ExpectCommit()

		batch, err := service.failBatch("batch1", "bank file rejected", "ops@example.com")
		assert.NoError(t, err)
		assert.Equal(t, models.SettlementFailed, batch.Status)
		assert.Equal(t, "bank file rejected", batch.FailureReason)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("reason is mandatory", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		payouts := NewPayoutService(db, nil, NewBankService())
		service := NewSettlementService(db, payouts)

		_, err = service.failBatch("batch1", "  ", "ops@example.com")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "reason is required")
	})

	t.Run("failed batch is terminal", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		payouts := NewPayoutService(db, nil, NewBankService())
		service := NewSettlementService(db, payouts)

		dbmock.ExpectBegin()
		expectLockBatch(dbmock, "batch1", 45000, models.SettlementFailed)
		dbmock.ExpectRollback()

		_, err = service.failBatch("batch1", "second attempt", "ops@example.com")
		assert.True(t, IsInvalidStateTransition(err))
	})
}

func TestSettlementService_BuildPacs008(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	payouts := NewPayoutService(db, nil, NewBankService())
	service := NewSettlementService(db, payouts)

	batch := &models.SettlementBatch{
		ID:             "batch1",
		BatchNumber:    "STL-20260829-ABCDEF",
		SettlementDate: time.Now(),
		TotalAmount:    72000,
		Currency:       "INR",
	}
	members := []models.PayoutRequest{
		{ID: "p1", NetAmount: 45000, Currency: "INR", BankDetails: testBankDetails},
		{ID: "p2", NetAmount: 27000, Currency: "INR", BankDetails: testBankDetails},
	}

	doc := service.buildPacs008(batch, members)
	assert.Len(t, doc.CdtTrfTxInf, 2)
	assert.Equal(t, "2", string(doc.GrpHdr.NbOfTxs))
	assert.InDelta(t, 720.0, doc.GrpHdr.TtlIntrBkSttlmAmt.Value, 0.001)
	assert.InDelta(t, 450.0, doc.CdtTrfTxInf[0].IntrBkSttlmAmt.Value, 0.001)
	assert.Equal(t, "STL-20260829-ABCDEF", string(doc.CdtTrfTxInf[0].PmtId.EndToEndId))
}
