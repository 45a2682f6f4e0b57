package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"societyapp/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// dryRunDB строит запросы, не подключаясь к базе
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.Open("host=localhost user=test dbname=test sslmode=disable"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return db
}

func TestTranslate(t *testing.T) {
	other := errors.New("connection reset")

	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(gorm.ErrRecordNotFound), ErrNotFound)
	assert.ErrorIs(t, translate(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)), ErrDuplicate)
	assert.Equal(t, other, translate(other))
}

func TestFilteredQuery(t *testing.T) {
	repo := &gormPaymentRepository{db: dryRunDB(t)}
	owner := uint(7)
	year := 2024

	stmt := repo.filtered(context.Background(), PaymentFilter{
		OwnerID:       &owner,
		Status:        models.PaymentStatusCompleted,
		Category:      models.CategoryWater,
		BillingPeriod: "2024-03",
		BillingYear:   &year,
	}).Find(&[]models.Payment{}).Statement

	sql := stmt.SQL.String()
	for _, clause := range []string{"user_id = $1", "status = $2", "category = $3", "billing_period = $4", "billing_year = $5"} {
		assert.Contains(t, sql, clause)
	}
	assert.Equal(t, []interface{}{owner, models.PaymentStatusCompleted, models.CategoryWater, "2024-03", year}, stmt.Vars)
}

// captureUpdates запоминает SQL каждого UPDATE, построенного в режиме DryRun
func captureUpdates(t *testing.T, db *gorm.DB) *[]string {
	t.Helper()
	var statements []string
	err := db.Callback().Update().After("gorm:update").Register("test:capture", func(tx *gorm.DB) {
		statements = append(statements, tx.Statement.SQL.String())
	})
	require.NoError(t, err)
	return &statements
}

func TestConditionalWritesGuardInWhere(t *testing.T) {
	db := dryRunDB(t)
	statements := captureUpdates(t, db)
	repo := &gormPaymentRepository{db: db}
	ctx := context.Background()
	id := "5b7f2a34-9c1e-4a57-8d2e-0c6f1b3a9e11"

	// В DryRun строки не меняются, поэтому условная запись не считается выполненной
	applied, err := repo.SetGatewayOrderIfUnset(ctx, id, "order_1")
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.CompleteIfPending(ctx, id, Completion{GatewayPaymentID: "pay_1", TransactionID: "pay_1", Method: models.MethodUPI})
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.FailIfPending(ctx, id)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.SetReceiptIfCompleted(ctx, id, "https://storage.test/r", "r")
	require.NoError(t, err)
	assert.False(t, applied)

	require.Len(t, *statements, 4)
	assert.Contains(t, (*statements)[0], "gateway_order_id IS NULL")
	for _, sql := range (*statements)[1:] {
		assert.Contains(t, sql, "id = $")
		assert.Contains(t, sql, "status = $")
	}
}

func TestFilteredQueryWithoutConditions(t *testing.T) {
	repo := &gormPaymentRepository{db: dryRunDB(t)}

	stmt := repo.filtered(context.Background(), PaymentFilter{}).Find(&[]models.Payment{}).Statement
	assert.NotContains(t, stmt.SQL.String(), "user_id")
	assert.Empty(t, stmt.Vars)
}
