package model_test

import (
	"os"
	"path"
	"testing"
	"time"

	"ccwallet/pkg/config"
	"ccwallet/pkg/model"
	"ccwallet/pkg/xlog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var db *gorm.DB

func TestMain(m *testing.M) {
	config.Shared = &config.Config{
		IsDebug: true,
	}

	xlog.Init("test", path.Join(os.TempDir(), "ccwallet-model-test.log"))

	var err error
	db, err = model.NewSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		panic(err)
	}
	if err := model.Migrate(db); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestBalanceTotal(t *testing.T) {
	b := model.Balance{Free: decimal.RequireFromString("59"), Freeze: decimal.RequireFromString("41")}
	require.True(t, b.Total().Equal(decimal.NewFromInt(100)))
}

func TestTransactionLocked(t *testing.T) {
	w := model.Transaction{Type: model.TxTypeWithdraw, Amount: decimal.NewFromInt(40), Fee: decimal.NewFromInt(1)}
	require.True(t, w.Locked().Equal(decimal.NewFromInt(41)))

	d := model.Transaction{Type: model.TxTypeDeposit, Amount: decimal.NewFromInt(40)}
	require.True(t, d.Locked().IsZero())

	require.False(t, model.IsTerminal(model.TxStatusPending))
	require.True(t, model.IsTerminal(model.TxStatusCancelled))
}

func TestEffectKeyUnique(t *testing.T) {
	txID := uuid.NewString()
	now := time.Now()

	first := model.TransactionEvent{EventID: uuid.NewString(), TxID: txID, Kind: model.EventConfirmed, EffectKey: model.EffectKey(txID, model.TxStatusConfirmed), CreatedAt: now}
	require.NoError(t, db.Create(&first).Error)

	// events without an effect may repeat freely
	for i := 0; i < 2; i++ {
		ev := model.TransactionEvent{EventID: uuid.NewString(), TxID: txID, Kind: model.EventConfirmations, CreatedAt: now}
		require.NoError(t, db.Create(&ev).Error)
	}

	again := model.TransactionEvent{EventID: uuid.NewString(), TxID: txID, Kind: model.EventConfirmed, EffectKey: model.EffectKey(txID, model.TxStatusConfirmed), CreatedAt: now}
	err := db.Create(&again).Error
	require.Error(t, err)
	require.True(t, model.IsDuplicate(err))
}

func TestTransactionRoundTrip(t *testing.T) {
	now := time.Now()
	tx := model.Transaction{
		ID:                    uuid.NewString(),
		Owner:                 1,
		Type:                  model.TxTypeWithdraw,
		Coin:                  "USDT",
		Network:               "ERC20",
		Amount:                decimal.NewFromInt(40),
		Fee:                   decimal.NewFromInt(1),
		Status:                model.TxStatusPending,
		RequiredConfirmations: 12,
		Version:               1,
		Model:                 model.Model{CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, db.Create(&tx).Error)

	var got model.Transaction
	require.NoError(t, db.First(&got, "id = ?", tx.ID).Error)
	require.Equal(t, model.TxStatusPending, got.Status)
	require.True(t, got.Amount.Equal(tx.Amount))
	require.Equal(t, 12, got.RequiredConfirmations)
	require.Nil(t, got.FlaggedAt)
}
