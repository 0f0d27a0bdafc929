package trading

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"stock-sim-go/internal/models"
	"stock-sim-go/internal/quote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeQuoteClient serves quotes from a fixed map, standing in for the live
// market-data collaborator.
type fakeQuoteClient struct {
	prices map[string]quote.Quote
}

func (f *fakeQuoteClient) Lookup(_ context.Context, symbol string) (*quote.Quote, error) {
	q, ok := f.prices[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return nil, quote.ErrUnknownSymbol
	}
	return &q, nil
}

func newTestService(t *testing.T, prices map[string]quote.Quote) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Transaction{}))

	svc := NewService(zap.NewNop(), db, &fakeQuoteClient{prices: prices})
	return svc, db
}

func createUser(t *testing.T, db *gorm.DB, cash float64) uint {
	t.Helper()

	user := models.User{Username: "alice", PasswordHash: "x", Cash: cash}
	require.NoError(t, db.Create(&user).Error)
	return user.ID
}

func userCash(t *testing.T, db *gorm.DB, userID uint) float64 {
	t.Helper()

	var user models.User
	require.NoError(t, db.First(&user, userID).Error)
	return user.Cash
}

func TestBuy(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		svc, db := newTestService(t, map[string]quote.Quote{
			"NVDA": {Symbol: "NVDA", Name: "NVIDIA Corporation", Price: 100},
		})
		userID := createUser(t, db, 10000)

		err := svc.Buy(context.Background(), userID, "NVDA", 10)

		require.NoError(t, err)
		assert.Equal(t, float64(9000), userCash(t, db, userID))

		var records []models.Transaction
		require.NoError(t, db.Where("user_id = ?", userID).Find(&records).Error)
		require.Len(t, records, 1)
		assert.Equal(t, "NVDA", records[0].Symbol)
		assert.Equal(t, 10, records[0].Shares)
		assert.Equal(t, float64(100), records[0].Price)
		assert.Equal(t, float64(1000), records[0].TotalPrice)
	})

	t.Run("InvalidShares", func(t *testing.T) {
		svc, db := newTestService(t, map[string]quote.Quote{
			"NVDA": {Symbol: "NVDA", Name: "NVIDIA Corporation", Price: 100},
		})
		userID := createUser(t, db, 10000)

		assert.ErrorIs(t, svc.Buy(context.Background(), userID, "NVDA", 0), ErrInvalidShares)
		assert.ErrorIs(t, svc.Buy(context.Background(), userID, "NVDA", -3), ErrInvalidShares)
		assert.Equal(t, float64(10000), userCash(t, db, userID))
	})

	t.Run("UnknownSymbol", func(t *testing.T) {
		svc, db := newTestService(t, nil)
		userID := createUser(t, db, 10000)

		err := svc.Buy(context.Background(), userID, "ZZZZZZ", 1)

		assert.ErrorIs(t, err, quote.ErrUnknownSymbol)
		assert.Equal(t, float64(10000), userCash(t, db, userID))
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		svc, db := newTestService(t, map[string]quote.Quote{
			"NVDA": {Symbol: "NVDA", Name: "NVIDIA Corporation", Price: 100},
		})
		userID := createUser(t, db, 500)

		err := svc.Buy(context.Background(), userID, "NVDA", 6)

		assert.ErrorIs(t, err, ErrInsufficientFunds)

		// Nothing committed: no ledger row, cash untouched.
		var count int64
		require.NoError(t, db.Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&count).Error)
		assert.Equal(t, int64(0), count)
		assert.Equal(t, float64(500), userCash(t, db, userID))
	})
}

func TestSell(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		svc, db := newTestService(t, map[string]quote.Quote{
			"NVDA": {Symbol: "NVDA", Name: "NVIDIA Corporation", Price: 100},
		})
		userID := createUser(t, db, 10000)
		require.NoError(t, svc.Buy(context.Background(), userID, "NVDA", 10))

		// Price moved up between the buy and the sell.
		svc.quotes = &fakeQuoteClient{prices: map[string]quote.Quote{
			"NVDA": {Symbol: "NVDA", Name: "NVIDIA Corporation", Price: 120},
		}}

		err := svc.Sell(context.Background(), userID, "nvda", 5)

		require.NoError(t, err)
		assert.Equal(t, float64(9600), userCash(t, db, userID))

		var records []models.Transaction
		require.NoError(t, db.Where("user_id = ?", userID).Order("created_at asc").Find(&records).Error)
		require.Len(t, records, 2)
		assert.Equal(t, 10, records[0].Shares) // buy row untouched
		assert.Equal(t, -5, records[1].Shares)
		assert.Equal(t, float64(120), records[1].Price)

		holdings, err := svc.Holdings(context.Background(), userID)
		require.NoError(t, err)
		require.Len(t, holdings, 1)
		assert.Equal(t, 5, holdings[0].Shares)
	})

	t.Run("UnownedSymbol", func(t *testing.T) {
		svc, db := newTestService(t, map[string]quote.Quote{
			"AAPL": {Symbol: "AAPL", Name: "Apple Inc", Price: 190},
		})
		userID := createUser(t, db, 10000)

		err := svc.Sell(context.Background(), userID, "AAPL", 1)

		assert.ErrorIs(t, err, ErrUnownedSymbol)
	})

	t.Run("NegativeShares", func(t *testing.T) {
		svc, db := newTestService(t, map[string]quote.Quote{
			"NVDA": {Symbol: "NVDA", Name: "NVIDIA Corporation", Price: 100},
		})
		userID := createUser(t, db, 10000)
		require.NoError(t, svc.Buy(context.Background(), userID, "NVDA", 1))

		err := svc.Sell(context.Background(), userID, "NVDA", -1)

		assert.ErrorIs(t, err, ErrInvalidShares)
	})

	t.Run("ZeroSharesAllowed", func(t *testing.T) {
		svc, db := newTestService(t, map[string]quote.Quote{
			"NVDA": {Symbol: "NVDA", Name: "NVIDIA Corporation", Price: 100},
		})
		userID := createUser(t, db, 10000)
		require.NoError(t, svc.Buy(context.Background(), userID, "NVDA", 1))
		cashBefore := userCash(t, db, userID)

		err := svc.Sell(context.Background(), userID, "NVDA", 0)

		require.NoError(t, err)
		assert.Equal(t, cashBefore, userCash(t, db, userID))
	})

	t.Run("MoreThanHeld", func(t *testing.T) {
		svc, db := newTestService(t, map[string]quote.Quote{
			"NVDA": {Symbol: "NVDA", Name: "NVIDIA Corporation", Price: 100},
		})
		userID := createUser(t, db, 10000)
		require.NoError(t, svc.Buy(context.Background(), userID, "NVDA", 10))

		err := svc.Sell(context.Background(), userID, "NVDA", 11)

		assert.ErrorIs(t, err, ErrInsufficientShares)
		assert.Equal(t, float64(9000), userCash(t, db, userID))

		var count int64
		require.NoError(t, db.Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}

func TestBuySellRoundTrip(t *testing.T) {
	svc, db := newTestService(t, map[string]quote.Quote{
		"NVDA": {Symbol: "NVDA", Name: "NVIDIA Corporation", Price: 250},
	})
	userID := createUser(t, db, 10000)

	require.NoError(t, svc.Buy(context.Background(), userID, "NVDA", 4))
	require.NoError(t, svc.Sell(context.Background(), userID, "NVDA", 4))

	// No market movement: cash is back to the pre-buy value and the net
	// position is gone.
	assert.Equal(t, float64(10000), userCash(t, db, userID))

	holdings, err := svc.Holdings(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, holdings)

	// The ledger kept both rows, nothing was mutated or deleted.
	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestPortfolio(t *testing.T) {
	svc, db := newTestService(t, map[string]quote.Quote{
		"NVDA": {Symbol: "NVDA", Name: "NVIDIA Corporation", Price: 100},
		"AAPL": {Symbol: "AAPL", Name: "Apple Inc", Price: 50},
	})
	userID := createUser(t, db, 10000)

	require.NoError(t, svc.Buy(context.Background(), userID, "NVDA", 10))
	require.NoError(t, svc.Buy(context.Background(), userID, "AAPL", 2))
	// Sold down to zero: must disappear from the portfolio view.
	require.NoError(t, svc.Sell(context.Background(), userID, "AAPL", 2))

	summary, err := svc.Portfolio(context.Background(), userID)
	require.NoError(t, err)

	require.Len(t, summary.Positions, 1)
	assert.Equal(t, "NVDA", summary.Positions[0].Symbol)
	assert.Equal(t, "NVIDIA Corporation", summary.Positions[0].Name)
	assert.Equal(t, 10, summary.Positions[0].Shares)
	assert.Equal(t, float64(1000), summary.Positions[0].Total)

	assert.Equal(t, float64(9000), summary.Cash)
	assert.Equal(t, float64(10000), summary.Total) // 9000 cash + 10 x 100
}

func TestTransactedSymbols(t *testing.T) {
	svc, db := newTestService(t, map[string]quote.Quote{
		"NVDA": {Symbol: "NVDA", Name: "NVIDIA Corporation", Price: 100},
		"AAPL": {Symbol: "AAPL", Name: "Apple Inc", Price: 50},
	})
	userID := createUser(t, db, 10000)

	require.NoError(t, svc.Buy(context.Background(), userID, "AAPL", 1))
	require.NoError(t, svc.Buy(context.Background(), userID, "NVDA", 1))
	require.NoError(t, svc.Sell(context.Background(), userID, "AAPL", 1))

	symbols, err := svc.TransactedSymbols(context.Background(), userID)
	require.NoError(t, err)

	// Sold-out symbols are still listed; only the holdings check blocks a
	// further oversell.
	assert.Equal(t, []string{"AAPL", "NVDA"}, symbols)
}

func TestHistory(t *testing.T) {
	svc, db := newTestService(t, map[string]quote.Quote{
		"NVDA": {Symbol: "NVDA", Name: "NVIDIA Corporation", Price: 100},
	})
	userID := createUser(t, db, 10000)
	otherID := createUserNamed(t, db, "bob", 10000)

	require.NoError(t, svc.Buy(context.Background(), userID, "NVDA", 3))
	require.NoError(t, svc.Buy(context.Background(), otherID, "NVDA", 7))
	require.NoError(t, svc.Sell(context.Background(), userID, "NVDA", 1))

	records, err := svc.History(context.Background(), userID)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, 3, records[0].Shares)
	assert.Equal(t, -1, records[1].Shares)
	for _, r := range records {
		assert.Equal(t, userID, r.UserID)
	}
}

func createUserNamed(t *testing.T, db *gorm.DB, username string, cash float64) uint {
	t.Helper()

	user := models.User{Username: username, PasswordHash: "x", Cash: cash}
	require.NoError(t, db.Create(&user).Error)
	return user.ID
}
