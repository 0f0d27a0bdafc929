package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stock-sim-go/internal/models"
	"stock-sim-go/internal/quote"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidShares is returned when a requested share quantity is out of
	// range for the operation (non-positive for buys, negative for sells).
	ErrInvalidShares = errors.New("invalid number of shares")

	// ErrInsufficientFunds is returned when a buy would cost more than the
	// user's cash balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientShares is returned when a sell requests more shares
	// than the user's net holdings for the symbol.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrUnownedSymbol is returned when a sell names a symbol the user has
	// never transacted.
	ErrUnownedSymbol = errors.New("symbol not in portfolio")
)

// Service implements the portfolio operations against the shared store and
// the live quote collaborator.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
	quotes quote.Client
}

// NewService creates a new trading service.
func NewService(logger *zap.Logger, db *gorm.DB, quotes quote.Client) *Service {
	return &Service{
		logger: logger,
		db:     db,
		quotes: quotes,
	}
}

// Holding is a user's net share count for one symbol.
type Holding struct {
	Symbol string
	Shares int
}

// Position is one portfolio line: net holdings joined with a live quote.
type Position struct {
	Symbol string
	Name   string
	Shares int
	Price  float64
	Total  float64
}

// PortfolioSummary aggregates a user's positions, cash, and grand total.
type PortfolioSummary struct {
	Positions []Position
	Cash      float64
	Total     float64
}

// Buy purchases shares of a stock at the live price. The ledger insert and
// the cash decrement commit in a single database transaction, so a failure
// in either leaves both untouched.
func (s *Service) Buy(ctx context.Context, userID uint, symbol string, shares int) error {
	if shares <= 0 {
		return ErrInvalidShares
	}

	q, err := s.quotes.Lookup(ctx, symbol)
	if err != nil {
		return err
	}

	total := q.Price * float64(shares)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return fmt.Errorf("failed to load user %d: %w", userID, err)
		}

		if total > user.Cash {
			return ErrInsufficientFunds
		}

		record := models.Transaction{
			UserID:     userID,
			Symbol:     q.Symbol,
			Name:       q.Name,
			Shares:     shares,
			Price:      q.Price,
			TotalPrice: total,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to record purchase: %w", err)
		}

		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			Update("cash", gorm.Expr("cash - ?", total)).Error; err != nil {
			return fmt.Errorf("failed to update cash: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Bought shares",
		zap.Uint("user_id", userID),
		zap.String("symbol", q.Symbol),
		zap.Int("shares", shares),
		zap.Float64("price", q.Price),
	)
	return nil
}

// Sell disposes of shares the user holds, at the live price. The symbol must
// appear in the user's transaction history and the requested quantity must
// not exceed net holdings. A negative-share row is appended and cash is
// incremented, both in one database transaction.
func (s *Service) Sell(ctx context.Context, userID uint, symbol string, shares int) error {
	if shares < 0 {
		return ErrInvalidShares
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	owned, err := s.TransactedSymbols(ctx, userID)
	if err != nil {
		return err
	}
	found := false
	for _, sym := range owned {
		if sym == symbol {
			found = true
			break
		}
	}
	if !found {
		return ErrUnownedSymbol
	}

	q, err := s.quotes.Lookup(ctx, symbol)
	if err != nil {
		return err
	}

	proceeds := q.Price * float64(shares)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var net int64
		if err := tx.Model(&models.Transaction{}).
			Where("user_id = ? AND symbol = ?", userID, symbol).
			Select("COALESCE(SUM(shares), 0)").
			Scan(&net).Error; err != nil {
			return fmt.Errorf("failed to compute holdings: %w", err)
		}

		if int64(shares) > net {
			return ErrInsufficientShares
		}

		record := models.Transaction{
			UserID:     userID,
			Symbol:     q.Symbol,
			Name:       q.Name,
			Shares:     -shares,
			Price:      q.Price,
			TotalPrice: proceeds,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to record sale: %w", err)
		}

		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			Update("cash", gorm.Expr("cash + ?", proceeds)).Error; err != nil {
			return fmt.Errorf("failed to update cash: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Sold shares",
		zap.Uint("user_id", userID),
		zap.String("symbol", q.Symbol),
		zap.Int("shares", shares),
		zap.Float64("price", q.Price),
	)
	return nil
}

// Portfolio builds the index view: every symbol with positive net shares,
// joined with a live quote, plus the cash balance and the grand total.
// Values stay numeric here; currency formatting belongs to the presentation
// layer.
func (s *Service) Portfolio(ctx context.Context, userID uint) (*PortfolioSummary, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}

	holdings, err := s.Holdings(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &PortfolioSummary{Cash: user.Cash}
	for _, h := range holdings {
		q, err := s.quotes.Lookup(ctx, h.Symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to price holding %s: %w", h.Symbol, err)
		}
		line := Position{
			Symbol: q.Symbol,
			Name:   q.Name,
			Shares: h.Shares,
			Price:  q.Price,
			Total:  q.Price * float64(h.Shares),
		}
		summary.Positions = append(summary.Positions, line)
		summary.Total += line.Total
	}
	summary.Total += user.Cash

	return summary, nil
}

// Holdings returns the user's net share count per symbol, keeping only
// symbols with positive net shares.
func (s *Service) Holdings(ctx context.Context, userID uint) ([]Holding, error) {
	var rows []struct {
		Symbol      string
		TotalShares int
	}
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("symbol, SUM(shares) AS total_shares").
		Where("user_id = ?", userID).
		Group("symbol").
		Having("SUM(shares) > 0").
		Order("symbol").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate holdings: %w", err)
	}

	holdings := make([]Holding, 0, len(rows))
	for _, row := range rows {
		holdings = append(holdings, Holding{Symbol: row.Symbol, Shares: row.TotalShares})
	}
	return holdings, nil
}

// TransactedSymbols returns every symbol the user has ever traded, including
// ones sold down to zero. The sell form lists these; the holdings check in
// Sell still blocks overselling.
func (s *Service) TransactedSymbols(ctx context.Context, userID uint) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("user_id = ?", userID).
		Distinct("symbol").
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transacted symbols: %w", err)
	}
	return symbols, nil
}

// History returns all of a user's transactions in insertion order.
func (s *Service) History(ctx context.Context, userID uint) ([]models.Transaction, error) {
	var records []models.Transaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return records, nil
}
