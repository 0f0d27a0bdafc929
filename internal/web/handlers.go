package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"stock-sim-go/internal/models"
	"stock-sim-go/internal/quote"
	"stock-sim-go/internal/trading"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// flash queues a one-shot message for the next rendered page.
func (s *Server) flash(w http.ResponseWriter, r *http.Request, message string) {
	session, err := s.store.Get(r, sessionName)
	if err != nil {
		return
	}
	session.AddFlash(message)
	if err := session.Save(r, w); err != nil {
		s.logger.Warn("Failed to save flash", zap.Error(err))
	}
}

// popFlash consumes the queued flash message, if any.
func (s *Server) popFlash(w http.ResponseWriter, r *http.Request) string {
	session, err := s.store.Get(r, sessionName)
	if err != nil {
		return ""
	}
	flashes := session.Flashes()
	if len(flashes) == 0 {
		return ""
	}
	if err := session.Save(r, w); err != nil {
		s.logger.Warn("Failed to save session", zap.Error(err))
	}
	msg, _ := flashes[0].(string)
	return msg
}

// clearSession forgets any bound user id.
func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.Get(r, sessionName)
	if err != nil {
		return
	}
	for key := range session.Values {
		delete(session.Values, key)
	}
	if err := session.Save(r, w); err != nil {
		s.logger.Warn("Failed to clear session", zap.Error(err))
	}
}

// bindSession remembers which user has logged in.
func (s *Server) bindSession(w http.ResponseWriter, r *http.Request, userID uint) error {
	session, err := s.store.Get(r, sessionName)
	if err != nil {
		return err
	}
	session.Values["user_id"] = userID
	return session.Save(r, w)
}

// indexHandler shows the portfolio of stocks.
func (s *Server) indexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.trading.Portfolio(r.Context(), currentUserID(r))
		if err != nil {
			s.internalError(w, err)
			return
		}
		s.render(w, http.StatusOK, "portfolio", "Portfolio", s.popFlash(w, r), summary)
	}
}

// quoteHandler looks up a live stock quote.
func (s *Server) quoteHandler() http.HandlerFunc {
	type quotedData struct {
		Symbol string
		Name   string
		Price  float64
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.render(w, http.StatusOK, "quote", "Quote", s.popFlash(w, r), nil)
			return
		}

		symbol := strings.ToUpper(strings.TrimSpace(r.FormValue("symbol")))
		q, err := s.quotes.Lookup(r.Context(), symbol)
		if errors.Is(err, quote.ErrUnknownSymbol) {
			s.apology(w, http.StatusForbidden, "Invalid Symbol")
			return
		}
		if err != nil {
			s.internalError(w, err)
			return
		}

		s.render(w, http.StatusOK, "quoted", "Quote", "", quotedData{
			Symbol: q.Symbol,
			Name:   q.Name,
			Price:  q.Price,
		})
	}
}

// buyHandler purchases shares of a stock.
func (s *Server) buyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.render(w, http.StatusOK, "buy", "Buy", s.popFlash(w, r), nil)
			return
		}

		symbol := r.FormValue("symbol")
		shares, err := strconv.Atoi(strings.TrimSpace(r.FormValue("shares")))
		if err != nil || shares <= 0 {
			s.apology(w, http.StatusForbidden, "Invalid number of shares")
			return
		}

		err = s.trading.Buy(r.Context(), currentUserID(r), symbol, shares)
		switch {
		case errors.Is(err, quote.ErrUnknownSymbol):
			s.apology(w, http.StatusForbidden, "Invalid symbol")
		case errors.Is(err, trading.ErrInvalidShares):
			s.apology(w, http.StatusForbidden, "Invalid number of shares")
		case errors.Is(err, trading.ErrInsufficientFunds):
			s.apology(w, http.StatusForbidden, "Not enough funds in the wallet")
		case err != nil:
			s.internalError(w, err)
		default:
			s.flash(w, r, "Bought")
			http.Redirect(w, r, "/", http.StatusSeeOther)
		}
	}
}

// sellHandler sells shares the user holds.
func (s *Server) sellHandler() http.HandlerFunc {
	type sellData struct {
		Symbols []string
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			symbols, err := s.trading.TransactedSymbols(r.Context(), currentUserID(r))
			if err != nil {
				s.internalError(w, err)
				return
			}
			s.render(w, http.StatusOK, "sell", "Sell", s.popFlash(w, r), sellData{Symbols: symbols})
			return
		}

		symbol := r.FormValue("symbol")
		shares, err := strconv.Atoi(strings.TrimSpace(r.FormValue("shares")))
		if err != nil {
			s.apology(w, http.StatusForbidden, "Invalid number of shares")
			return
		}

		err = s.trading.Sell(r.Context(), currentUserID(r), symbol, shares)
		switch {
		case errors.Is(err, trading.ErrUnownedSymbol), errors.Is(err, quote.ErrUnknownSymbol):
			s.apology(w, http.StatusForbidden, "Invalid symbol")
		case errors.Is(err, trading.ErrInvalidShares):
			s.apology(w, http.StatusForbidden, "Invalid number of shares")
		case errors.Is(err, trading.ErrInsufficientShares):
			s.apology(w, http.StatusForbidden, "Not enough stocks to sell")
		case err != nil:
			s.internalError(w, err)
		default:
			s.flash(w, r, "Sold")
			http.Redirect(w, r, "/", http.StatusSeeOther)
		}
	}
}

// historyHandler lists every transaction of the user.
func (s *Server) historyHandler() http.HandlerFunc {
	type historyData struct {
		Transactions []models.Transaction
	}
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := s.trading.History(r.Context(), currentUserID(r))
		if err != nil {
			s.internalError(w, err)
			return
		}
		s.render(w, http.StatusOK, "history", "History", s.popFlash(w, r), historyData{Transactions: records})
	}
}

// loginHandler logs a user in. Reaching the route forgets any current
// session first, so a half-logged-in state never survives.
func (s *Server) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.clearSession(w, r)

		if r.Method != http.MethodPost {
			s.render(w, http.StatusOK, "login", "Log In", "", nil)
			return
		}

		username := strings.TrimSpace(r.FormValue("username"))
		password := r.FormValue("password")
		if username == "" {
			s.apology(w, http.StatusForbidden, "must provide username")
			return
		}
		if password == "" {
			s.apology(w, http.StatusForbidden, "must provide password")
			return
		}

		// Unknown username and wrong password answer identically, so the
		// response leaks nothing about which part failed.
		var user models.User
		err := s.db.WithContext(r.Context()).Where("username = ?", username).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.apology(w, http.StatusForbidden, "invalid username and/or password")
			return
		}
		if err != nil {
			s.internalError(w, err)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			s.apology(w, http.StatusForbidden, "invalid username and/or password")
			return
		}

		if err := s.bindSession(w, r, user.ID); err != nil {
			s.internalError(w, err)
			return
		}

		s.logger.Info("User logged in", zap.String("username", username))
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// logoutHandler logs a user out unconditionally.
func (s *Server) logoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.clearSession(w, r)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// registerHandler registers a new user.
func (s *Server) registerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.render(w, http.StatusOK, "register", "Register", "", nil)
			return
		}

		username := strings.TrimSpace(r.FormValue("username"))
		password := r.FormValue("password")
		confirmation := r.FormValue("confirmation")

		if username == "" {
			s.apology(w, http.StatusForbidden, "invalid / existing username")
			return
		}

		var count int64
		if err := s.db.WithContext(r.Context()).Model(&models.User{}).
			Where("username = ?", username).Count(&count).Error; err != nil {
			s.internalError(w, err)
			return
		}
		if count > 0 {
			s.apology(w, http.StatusForbidden, "invalid / existing username")
			return
		}

		if password == "" || confirmation == "" || password != confirmation {
			s.apology(w, http.StatusForbidden, "passwords do not match")
			return
		}
		if !passwordStrongEnough(password) {
			s.apology(w, http.StatusForbidden, "Password not strong enough")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			s.internalError(w, err)
			return
		}

		user := models.User{
			Username:     username,
			PasswordHash: string(hash),
			Cash:         s.cfg.Trading.StartingCash,
		}
		if err := s.db.WithContext(r.Context()).Create(&user).Error; err != nil {
			s.internalError(w, err)
			return
		}

		if err := s.bindSession(w, r, user.ID); err != nil {
			s.internalError(w, err)
			return
		}

		s.logger.Info("Registered new user", zap.String("username", username))
		s.flash(w, r, "Registered")
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// passwordStrongEnough requires at least one digit and one letter.
func passwordStrongEnough(password string) bool {
	var hasDigit, hasLetter bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsLetter(r):
			hasLetter = true
		}
	}
	return hasDigit && hasLetter
}
