package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meridian-pos/meridian-pos/internal/cart"
	"github.com/meridian-pos/meridian-pos/internal/ledger"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, error)
	GetSaleByNumber(ctx context.Context, number string) (Sale, error)
	DailySummary(ctx context.Context, day time.Time) (DailySummary, error)
}

// CartPort reads and clears the session's cart.
type CartPort interface {
	Get(ctx context.Context, sessionKey string) (*cart.Cart, error)
	Clear(ctx context.Context, sessionKey string) error
}

// StockPort provides the live availability reads phase one validates
// against. The authoritative claim still happens inside the transaction.
type StockPort interface {
	GetUnit(ctx context.Context, unitID int64) (ledger.StockUnit, error)
	CountAvailable(ctx context.Context, productID int64) (int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service turns carts into committed sales.
type Service struct {
	repo   RepositoryPort
	carts  CartPort
	stock  StockPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, carts CartPort, stock StockPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, carts: carts, stock: stock, audit: audit, logger: logger, now: time.Now}
}

// Checkout commits the session's cart as one sale. It runs in two phases:
// validation collects every problem without writing anything, then a single
// transaction claims each unit and writes the sale. Any claim lost to a
// concurrent sale aborts the whole transaction.
func (s *Service) Checkout(ctx context.Context, sessionKey string, input CheckoutInput) (Sale, error) {
	ve := &shared.ValidationError{}
	if input.PaymentMethod == "" {
		ve.Add("payment_method", "is required")
	}
	if input.DiscountAmount < 0 {
		ve.Add("discount_amount", "must not be negative")
	}
	taxRate := 0.0
	if input.TaxRate != nil {
		taxRate = *input.TaxRate
	}
	if taxRate < 0 || taxRate > 1 {
		ve.Add("tax_rate", "must be between 0 and 1")
	}

	current, err := s.carts.Get(ctx, sessionKey)
	if err != nil {
		return Sale{}, err
	}
	if len(current.Lines) == 0 {
		ve.Add("cart", "is empty")
	}
	for _, line := range current.Lines {
		if line.Quantity <= 0 {
			ve.Addf("lines."+line.Key, "invalid quantity %d", line.Quantity)
			continue
		}
		// Re-read against the live ledger so the cashier sees every stale
		// claim at once, not one conflict per attempt.
		switch line.Kind {
		case cart.ClaimConcrete:
			unit, err := s.stock.GetUnit(ctx, line.UnitID)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					ve.Addf("lines."+line.Key, "unit %d no longer exists", line.UnitID)
					continue
				}
				return Sale{}, err
			}
			if unit.Status != ledger.StatusAvailable {
				ve.Addf("lines."+line.Key, "unit %d is %s", line.UnitID, unit.Status)
			}
		case cart.ClaimQuantity:
			available, err := s.stock.CountAvailable(ctx, line.ProductID)
			if err != nil {
				return Sale{}, err
			}
			if line.Quantity > available {
				ve.Addf("lines."+line.Key, "insufficient stock: claimed %d, available %d", line.Quantity, available)
			}
		}
	}
	totals := current.Totals()
	if input.DiscountAmount > totals.Subtotal {
		ve.Add("discount_amount", "exceeds subtotal")
	}
	if err := ve.OrNil(); err != nil {
		return Sale{}, err
	}

	subtotal := shared.RoundMoney(totals.Subtotal)
	discount := shared.RoundMoney(input.DiscountAmount)
	tax := shared.RoundMoney((subtotal - discount) * taxRate)
	total := shared.RoundMoney(subtotal - discount + tax)

	status := StatusPaid
	if input.PaymentMethod == MethodDue {
		status = StatusPending
	}

	var saleID int64
	commit := func(ctx context.Context, tx TxRepository) error {
		number, err := s.nextSaleNumber(ctx, tx)
		if err != nil {
			return err
		}

		saleID, err = tx.InsertSale(ctx, Sale{
			SaleNumber:    number,
			CustomerName:  input.CustomerName,
			CustomerPhone: input.CustomerPhone,
			Subtotal:      subtotal,
			Discount:      discount,
			Tax:           tax,
			Total:         total,
			PaymentStatus: status,
			PaymentMethod: input.PaymentMethod,
			Notes:         input.Notes,
			CreatedBy:     input.ActorID,
		})
		if err != nil {
			return err
		}

		for _, line := range current.Lines {
			units, err := s.claimUnits(ctx, tx, line)
			if err != nil {
				return err
			}
			for _, unit := range units {
				if _, err := tx.InsertSaleLine(ctx, SaleLine{
					SaleID:      saleID,
					ProductID:   line.ProductID,
					StockUnitID: unit.ID,
					Quantity:    1,
					UnitPrice:   line.UnitPrice,
					LineTotal:   shared.RoundMoney(line.UnitPrice),
				}); err != nil {
					return err
				}
			}
		}

		if input.PaymentMethod != MethodDue {
			if _, err := tx.InsertPayment(ctx, Payment{
				SaleID:     saleID,
				Amount:     total,
				Method:     input.PaymentMethod,
				Reference:  input.PaymentReference,
				ReceivedBy: input.ActorID,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	err = s.repo.WithTx(ctx, commit)
	if isSaleNumberTaken(err) {
		// Two first checkouts of a day race to the same suffix; the loser
		// retries once with the winner's row now visible.
		err = s.repo.WithTx(ctx, commit)
	}
	if err != nil {
		return Sale{}, err
	}

	if err := s.carts.Clear(ctx, sessionKey); err != nil {
		// The sale is committed; a stale cart only costs the cashier a
		// manual clear.
		s.logger.Warn("clear cart after checkout", slog.Any("error", err), slog.String("session", sessionKey))
	}

	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "pos.checkout",
		Entity:   "sale",
		EntityID: strconv.FormatInt(saleID, 10),
		Meta:     map[string]any{"total": total, "method": input.PaymentMethod, "lines": len(current.Lines)},
	}); err != nil {
		s.logger.Warn("audit checkout", slog.Any("error", err))
	}

	return s.repo.GetSale(ctx, saleID)
}

// isSaleNumberTaken reports whether err is a unique violation on the sale
// number, the one conflict a fresh transaction can resolve by renumbering.
func isSaleNumberTaken(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "sale_number")
}

// RecordPayment settles money against an existing sale. Payments accumulate:
// the sale turns partial on the first short payment and paid once the rows
// cover the total.
func (s *Service) RecordPayment(ctx context.Context, saleID int64, input PaymentInput) (Sale, error) {
	ve := &shared.ValidationError{}
	if input.Amount <= 0 {
		ve.Add("amount", "must be positive")
	}
	switch input.Method {
	case MethodCash, MethodCard, MethodOnline:
	default:
		ve.Add("payment_method", "must be cash, card or online")
	}
	if err := ve.OrNil(); err != nil {
		return Sale{}, err
	}

	amount := shared.RoundMoney(input.Amount)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForSettlement(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.PaymentStatus == StatusPaid {
			return &shared.ConflictError{Message: fmt.Sprintf("sale %s is already paid", sale.SaleNumber)}
		}

		if _, err := tx.InsertPayment(ctx, Payment{
			SaleID:     saleID,
			Amount:     amount,
			Method:     input.Method,
			Reference:  input.Reference,
			ReceivedBy: input.ActorID,
		}); err != nil {
			return err
		}

		settled, err := tx.SumPayments(ctx, saleID)
		if err != nil {
			return err
		}
		status := StatusPartial
		if settled >= sale.Total {
			status = StatusPaid
		}
		return tx.SetPaymentStatus(ctx, saleID, status)
	})
	if err != nil {
		return Sale{}, err
	}

	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "pos.payment",
		Entity:   "sale",
		EntityID: strconv.FormatInt(saleID, 10),
		Meta:     map[string]any{"amount": amount, "method": input.Method},
	}); err != nil {
		s.logger.Warn("audit payment", slog.Any("error", err))
	}

	return s.repo.GetSale(ctx, saleID)
}

// claimUnits resolves a cart line to the units it sells and flips each one
// to sold. Concrete lines claim their exact unit; quantity lines pick fresh
// from whatever is available now.
func (s *Service) claimUnits(ctx context.Context, tx TxRepository, line cart.Line) ([]ledger.StockUnit, error) {
	if line.Kind == cart.ClaimConcrete {
		unit, err := tx.GetUnit(ctx, line.UnitID)
		if err != nil {
			return nil, err
		}
		ok, err := tx.MarkUnitSold(ctx, line.UnitID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &shared.ConflictError{LineKey: line.Key, UnitID: line.UnitID, Message: "unit no longer available"}
		}
		return []ledger.StockUnit{unit}, nil
	}

	units, err := tx.SelectAvailable(ctx, line.ProductID, line.Quantity)
	if err != nil {
		return nil, err
	}
	if len(units) < line.Quantity {
		return nil, &shared.ConflictError{LineKey: line.Key, Message: fmt.Sprintf("only %d of %d units still available", len(units), line.Quantity)}
	}
	for _, unit := range units {
		ok, err := tx.MarkUnitSold(ctx, unit.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &shared.ConflictError{LineKey: line.Key, UnitID: unit.ID, Message: "unit no longer available"}
		}
	}
	return units, nil
}

// nextSaleNumber issues INV-YYYYMMDD-NNNN, incrementing the day's highest
// suffix. Gaps from aborted transactions are tolerated.
func (s *Service) nextSaleNumber(ctx context.Context, tx TxRepository) (string, error) {
	prefix := "INV-" + s.now().Format("20060102") + "-"
	last, err := tx.LastSaleNumber(ctx, prefix)
	if err != nil {
		return "", err
	}
	seq := 1
	if last != "" {
		if n, err := strconv.Atoi(strings.TrimPrefix(last, prefix)); err == nil {
			seq = n + 1
		}
	}
	return fmt.Sprintf("%s%04d", prefix, seq), nil
}

// GetSale loads a sale with its lines.
func (s *Service) GetSale(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// GetSaleByNumber loads a sale by its number.
func (s *Service) GetSaleByNumber(ctx context.Context, number string) (Sale, error) {
	return s.repo.GetSaleByNumber(ctx, number)
}

// DailySummary aggregates the sales of one day.
func (s *Service) DailySummary(ctx context.Context, day time.Time) (DailySummary, error) {
	return s.repo.DailySummary(ctx, day)
}
