package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_trade_manager/internal/domain"
)

// SQLiteStore implements the order, position, conditional-order and
// trade repositories on a single sqlite database. Payload columns hold
// JSON text produced by the domain codecs.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			instrument TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			tag TEXT NOT NULL DEFAULT '',
			requested_quantity REAL NOT NULL,
			requested_price REAL NOT NULL DEFAULT 0,
			stop_price REAL NOT NULL DEFAULT 0,
			filled_quantity REAL NOT NULL DEFAULT 0,
			filled_price REAL NOT NULL DEFAULT 0,
			broker_order_id TEXT NOT NULL DEFAULT '',
			replaced_by_order_id TEXT NOT NULL DEFAULT '',
			status_reason TEXT NOT NULL DEFAULT '',
			account_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_replaced_by ON orders(replaced_by_order_id);`,
		`CREATE TABLE IF NOT EXISTS positions (
			symbol TEXT PRIMARY KEY,
			instrument TEXT NOT NULL DEFAULT '',
			shares REAL NOT NULL,
			entry_price REAL NOT NULL,
			current_price REAL NOT NULL DEFAULT 0,
			stop_loss REAL NOT NULL DEFAULT 0,
			trailing_stop REAL NOT NULL DEFAULT 0,
			take_profit REAL NOT NULL DEFAULT 0,
			ai_exit_conditions TEXT NOT NULL DEFAULT '',
			entry_time DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conditional_orders (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			trigger_condition TEXT NOT NULL,
			action TEXT NOT NULL,
			status TEXT NOT NULL,
			oco_group_id TEXT NOT NULL DEFAULT '',
			linked_order_id TEXT NOT NULL DEFAULT '',
			expires_at DATETIME,
			created_at DATETIME NOT NULL,
			triggered_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conditional_orders_status ON conditional_orders(status);`,
		`CREATE INDEX IF NOT EXISTS idx_conditional_orders_group ON conditional_orders(oco_group_id);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			pnl REAL NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// OrderRepository Implementation

const orderColumns = `id, symbol, instrument, side, type, status, tag, requested_quantity, requested_price, stop_price, filled_quantity, filled_price, broker_order_id, replaced_by_order_id, status_reason, account_id, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.Symbol, &o.Instrument, &o.Side, &o.Type, &o.Status, &o.Tag,
		&o.RequestedQuantity, &o.RequestedPrice, &o.StopPrice, &o.FilledQuantity, &o.FilledPrice,
		&o.BrokerOrderID, &o.ReplacedByOrderID, &o.StatusReason, &o.AccountID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	query := `INSERT INTO orders (` + orderColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.Symbol, o.Instrument, o.Side, o.Type, o.Status, o.Tag,
		o.RequestedQuantity, o.RequestedPrice, o.StopPrice, o.FilledQuantity, o.FilledPrice,
		o.BrokerOrderID, o.ReplacedByOrderID, o.StatusReason, o.AccountID, o.CreatedAt, o.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	return scanOrder(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *domain.Order) error {
	query := `UPDATE orders SET symbol = ?, instrument = ?, side = ?, type = ?, status = ?, tag = ?,
			  requested_quantity = ?, requested_price = ?, stop_price = ?, filled_quantity = ?, filled_price = ?,
			  broker_order_id = ?, replaced_by_order_id = ?, status_reason = ?, account_id = ?, updated_at = ?
			  WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query,
		o.Symbol, o.Instrument, o.Side, o.Type, o.Status, o.Tag,
		o.RequestedQuantity, o.RequestedPrice, o.StopPrice, o.FilledQuantity, o.FilledPrice,
		o.BrokerOrderID, o.ReplacedByOrderID, o.StatusReason, o.AccountID, time.Now(), o.ID)
	return err
}

func (s *SQLiteStore) ListOrdersByStatuses(ctx context.Context, statuses []domain.OrderStatus) ([]*domain.Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, 0, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, st)
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE status IN (` + placeholders + `) ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) FindReplacementSource(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE replaced_by_order_id = ?`
	o, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// PositionRepository Implementation

const positionColumns = `symbol, instrument, shares, entry_price, current_price, stop_loss, trailing_stop, take_profit, ai_exit_conditions, entry_time`

func scanPosition(row interface{ Scan(...any) error }) (*domain.Position, error) {
	var p domain.Position
	var payload string
	err := row.Scan(&p.Symbol, &p.Instrument, &p.Shares, &p.EntryPrice, &p.CurrentPrice,
		&p.StopLoss, &p.TrailingStop, &p.TakeProfit, &payload, &p.EntryTime)
	if err != nil {
		return nil, err
	}
	if payload != "" {
		p.AIExitConditions = []byte(payload)
	}
	return &p, nil
}

func (s *SQLiteStore) SavePosition(ctx context.Context, p *domain.Position) error {
	query := `INSERT INTO positions (` + positionColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(symbol) DO UPDATE SET
			  instrument=excluded.instrument,
			  shares=excluded.shares,
			  entry_price=excluded.entry_price,
			  current_price=excluded.current_price,
			  stop_loss=excluded.stop_loss,
			  trailing_stop=excluded.trailing_stop,
			  take_profit=excluded.take_profit,
			  ai_exit_conditions=excluded.ai_exit_conditions,
			  entry_time=excluded.entry_time`
	_, err := s.db.ExecContext(ctx, query,
		p.Symbol, p.Instrument, p.Shares, p.EntryPrice, p.CurrentPrice,
		p.StopLoss, p.TrailingStop, p.TakeProfit, string(p.AIExitConditions), p.EntryTime)
	return err
}

func (s *SQLiteStore) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE symbol = ?`
	p, err := scanPosition(s.db.QueryRowContext(ctx, query, symbol))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) ListPositions(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) UpdateTrailingStop(ctx context.Context, symbol string, stop float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE positions SET trailing_stop = ? WHERE symbol = ?`, stop, symbol)
	return err
}

func (s *SQLiteStore) DeletePosition(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol)
	return err
}

// ConditionalOrderRepository Implementation

const conditionalColumns = `id, symbol, trigger_type, trigger_condition, action, status, oco_group_id, linked_order_id, expires_at, created_at, triggered_at`

func scanConditional(row interface{ Scan(...any) error }) (*domain.ConditionalOrder, error) {
	var c domain.ConditionalOrder
	var condition, action string
	var expiresAt, triggeredAt sql.NullTime
	err := row.Scan(&c.ID, &c.Symbol, &c.TriggerType, &condition, &action, &c.Status,
		&c.OCOGroupID, &c.LinkedOrderID, &expiresAt, &c.CreatedAt, &triggeredAt)
	if err != nil {
		return nil, err
	}
	c.TriggerCondition = []byte(condition)
	c.Action = []byte(action)
	if expiresAt.Valid {
		c.ExpiresAt = expiresAt.Time
	}
	if triggeredAt.Valid {
		c.TriggeredAt = triggeredAt.Time
	}
	return &c, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func (s *SQLiteStore) SaveConditionalOrder(ctx context.Context, c *domain.ConditionalOrder) error {
	query := `INSERT INTO conditional_orders (` + conditionalColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Symbol, c.TriggerType, string(c.TriggerCondition), string(c.Action), c.Status,
		c.OCOGroupID, c.LinkedOrderID, nullableTime(c.ExpiresAt), c.CreatedAt, nullableTime(c.TriggeredAt))
	return err
}

func (s *SQLiteStore) GetConditionalOrder(ctx context.Context, id string) (*domain.ConditionalOrder, error) {
	query := `SELECT ` + conditionalColumns + ` FROM conditional_orders WHERE id = ?`
	return scanConditional(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) ListConditionalOrdersByStatus(ctx context.Context, status domain.ConditionalStatus) ([]*domain.ConditionalOrder, error) {
	query := `SELECT ` + conditionalColumns + ` FROM conditional_orders WHERE status = ? ORDER BY created_at`
	return s.queryConditionals(ctx, query, status)
}

func (s *SQLiteStore) ListConditionalOrdersBySymbol(ctx context.Context, symbol string, status domain.ConditionalStatus) ([]*domain.ConditionalOrder, error) {
	query := `SELECT ` + conditionalColumns + ` FROM conditional_orders WHERE symbol = ? AND status = ? ORDER BY created_at`
	return s.queryConditionals(ctx, query, symbol, status)
}

func (s *SQLiteStore) queryConditionals(ctx context.Context, query string, args ...any) ([]*domain.ConditionalOrder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.ConditionalOrder
	for rows.Next() {
		c, err := scanConditional(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, c)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) UpdateConditionalOrderStatus(ctx context.Context, id string, status domain.ConditionalStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conditional_orders SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *SQLiteStore) CountActiveConditionalOrders(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conditional_orders WHERE status = ?`, domain.ConditionalStatusPending)
	var count int
	err := row.Scan(&count)
	return count, err
}

// MarkTriggeredAndCancelSiblings runs the trigger transition and the
// cancellation of every other pending OCO member in one transaction.
func (s *SQLiteStore) MarkTriggeredAndCancelSiblings(ctx context.Context, c *domain.ConditionalOrder) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE conditional_orders SET status = ?, triggered_at = ? WHERE id = ? AND status = ?`,
		domain.ConditionalStatusTriggered, c.TriggeredAt, c.ID, domain.ConditionalStatusPending)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotPending
	}

	if c.OCOGroupID != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE conditional_orders SET status = ? WHERE oco_group_id = ? AND id != ? AND status = ?`,
			domain.ConditionalStatusCancelled, c.OCOGroupID, c.ID, domain.ConditionalStatusPending)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, t *domain.Trade) error {
	query := `INSERT INTO trades (symbol, side, quantity, entry_price, exit_price, pnl, reason, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		t.Symbol, t.Side, t.Quantity, t.EntryPrice, t.ExitPrice, t.PnL, t.Reason, t.CreatedAt)
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	query := `SELECT id, symbol, side, quantity, entry_price, exit_price, pnl, reason, created_at
			  FROM trades ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Quantity, &t.EntryPrice, &t.ExitPrice, &t.PnL, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}
