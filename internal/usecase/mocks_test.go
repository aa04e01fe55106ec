package usecase_test

import (
	"context"
	"fmt"

	"github.com/vitos/crypto_trade_manager/internal/domain"
)

// In-memory fakes shared by the engine tests.

type MockOrderRepo struct {
	Orders map[string]*domain.Order
	order  []string
}

func NewMockOrderRepo() *MockOrderRepo {
	return &MockOrderRepo{Orders: make(map[string]*domain.Order)}
}

func (m *MockOrderRepo) SaveOrder(_ context.Context, o *domain.Order) error {
	if _, exists := m.Orders[o.ID]; !exists {
		m.order = append(m.order, o.ID)
	}
	cp := *o
	m.Orders[o.ID] = &cp
	return nil
}

func (m *MockOrderRepo) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	o, ok := m.Orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
	}
	cp := *o
	return &cp, nil
}

func (m *MockOrderRepo) UpdateOrder(_ context.Context, o *domain.Order) error {
	if _, ok := m.Orders[o.ID]; !ok {
		return fmt.Errorf("order %s not found", o.ID)
	}
	cp := *o
	m.Orders[o.ID] = &cp
	return nil
}

func (m *MockOrderRepo) ListOrdersByStatuses(_ context.Context, statuses []domain.OrderStatus) ([]*domain.Order, error) {
	want := make(map[domain.OrderStatus]bool)
	for _, st := range statuses {
		want[st] = true
	}
	var result []*domain.Order
	for _, id := range m.order {
		o := m.Orders[id]
		if want[o.Status] {
			cp := *o
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MockOrderRepo) FindReplacementSource(_ context.Context, id string) (*domain.Order, error) {
	for _, o := range m.Orders {
		if o.ReplacedByOrderID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

type MockPositionRepo struct {
	Positions map[string]*domain.Position
}

func NewMockPositionRepo() *MockPositionRepo {
	return &MockPositionRepo{Positions: make(map[string]*domain.Position)}
}

func (m *MockPositionRepo) SavePosition(_ context.Context, p *domain.Position) error {
	cp := *p
	m.Positions[p.Symbol] = &cp
	return nil
}

func (m *MockPositionRepo) GetPosition(_ context.Context, symbol string) (*domain.Position, error) {
	p, ok := m.Positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MockPositionRepo) ListPositions(_ context.Context) ([]*domain.Position, error) {
	var result []*domain.Position
	for _, p := range m.Positions {
		cp := *p
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MockPositionRepo) UpdateTrailingStop(_ context.Context, symbol string, stop float64) error {
	p, ok := m.Positions[symbol]
	if !ok {
		return fmt.Errorf("position %s not found", symbol)
	}
	p.TrailingStop = stop
	return nil
}

func (m *MockPositionRepo) DeletePosition(_ context.Context, symbol string) error {
	delete(m.Positions, symbol)
	return nil
}

type MockConditionalRepo struct {
	Orders map[string]*domain.ConditionalOrder
	order  []string
}

func NewMockConditionalRepo() *MockConditionalRepo {
	return &MockConditionalRepo{Orders: make(map[string]*domain.ConditionalOrder)}
}

func (m *MockConditionalRepo) SaveConditionalOrder(_ context.Context, c *domain.ConditionalOrder) error {
	if _, exists := m.Orders[c.ID]; !exists {
		m.order = append(m.order, c.ID)
	}
	cp := *c
	m.Orders[c.ID] = &cp
	return nil
}

func (m *MockConditionalRepo) GetConditionalOrder(_ context.Context, id string) (*domain.ConditionalOrder, error) {
	c, ok := m.Orders[id]
	if !ok {
		return nil, fmt.Errorf("conditional order %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (m *MockConditionalRepo) ListConditionalOrdersByStatus(_ context.Context, status domain.ConditionalStatus) ([]*domain.ConditionalOrder, error) {
	var result []*domain.ConditionalOrder
	for _, id := range m.order {
		c := m.Orders[id]
		if c.Status == status {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MockConditionalRepo) ListConditionalOrdersBySymbol(_ context.Context, symbol string, status domain.ConditionalStatus) ([]*domain.ConditionalOrder, error) {
	var result []*domain.ConditionalOrder
	for _, id := range m.order {
		c := m.Orders[id]
		if c.Symbol == symbol && c.Status == status {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MockConditionalRepo) UpdateConditionalOrderStatus(_ context.Context, id string, status domain.ConditionalStatus) error {
	c, ok := m.Orders[id]
	if !ok {
		return fmt.Errorf("conditional order %s not found", id)
	}
	c.Status = status
	return nil
}

func (m *MockConditionalRepo) CountActiveConditionalOrders(_ context.Context) (int, error) {
	count := 0
	for _, c := range m.Orders {
		if c.Status == domain.ConditionalStatusPending {
			count++
		}
	}
	return count, nil
}

func (m *MockConditionalRepo) MarkTriggeredAndCancelSiblings(_ context.Context, c *domain.ConditionalOrder) error {
	stored, ok := m.Orders[c.ID]
	if !ok {
		return fmt.Errorf("conditional order %s not found", c.ID)
	}
	if stored.Status != domain.ConditionalStatusPending {
		return domain.ErrNotPending
	}
	stored.Status = domain.ConditionalStatusTriggered
	stored.TriggeredAt = c.TriggeredAt
	if c.OCOGroupID != "" {
		for _, sibling := range m.Orders {
			if sibling.OCOGroupID == c.OCOGroupID && sibling.ID != c.ID && sibling.Status == domain.ConditionalStatusPending {
				sibling.Status = domain.ConditionalStatusCancelled
			}
		}
	}
	return nil
}

type MockTradeRepo struct {
	Trades []*domain.Trade
}

func (m *MockTradeRepo) SaveTrade(_ context.Context, t *domain.Trade) error {
	cp := *t
	m.Trades = append(m.Trades, &cp)
	return nil
}

func (m *MockTradeRepo) ListTrades(_ context.Context, limit int) ([]*domain.Trade, error) {
	if limit > len(m.Trades) {
		limit = len(m.Trades)
	}
	return m.Trades[:limit], nil
}

// MockBroker scripts remote behavior per call: CancelErrs is consumed
// one per CancelOrder call (nil = success), OrderStates one per GetOrder
// call with the last state repeating.
type MockBroker struct {
	CancelErrs  []error
	OrderStates []*domain.BrokerOrderState
	PlaceErr    error
	PlacedID    string
	Portfolio   []domain.BrokerPosition

	CancelCalls int
	GetCalls    int
	PlaceCalls  int
	LastPlaced  struct {
		Instrument string
		Side       domain.Side
		Quantity   float64
		Price      float64
	}
}

func (m *MockBroker) PlaceMarketOrder(_ context.Context, instrument string, side domain.Side, quantity float64) (*domain.BrokerOrder, error) {
	return m.place(instrument, side, quantity, 0)
}

func (m *MockBroker) PlaceLimitOrder(_ context.Context, instrument string, side domain.Side, quantity, price float64) (*domain.BrokerOrder, error) {
	return m.place(instrument, side, quantity, price)
}

func (m *MockBroker) PlaceStopOrder(_ context.Context, instrument string, side domain.Side, quantity, stopPrice float64) (*domain.BrokerOrder, error) {
	return m.place(instrument, side, quantity, stopPrice)
}

func (m *MockBroker) place(instrument string, side domain.Side, quantity, price float64) (*domain.BrokerOrder, error) {
	m.PlaceCalls++
	m.LastPlaced.Instrument = instrument
	m.LastPlaced.Side = side
	m.LastPlaced.Quantity = quantity
	m.LastPlaced.Price = price
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}
	id := m.PlacedID
	if id == "" {
		id = "remote-new"
	}
	return &domain.BrokerOrder{ID: id}, nil
}

func (m *MockBroker) GetOrder(_ context.Context, _ string) (*domain.BrokerOrderState, error) {
	m.GetCalls++
	if len(m.OrderStates) == 0 {
		return nil, fmt.Errorf("no scripted order state")
	}
	state := m.OrderStates[0]
	if len(m.OrderStates) > 1 {
		m.OrderStates = m.OrderStates[1:]
	}
	cp := *state
	return &cp, nil
}

func (m *MockBroker) CancelOrder(_ context.Context, _ string) error {
	m.CancelCalls++
	if len(m.CancelErrs) == 0 {
		return nil
	}
	err := m.CancelErrs[0]
	m.CancelErrs = m.CancelErrs[1:]
	return err
}

func (m *MockBroker) GetPortfolio(_ context.Context) ([]domain.BrokerPosition, error) {
	return m.Portfolio, nil
}

type MockOracle struct {
	Prices map[string]float64
}

func (m *MockOracle) GetQuote(_ context.Context, symbol string) (*domain.Quote, error) {
	price, ok := m.Prices[symbol]
	if !ok {
		return nil, nil
	}
	return &domain.Quote{Symbol: symbol, Price: price}, nil
}
