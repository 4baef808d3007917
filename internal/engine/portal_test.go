package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"business-objects/internal/instrument"
	"business-objects/internal/rules"
	"business-objects/internal/store"
)

func saveOrder(t *testing.T, p *Portal, values map[string]any) *Instance {
	t.Helper()
	ctx := context.Background()
	obj, err := p.Create(ctx, "Order", sales)
	require.NoError(t, err)
	require.NoError(t, obj.Apply(values))
	require.NoError(t, p.Save(ctx, obj))
	return obj
}

func TestPortalCreateRefusesInvalidSave(t *testing.T) {
	p, _ := newTestPortal(t)
	ctx := context.Background()

	obj, err := p.Create(ctx, "Order", sales)
	require.NoError(t, err)
	assert.False(t, obj.IsValid(), "a fresh order has no customer")

	err = p.Save(ctx, obj)
	var verr *rules.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 422, verr.Status())
	entries := verr.Data().Get("Order.customer")
	require.Len(t, entries, 1)
	assert.Equal(t, "customer is required", entries[0].Message)
	assert.True(t, obj.IsNew())
}

func TestPortalInsertFetchUpdate(t *testing.T) {
	p, data := newTestPortal(t)
	ctx := context.Background()

	obj := saveOrder(t, p, map[string]any{"customer": "ACME", "total": 100.0})
	assert.Equal(t, "1", obj.Key())
	assert.Equal(t, StatePristine, obj.State())
	assert.False(t, obj.IsNew())

	got, err := p.Fetch(ctx, "Order", "1", sales)
	require.NoError(t, err)
	assert.Equal(t, "ACME", got.Value("customer"))
	assert.True(t, got.IsValid())

	_, err = got.SetValue("customer", "Globex")
	require.NoError(t, err)
	require.NoError(t, p.Save(ctx, got))
	assert.Equal(t, StatePristine, got.State())

	row, err := data.Fetch(ctx, got.Model(), "1")
	require.NoError(t, err)
	assert.Equal(t, "Globex", row["customer"])

	// Saving an unchanged object writes nothing.
	require.NoError(t, data.Delete(ctx, got.Model(), "1"))
	require.NoError(t, p.Save(ctx, got))
}

func TestPortalUpdateRefusesInvalidObject(t *testing.T) {
	p, _ := newTestPortal(t)
	ctx := context.Background()
	saveOrder(t, p, map[string]any{"customer": "ACME", "total": 100.0, "discount": 10.0})

	obj, err := p.Fetch(ctx, "Order", "1", sales)
	require.NoError(t, err)
	_, err = obj.SetValue("total", 5.0)
	require.NoError(t, err)

	err = p.Save(ctx, obj)
	var verr *rules.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Data().Get("Order.discount"), 1)
	assert.Equal(t, StateDirty, obj.State())
}

func TestPortalCreateDeniedWithoutThrowing(t *testing.T) {
	p, _ := newTestPortal(t)

	_, err := p.Create(context.Background(), "Order", auditor)
	require.Error(t, err)
	assert.ErrorIs(t, err, rules.ErrAccessDenied)
	assert.False(t, rules.IsAuthorizationError(err))

	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, rules.CreateObject, denied.Action)
	entries := denied.Output.Get("Order")
	require.Len(t, entries, 1)
	assert.Equal(t, "auditors cannot create orders", entries[0].Message)
	assert.Equal(t, rules.SeverityInformation, entries[0].Severity)
}

func TestPortalRemove(t *testing.T) {
	p, _ := newTestPortal(t)
	ctx := context.Background()
	saveOrder(t, p, map[string]any{"customer": "ACME"})

	err := p.Remove(ctx, "Order", "1", clerk)
	assert.True(t, rules.IsAuthorizationError(err), "removeObject throws by default")

	require.NoError(t, p.Remove(ctx, "Order", "1", manager))
	_, err = p.Fetch(ctx, "Order", "1", manager)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = p.Remove(ctx, "Order", "1", manager)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPortalSaveMarkedRemoved(t *testing.T) {
	p, data := newTestPortal(t)
	ctx := context.Background()
	saveOrder(t, p, map[string]any{"customer": "ACME"})

	obj, err := p.Fetch(ctx, "Order", "1", everyone)
	require.NoError(t, err)
	obj.MarkRemoved()
	require.NoError(t, p.Save(ctx, obj))
	assert.True(t, obj.IsNew())

	_, err = data.Fetch(ctx, obj.Model(), "1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPortalReadOnlyModel(t *testing.T) {
	p, _ := newTestPortal(t)
	ctx := context.Background()

	obj, err := p.Create(ctx, "Region", nil)
	require.NoError(t, err)
	_, err = obj.SetValue("code", "EU")
	require.NoError(t, err)
	assert.ErrorIs(t, p.Save(ctx, obj), ErrReadOnlyModel)
	assert.ErrorIs(t, p.Remove(ctx, "Region", "EU", nil), ErrReadOnlyModel)
}

func TestPortalExecuteCommand(t *testing.T) {
	p, _ := newTestPortal(t)
	ctx := context.Background()
	values := map[string]any{"orderId": float64(1), "amount": 25.0}

	_, err := p.Execute(ctx, "ApproveRefund", values, manager)
	assert.ErrorIs(t, err, ErrNoHandler)

	var seen any
	p.HandleCommand("ApproveRefund", func(_ context.Context, cmd *Instance) error {
		seen = cmd.Value("orderId")
		_, err := cmd.SetValue("approved", true)
		return err
	})

	cmd, err := p.Execute(ctx, "ApproveRefund", values, manager)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seen)
	assert.Equal(t, true, cmd.Value("approved"))

	_, err = p.Execute(ctx, "ApproveRefund", map[string]any{"orderId": float64(1), "amount": -3.0}, manager)
	var verr *rules.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Data().Get("ApproveRefund.amount"), 1)

	_, err = p.Execute(ctx, "ApproveRefund", values, clerk)
	assert.True(t, rules.IsAuthorizationError(err))

	_, err = p.Execute(ctx, "Order", values, manager)
	assert.ErrorIs(t, err, ErrNotCommand)

	_, err = p.Fetch(ctx, "ApproveRefund", "1", manager)
	assert.ErrorIs(t, err, rules.ErrInvalidArgument)
}

func TestPortalCallMethod(t *testing.T) {
	p, data := newTestPortal(t)
	ctx := context.Background()
	saveOrder(t, p, map[string]any{"customer": "ACME"})

	p.HandleMethod("Order", "close", func(_ context.Context, obj *Instance, args map[string]any) (any, error) {
		if _, err := obj.SetValue("status", "closed"); err != nil {
			return nil, err
		}
		return args["reason"], nil
	})

	result, obj, err := p.Call(ctx, "Order", "1", "close", map[string]any{"reason": "paid"}, sales)
	require.NoError(t, err)
	assert.Equal(t, "paid", result)
	assert.Equal(t, StatePristine, obj.State(), "method changes are saved")

	row, err := data.Fetch(ctx, obj.Model(), "1")
	require.NoError(t, err)
	assert.Equal(t, "closed", row["status"])

	_, _, err = p.Call(ctx, "Order", "1", "close", nil, clerk)
	assert.True(t, rules.IsAuthorizationError(err))

	_, _, err = p.Call(ctx, "Order", "1", "explode", nil, sales)
	assert.ErrorIs(t, err, rules.ErrInvalidArgument)

	_, _, err = p.Call(ctx, "Order", "1", "archive", nil, sales)
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestPortalUnknownModel(t *testing.T) {
	p, _ := newTestPortal(t)
	_, err := p.Create(context.Background(), "Ghost", sales)

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "UNKNOWN_MODEL", appErr.Code)
}

func TestPortalFetchList(t *testing.T) {
	p, data := newTestPortal(t)
	seedCatalog(t, p, data)
	ctx := context.Background()

	list, err := p.FetchList(ctx, "Catalog", sales, store.ListQuery{
		Filters: []store.WhereClause{{Property: "price", Operator: store.OpGte, Value: decimal.NewFromInt(20)}},
		Sorts:   []store.OrderClause{{Property: "title", Desc: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.Total)
	assert.Equal(t, 1, list.Page)
	assert.Equal(t, store.DefaultPerPage, list.PerPage)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "crate", list.Items[0].Value("title"))
	assert.Equal(t, "bolt", list.Items[1].Value("title"))
	assert.Equal(t, StatePristine, list.Items[0].State())

	// read permissions apply to every item
	for _, obj := range list.Items {
		dto, err := obj.ToDTO()
		require.NoError(t, err)
		assert.NotContains(t, dto, "cost")
		assert.NotContains(t, dto, "supplier")
		assert.Len(t, obj.BrokenRules().GetByName("cost"), 1)
	}

	page, err := p.FetchList(ctx, "Catalog", finance, store.ListQuery{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "S3", page.Items[0].Key())
	dto, err := page.Items[0].ToDTO()
	require.NoError(t, err)
	assert.Equal(t, float64(3), dto["cost"])
}

func TestPortalFetchListRefusals(t *testing.T) {
	p, data := newTestPortal(t)
	seedCatalog(t, p, data)
	ctx := context.Background()

	_, err := p.FetchList(ctx, "Catalog", clerk, store.ListQuery{})
	assert.True(t, rules.IsAuthorizationError(err), "fetch is authorized for the whole list")

	_, err = p.FetchList(ctx, "Catalog", sales, store.ListQuery{Sorts: []store.OrderClause{{Property: "cost"}}})
	assert.ErrorIs(t, err, rules.ErrInvalidArgument, "sorting must not reveal an unreadable property")

	_, err = p.FetchList(ctx, "Catalog", sales, store.ListQuery{
		Filters: []store.WhereClause{{Property: "supplier", Operator: store.OpEq, Value: "acme"}},
	})
	assert.ErrorIs(t, err, rules.ErrInvalidArgument)

	_, err = p.FetchList(ctx, "ApproveRefund", manager, store.ListQuery{})
	assert.ErrorIs(t, err, rules.ErrInvalidArgument)

	m, err := p.Model("Catalog")
	require.NoError(t, err)
	assert.True(t, m.IsReadOnly())
	obj := NewInstance(m, finance)
	obj.load(map[string]any{"sku": "S1", "title": "anvil"})
	assert.ErrorIs(t, p.Save(ctx, obj), ErrReadOnlyModel)
}

type recordingSink struct {
	mu     sync.Mutex
	events []instrument.Event
}

func (s *recordingSink) Enqueue(e instrument.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType + ":" + e.Action
	}
	return out
}

func TestPortalTracesOperations(t *testing.T) {
	p, _ := newTestPortal(t)
	sink := &recordingSink{}
	ctx := instrument.WithInstrumenter(instrument.WithTraceID(context.Background(), "trace-1"), instrument.NewTracer(sink))

	obj, err := p.Create(ctx, "Order", sales)
	require.NoError(t, err)
	require.NoError(t, obj.Apply(map[string]any{"customer": "ACME"}))
	require.NoError(t, p.Save(ctx, obj))

	actions := sink.actions()
	assert.Contains(t, actions, "system:portal.create")
	assert.Contains(t, actions, "system:portal.save")
	assert.Contains(t, actions, "system:rules.authorize")
	assert.Contains(t, actions, "system:rules.validate")
	assert.Contains(t, actions, "business:create")

	for _, e := range sink.events {
		assert.Equal(t, "trace-1", e.TraceID)
	}
}
