package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"business-objects/internal/metadata"
)

const orderJSON = `{
  "name": "Order",
  "kind": "editableRoot",
  "properties": [
    {"name": "id", "type": "integer", "key": true},
    {"name": "customer"},
    {"name": "total", "type": "decimal", "default": 0},
    {"name": "discount", "type": "decimal", "default": 0},
    {"name": "status", "type": "enum", "enum": ["open", "closed"], "default": "open"},
    {"name": "margin", "type": "decimal"},
    {"name": "quantity", "type": "integer"},
    {"name": "note", "hidden": true}
  ],
  "rules": [
    {"rule": "Required", "property": "customer", "message": "customer is required", "stopsProcessing": true},
    {"rule": "MaxLength", "property": "customer", "value": 10, "message": "customer is too long"},
    {"rule": "MinValue", "property": "total", "value": 0, "message": "total must not be negative"},
    {"rule": "MaxValue", "property": "quantity", "value": 150, "message": "quantity too large"},
    {"rule": "Expr", "property": "discount", "expression": "value != nil && total != nil && value > total",
     "inputs": ["total"], "message": "discount exceeds total"},
    {"rule": "Dependency", "property": "total", "affected": ["discount"], "message": "discount depends on total"}
  ],
  "permissions": [
    {"rule": "IsInRole", "action": "readProperty", "property": "margin", "roles": ["finance"],
     "message": "margin is restricted", "noAccessBehavior": "showWarning"},
    {"rule": "IsInRole", "action": "writeProperty", "property": "total", "roles": ["sales"],
     "message": "only sales may set totals", "noAccessBehavior": "showError"},
    {"rule": "IsInAnyRole", "action": "removeObject", "roles": ["manager"], "message": "only managers may delete orders"},
    {"rule": "IsNotInRole", "action": "createObject", "roles": ["auditor"],
     "message": "auditors cannot create orders", "noAccessBehavior": "showInformation"},
    {"rule": "IsInRole", "action": "executeMethod", "method": "close", "roles": ["sales"], "message": "only sales may close orders"}
  ],
  "methods": ["close", "archive"]
}`

const refundJSON = `{
  "name": "ApproveRefund",
  "kind": "command",
  "properties": [
    {"name": "orderId", "type": "integer"},
    {"name": "amount", "type": "decimal"},
    {"name": "approved", "type": "boolean", "default": false}
  ],
  "rules": [
    {"rule": "Required", "property": "orderId", "message": "orderId is required"},
    {"rule": "MinValue", "property": "amount", "value": 0.01, "message": "amount must be positive"}
  ],
  "permissions": [
    {"rule": "IsInRole", "action": "executeCommand", "roles": ["manager"], "message": "only managers approve refunds"}
  ]
}`

const regionJSON = `{
  "name": "Region",
  "kind": "readOnlyRoot",
  "properties": [
    {"name": "code", "key": true},
    {"name": "label"}
  ]
}`

const catalogJSON = `{
  "name": "Catalog",
  "kind": "readOnlyRootCollection",
  "properties": [
    {"name": "sku", "key": true},
    {"name": "title"},
    {"name": "price", "type": "decimal"},
    {"name": "cost", "type": "decimal"},
    {"name": "supplier", "hidden": true}
  ],
  "permissions": [
    {"rule": "IsInAnyRole", "action": "fetchObject", "roles": ["sales", "finance"], "message": "the catalog is for sales"},
    {"rule": "IsInRole", "action": "readProperty", "property": "cost", "roles": ["finance"],
     "message": "cost is restricted", "noAccessBehavior": "showWarning"}
  ]
}`

var (
	sales    = &metadata.UserContext{ID: "s1", Roles: []string{"sales"}}
	finance  = &metadata.UserContext{ID: "f1", Roles: []string{"finance", "sales"}}
	clerk    = &metadata.UserContext{ID: "c1", Roles: []string{"clerk"}}
	manager  = &metadata.UserContext{ID: "m1", Roles: []string{"manager"}}
	auditor  = &metadata.UserContext{ID: "a1", Roles: []string{"auditor"}}
	everyone = &metadata.UserContext{ID: "x1", Roles: []string{"sales", "manager", "finance"}}
)

func compose(t *testing.T, src string) *metadata.Model {
	t.Helper()
	def, err := metadata.ParseDefinition([]byte(src), true)
	require.NoError(t, err)
	m, err := metadata.Compose(def)
	require.NoError(t, err)
	return m
}

func newTestPortal(t *testing.T) (*Portal, *MemoryStore) {
	t.Helper()
	reg := metadata.NewRegistry()
	reg.Load([]*metadata.Model{compose(t, orderJSON), compose(t, refundJSON), compose(t, regionJSON), compose(t, catalogJSON)})
	data := NewMemoryStore()
	return NewPortal(reg, data), data
}

// seedCatalog stores three catalog items, S1 to S3, priced 10, 20 and 30.
func seedCatalog(t *testing.T, p *Portal, data *MemoryStore) {
	t.Helper()
	m, err := p.Model("Catalog")
	require.NoError(t, err)
	for i, title := range []string{"anvil", "bolt", "crate"} {
		_, err := data.Insert(context.Background(), m, map[string]any{
			"sku":      fmt.Sprintf("S%d", i+1),
			"title":    title,
			"price":    float64(10 * (i + 1)),
			"cost":     float64(i + 1),
			"supplier": "acme",
		})
		require.NoError(t, err)
	}
}
