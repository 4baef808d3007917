package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/vmihailenco/msgpack/v5"

	"business-objects/internal/metadata"
	"business-objects/internal/store"
)

// newTestApp wires the portal routes behind a middleware that takes the
// caller's roles from the X-Roles header.
func newTestApp(t *testing.T) (*fiber.App, *Portal) {
	t.Helper()
	p, _ := newTestPortal(t)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	asUser := func(c *fiber.Ctx) error {
		if roles := c.Get("X-Roles"); roles != "" {
			c.Locals("user", &metadata.UserContext{ID: "tester", Roles: strings.Split(roles, ",")})
		}
		return c.Next()
	}
	RegisterModelRoutes(app, NewHandler(p), asUser)
	return app, p
}

func send(t *testing.T, app *fiber.App, method, path, roles, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if roles != "" {
		req.Header.Set("X-Roles", roles)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", raw, err)
	}
	return resp.StatusCode, out
}

func TestHandlerNewReturnsDefaultsAndBrokenRules(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := send(t, app, http.MethodGet, "/api/Order/_new", "sales", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	data := body["data"].(map[string]any)
	if data["status"] != "open" {
		t.Fatalf("expected default status open, got %v", data["status"])
	}
	if _, ok := data["note"]; ok {
		t.Fatal("hidden property leaked into the response")
	}
	broken := body["brokenRules"].(map[string]any)
	if _, ok := broken["Order.customer"]; !ok {
		t.Fatalf("expected Order.customer in brokenRules, got %v", broken)
	}
}

func TestHandlerCreateInvalidReturns422(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := send(t, app, http.MethodPost, "/api/Order", "sales", `{"total": 5}`)
	if status != 422 {
		t.Fatalf("expected 422, got %d: %v", status, body)
	}
	errBody := body["error"].(map[string]any)
	if errBody["message"] != "Validation failed" {
		t.Fatalf("unexpected message %v", errBody["message"])
	}
	data := errBody["data"].(map[string]any)
	entries := data["Order.customer"].([]any)
	first := entries[0].(map[string]any)
	if first["message"] != "customer is required" || first["severity"] != "error" {
		t.Fatalf("unexpected entry %v", first)
	}
	if errBody["count"] != float64(1) {
		t.Fatalf("expected count 1, got %v", errBody["count"])
	}
}

func TestHandlerCrudRoundTrip(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := send(t, app, http.MethodPost, "/api/Order", "sales", `{"customer": "ACME", "total": 40}`)
	if status != 201 {
		t.Fatalf("expected 201, got %d: %v", status, body)
	}
	data := body["data"].(map[string]any)
	if data["id"] != float64(1) {
		t.Fatalf("expected generated id 1, got %v", data["id"])
	}

	status, body = send(t, app, http.MethodPut, "/api/Order/1", "sales", `{"id": 1, "customer": "Globex"}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}

	status, body = send(t, app, http.MethodGet, "/api/Order/1", "sales", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if got := body["data"].(map[string]any)["customer"]; got != "Globex" {
		t.Fatalf("expected Globex, got %v", got)
	}

	status, _ = send(t, app, http.MethodDelete, "/api/Order/1", "sales", "")
	if status != 403 {
		t.Fatalf("expected 403 for a non-manager delete, got %d", status)
	}
	status, _ = send(t, app, http.MethodDelete, "/api/Order/1", "manager", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	status, _ = send(t, app, http.MethodGet, "/api/Order/1", "sales", "")
	if status != 404 {
		t.Fatalf("expected 404 after delete, got %d", status)
	}
}

func TestHandlerReadRestrictedProperty(t *testing.T) {
	app, _ := newTestApp(t)
	send(t, app, http.MethodPost, "/api/Order", "sales", `{"customer": "ACME", "margin": 3}`)

	_, body := send(t, app, http.MethodGet, "/api/Order/1", "clerk", "")
	if _, ok := body["data"].(map[string]any)["margin"]; ok {
		t.Fatal("margin must not be visible without the finance role")
	}
	broken := body["brokenRules"].(map[string]any)
	entries, ok := broken["Order.margin"].([]any)
	if !ok || entries[0].(map[string]any)["severity"] != "warning" {
		t.Fatalf("expected a warning for Order.margin, got %v", broken)
	}

	_, body = send(t, app, http.MethodGet, "/api/Order/1", "finance", "")
	if body["data"].(map[string]any)["margin"] != float64(3) {
		t.Fatalf("expected margin 3 for finance, got %v", body["data"])
	}
}

func TestHandlerDeniedCreateCarriesDetails(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := send(t, app, http.MethodPost, "/api/Order", "auditor", `{"customer": "ACME"}`)
	if status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
	errBody := body["error"].(map[string]any)
	details := errBody["details"].([]any)
	detail := details[0].(map[string]any)
	if detail["field"] != "Order" || detail["severity"] != "information" {
		t.Fatalf("unexpected detail %v", detail)
	}
}

func TestHandlerExecuteAndCall(t *testing.T) {
	app, p := newTestApp(t)
	p.HandleCommand("ApproveRefund", func(_ context.Context, cmd *Instance) error {
		_, err := cmd.SetValue("approved", true)
		return err
	})
	p.HandleMethod("Order", "close", func(_ context.Context, obj *Instance, _ map[string]any) (any, error) {
		_, err := obj.SetValue("status", "closed")
		return "ok", err
	})

	status, body := send(t, app, http.MethodPost, "/api/ApproveRefund/_execute", "manager", `{"orderId": 1, "amount": 10}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["data"].(map[string]any)["approved"] != true {
		t.Fatalf("expected approved, got %v", body["data"])
	}

	status, _ = send(t, app, http.MethodPost, "/api/Order/_execute", "manager", `{}`)
	if status != 400 {
		t.Fatalf("expected 400 for a non-command, got %d", status)
	}

	send(t, app, http.MethodPost, "/api/Order", "sales", `{"customer": "ACME"}`)
	status, body = send(t, app, http.MethodPost, "/api/Order/1/_call/close", "sales", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["result"] != "ok" || body["data"].(map[string]any)["status"] != "closed" {
		t.Fatalf("unexpected call response %v", body)
	}

	status, _ = send(t, app, http.MethodPost, "/api/Order/1/_call/archive", "sales", "")
	if status != 501 {
		t.Fatalf("expected 501 without a handler, got %d", status)
	}
}

func TestHandlerUnknownModelAndBadBody(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := send(t, app, http.MethodGet, "/api/Ghost/1", "sales", "")
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
	if body["error"].(map[string]any)["code"] != "UNKNOWN_MODEL" {
		t.Fatalf("expected UNKNOWN_MODEL, got %v", body)
	}

	status, _ = send(t, app, http.MethodPost, "/api/Order", "sales", `{not json`)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}

	status, _ = send(t, app, http.MethodPost, "/api/Region", "", `{"code": "EU"}`)
	if status != 405 {
		t.Fatalf("expected 405 for a read-only model, got %d", status)
	}
}

func TestHandlerRejectsMistypedValues(t *testing.T) {
	app, p := newTestApp(t)

	status, body := send(t, app, http.MethodPost, "/api/Order", "sales", `{"customer": "ACME", "quantity": "abc"}`)
	if status != 400 {
		t.Fatalf("expected 400, got %d: %v", status, body)
	}
	if code := body["error"].(map[string]any)["code"]; code != "INVALID_ARGUMENT" {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", code)
	}

	status, body = send(t, app, http.MethodPost, "/api/Order", "sales", `{"customer": "ACME", "quantity": 1e20}`)
	if status != 400 {
		t.Fatalf("expected 400 for an out-of-range integer, got %d: %v", status, body)
	}

	list, err := p.FetchList(context.Background(), "Order", sales, store.ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Items) != 0 {
		t.Fatalf("rejected requests must not save anything, got %d objects", len(list.Items))
	}
}

func TestHandlerList(t *testing.T) {
	app, _ := newTestApp(t)
	for _, body := range []string{
		`{"customer": "ACME", "total": 40, "margin": 4}`,
		`{"customer": "Globex", "total": 15, "margin": 1}`,
		`{"customer": "Initech", "total": 90, "margin": 9}`,
	} {
		if status, out := send(t, app, http.MethodPost, "/api/Order", "sales", body); status != 201 {
			t.Fatalf("seed failed with %d: %v", status, out)
		}
	}

	status, body := send(t, app, http.MethodGet, "/api/Order?filter[total.gte]=20&sort=-total", "clerk", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	data := body["data"].([]any)
	if len(data) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(data))
	}
	first := data[0].(map[string]any)
	if first["customer"] != "Initech" {
		t.Fatalf("expected Initech first, got %v", first["customer"])
	}
	if _, ok := first["margin"]; ok {
		t.Fatal("margin must not be visible in a list without the finance role")
	}
	pag := body["pagination"].(map[string]any)
	if pag["total"] != float64(2) || pag["page"] != float64(1) || pag["per_page"] != float64(25) {
		t.Fatalf("unexpected pagination %v", pag)
	}

	_, body = send(t, app, http.MethodGet, "/api/Order?filter[customer.in]=ACME,Globex&per_page=1&page=2", "finance", "")
	data = body["data"].([]any)
	if len(data) != 1 || data[0].(map[string]any)["customer"] != "Globex" {
		t.Fatalf("unexpected page %v", data)
	}
	if data[0].(map[string]any)["margin"] != float64(1) {
		t.Fatalf("finance should see margin, got %v", data[0])
	}

	for path, want := range map[string]int{
		"/api/Order?filter[note]=x":          400,
		"/api/Order?filter[total.between]=1": 400,
		"/api/Order?filter[total]=lots":      400,
		"/api/Order?sort=margin":             400,
		"/api/Ghost":                         404,
	} {
		if status, _ := send(t, app, http.MethodGet, path, "clerk", ""); status != want {
			t.Fatalf("%s: expected %d, got %d", path, want, status)
		}
	}
}

func TestHandlerMessagePack(t *testing.T) {
	app, _ := newTestApp(t)

	payload, err := msgpack.Marshal(map[string]any{"customer": "ACME", "total": 12})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/Order", bytes.NewReader(payload))
	req.Header.Set("Content-Type", mimeMsgpack)
	req.Header.Set("Accept", mimeMsgpack)
	req.Header.Set("X-Roles", "sales")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != mimeMsgpack {
		t.Fatalf("expected %s, got %s", mimeMsgpack, ct)
	}

	var out struct {
		Data        map[string]any `msgpack:"data"`
		BrokenRules map[string]any `msgpack:"brokenRules"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Data["customer"] != "ACME" {
		t.Fatalf("unexpected data %v", out.Data)
	}

	// A 422 is encoded the same way.
	req = httptest.NewRequest(http.MethodPost, "/api/Order", bytes.NewReader(payload[:0]))
	req.Header.Set("Accept", mimeMsgpack)
	req.Header.Set("X-Roles", "sales")
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var errOut struct {
		Error struct {
			Status int    `msgpack:"status"`
			Count  int    `msgpack:"count"`
			Msg    string `msgpack:"message"`
		} `msgpack:"error"`
	}
	raw, _ = io.ReadAll(resp.Body)
	if err := msgpack.Unmarshal(raw, &errOut); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errOut.Error.Status != 422 || errOut.Error.Count != 1 {
		t.Fatalf("unexpected error body %+v", errOut.Error)
	}
}
