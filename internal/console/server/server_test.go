package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xela07ax/agv-logistics-coordinator/internal/approval"
	"github.com/xela07ax/agv-logistics-coordinator/internal/console/handler"
	"github.com/xela07ax/agv-logistics-coordinator/internal/console/service"
	"github.com/xela07ax/agv-logistics-coordinator/internal/console/stream"
	"github.com/xela07ax/agv-logistics-coordinator/internal/engine"
	"github.com/xela07ax/agv-logistics-coordinator/internal/fleet"
	"github.com/xela07ax/agv-logistics-coordinator/internal/infra"
	"github.com/xela07ax/agv-logistics-coordinator/internal/inventory"
	"github.com/xela07ax/agv-logistics-coordinator/internal/tools"
	"go.uber.org/zap"
)

type envelope struct {
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data"`
	Error         string          `json:"error"`
	Kind          string          `json:"kind"`
	FulfillmentID string          `json:"fulfillment_id"`
}

func newTestServer(t *testing.T, rate string) (*httptest.Server, *inventory.Ledger) {
	t.Helper()
	log := zap.NewNop()
	cat := infra.DefaultCatalog()

	inv, err := inventory.NewLedger(cat.Parts, log)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	fl, err := fleet.NewRegistry(cat.Vehicles, cat.Routes, log)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	authority := approval.NewAuthority(approval.NewPolicyStore(cat.Thresholds, cat.Risk, log), log)

	ctx, cancel := context.WithCancel(context.Background())
	hub := stream.NewHub(log)
	go hub.Run(ctx)

	tracker := service.NewTracker(0)
	orch := engine.NewOrchestrator(inv, fl, authority, log, engine.WithObserver(engine.Observers{tracker, hub}))
	svc := service.NewFulfillmentService(orch, authority, infra.NewCatalogSource("", log), tracker, time.Minute, log)

	reg := tools.NewRegistry(log)
	for _, set := range [][]tools.ToolDescriptor{tools.InventoryTools(inv), tools.FleetTools(fl), tools.ApprovalTools(authority)} {
		if err := reg.Register(set...); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	var limit func(http.Handler) http.Handler
	if rate != "" {
		if limit, err = NewRateLimit(rate); err != nil {
			t.Fatalf("NewRateLimit: %v", err)
		}
	}
	srv := httptest.NewServer(NewConsoleServer(log, limit,
		handler.NewFulfillmentHandler(svc),
		handler.NewApprovalHandler(svc),
		handler.NewToolHandler(reg),
		hub.ServeWS,
	))
	t.Cleanup(func() {
		srv.Close()
		svc.Wait()
		cancel()
	})
	return srv, inv
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handler.AgentIDHeader, "planner-1")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if resp.StatusCode != http.StatusTooManyRequests {
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, env.Data)
	}
	return v
}

func waitForState(t *testing.T, srv *httptest.Server, id string, want engine.State) service.FulfillmentStatus {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_, env := call(t, srv, http.MethodGet, "/v1/fulfillments/"+id, "")
		if env.Success {
			st := decodeData[service.FulfillmentStatus](t, env)
			if st.State == want && !st.Running {
				return st
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("fulfillment %s did not reach %s: %+v", id, want, env)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get(engine.TraceHeader) == "" {
		t.Errorf("status %d, trace %q", resp.StatusCode, resp.Header.Get(engine.TraceHeader))
	}
}

func TestSubmitValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"part_number":`, "invalid request body"},
		{"missing destination", `{"part_number":"PART-ABC123","quantity_requested":5}`, "destination"},
		{"missing everything", `{}`, "part_number, quantity_requested, destination"},
		{"fractional quantity", `{"part_number":"PART-ABC123","quantity_requested":2.5,"destination":"Production Line A"}`, "integer"},
	}
	for _, tt := range tests {
		code, env := call(t, srv, http.MethodPost, "/v1/fulfillments", tt.body)
		if code != http.StatusBadRequest || env.Success || !strings.Contains(env.Error, tt.want) {
			t.Errorf("%s: %d %+v", tt.name, code, env)
		}
	}
}

func TestSubmitWaitCompletes(t *testing.T) {
	srv, inv := newTestServer(t, "")

	code, env := call(t, srv, http.MethodPost, "/v1/fulfillments?wait=true",
		`{"part_number":"PART-ABC123","quantity_requested":10,"destination":"Production Line A"}`)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("%d %+v", code, env)
	}
	out := decodeData[engine.Outcome](t, env)
	if out.State != engine.StateCompleted || out.Request.Requester != "planner-1" || out.TotalCost != 127.5 {
		t.Errorf("outcome state=%s requester=%s total=%v", out.State, out.Request.Requester, out.TotalCost)
	}
	if p, _ := inv.GetPartInfo("PART-ABC123"); p.TotalStock != 75 || p.ReservedQuantity != 15 {
		t.Errorf("stock after delivery %d/%d", p.TotalStock, p.ReservedQuantity)
	}

	// Доменный отказ - 200 с описанием ошибки и итогом заявки
	code, env = call(t, srv, http.MethodPost, "/v1/fulfillments?wait=true",
		`{"part_number":"PART-ABC123","quantity_requested":10,"destination":"Nowhere"}`)
	if code != http.StatusOK || env.Success || env.Kind != "RouteNotFound" {
		t.Errorf("route mismatch: %d %+v", code, env)
	}
}

func TestAsyncGateDecideResume(t *testing.T) {
	srv, inv := newTestServer(t, "")

	code, env := call(t, srv, http.MethodPost, "/v1/fulfillments",
		`{"part_number":"HYDRAULIC-PUMP-HP450","quantity_requested":"5","destination":"Production Line B"}`)
	if code != http.StatusAccepted || !env.Success || env.FulfillmentID == "" {
		t.Fatalf("submit: %d %+v", code, env)
	}
	id := env.FulfillmentID
	st := waitForState(t, srv, id, engine.StateApprovalGated)
	if st.Outcome == nil || st.Outcome.Approval == nil {
		t.Fatalf("gated without approval: %+v", st)
	}
	approvalID := st.Outcome.Approval.ID

	_, env = call(t, srv, http.MethodGet, "/v1/approvals?authority=manager", "")
	if pending := decodeData[[]map[string]any](t, env); len(pending) != 1 || pending[0]["request_id"] != approvalID {
		t.Fatalf("pending %+v", pending)
	}

	// Неверный апрувер - доменный отказ, заявка продолжает ждать
	code, env = call(t, srv, http.MethodPost, "/v1/approvals/"+approvalID+"/decide", `{"decision":"approve","approver":"intern"}`)
	if code != http.StatusOK || env.Success || env.Kind != "AuthorityMismatch" {
		t.Fatalf("intern decision: %d %+v", code, env)
	}

	code, env = call(t, srv, http.MethodPost, "/v1/approvals/"+approvalID+"/decide", `{"decision":"approve","approver":"bob_manager"}`)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("decide: %d %+v", code, env)
	}
	st = waitForState(t, srv, id, engine.StateCompleted)
	if st.Error != "" || st.Outcome.Dispatch == nil {
		t.Errorf("resumed outcome %+v", st.Outcome)
	}
	if p, _ := inv.GetPartInfo("HYDRAULIC-PUMP-HP450"); p.TotalStock != 19 || p.ReservedQuantity != 2 {
		t.Errorf("stock after resume %d/%d", p.TotalStock, p.ReservedQuantity)
	}

	_, env = call(t, srv, http.MethodGet, "/v1/approvals/stats", "")
	if stats := decodeData[map[string]any](t, env); stats["approved"] != float64(1) {
		t.Errorf("stats %+v", stats)
	}
}

func TestApprovalLookupFailures(t *testing.T) {
	srv, _ := newTestServer(t, "")

	code, env := call(t, srv, http.MethodGet, "/v1/approvals/APR-404", "")
	if code != http.StatusOK || env.Success || env.Kind != "NotFound" {
		t.Errorf("unknown approval: %d %+v", code, env)
	}
	code, env = call(t, srv, http.MethodPost, "/v1/approvals/APR-404/decide", `not json`)
	if code != http.StatusBadRequest {
		t.Errorf("malformed decide: %d %+v", code, env)
	}
	code, env = call(t, srv, http.MethodGet, "/v1/fulfillments/FUL-404", "")
	if code != http.StatusOK || env.Kind != "NotFound" {
		t.Errorf("unknown fulfillment: %d %+v", code, env)
	}
	code, env = call(t, srv, http.MethodPost, "/v1/approvals/policy/reload", "")
	if code != http.StatusOK || !env.Success {
		t.Errorf("reload: %d %+v", code, env)
	}
}

func TestToolEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, "")

	_, env := call(t, srv, http.MethodGet, "/v1/tools", "")
	if list := decodeData[[]tools.ToolDescriptor](t, env); len(list) == 0 || list[0].Name != "check_inventory" {
		t.Fatalf("tools %+v", list)
	}

	code, env := call(t, srv, http.MethodPost, "/v1/tools/check_inventory", `{"part_number":"PART-ABC123","quantity":"5"}`)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("check_inventory: %d %+v", code, env)
	}
	if av := decodeData[map[string]any](t, env); av["can_fulfill"] != true {
		t.Errorf("availability %+v", av)
	}

	code, env = call(t, srv, http.MethodPost, "/v1/tools/get_fleet_status", "")
	if code != http.StatusOK || !env.Success {
		t.Errorf("empty body: %d %+v", code, env)
	}
	code, env = call(t, srv, http.MethodPost, "/v1/tools/teleport", `{}`)
	if code != http.StatusOK || env.Success || env.Kind != "NotFound" {
		t.Errorf("unknown tool: %d %+v", code, env)
	}
	code, _ = call(t, srv, http.MethodPost, "/v1/tools/check_inventory", `[1,2]`)
	if code != http.StatusBadRequest {
		t.Errorf("array body: %d", code)
	}
}

func TestRateLimitOnAPI(t *testing.T) {
	srv, _ := newTestServer(t, "2-M")

	for i := 0; i < 2; i++ {
		if code, _ := call(t, srv, http.MethodGet, "/v1/tools", ""); code != http.StatusOK {
			t.Fatalf("request %d: %d", i, code)
		}
	}
	if code, _ := call(t, srv, http.MethodGet, "/v1/tools", ""); code != http.StatusTooManyRequests {
		t.Errorf("third request: %d", code)
	}
	// /health вне лимита
	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health under limit: %d", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	srv, _ := newTestServer(t, "")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/fulfillments/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frames := make(chan []byte, 256)
	go func() {
		defer close(frames)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- msg
		}
	}()

	// Каждый кадр - ровно одно событие в JSON
	next := func(msg []byte) engine.Event {
		t.Helper()
		var ev engine.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("frame %q is not a single event: %v", msg, err)
		}
		if ev.FulfillmentID == "" || ev.State == "" {
			t.Fatalf("event %+v", ev)
		}
		return ev
	}

	// Регистрация подписчика асинхронна: шлем заявки, пока событие не дойдет
	deadline := time.After(3 * time.Second)
	var first engine.Event
wait:
	for {
		call(t, srv, http.MethodPost, "/v1/fulfillments?wait=true",
			`{"part_number":"PART-XYZ789","quantity_requested":1,"destination":"Production Line B"}`)
		select {
		case msg := <-frames:
			first = next(msg)
			break wait
		case <-deadline:
			t.Fatal("no event received")
		case <-time.After(50 * time.Millisecond):
		}
	}

	// Синхронная заявка шлет события пачкой, они не должны склеиваться в один кадр
	for first.State != engine.StateCompleted {
		select {
		case msg, ok := <-frames:
			if !ok {
				t.Fatal("stream closed before COMPLETED")
			}
			first = next(msg)
		case <-deadline:
			t.Fatal("no COMPLETED event received")
		}
	}
}
