package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/nerrad567/thingbridge/internal/audit"
	"github.com/nerrad567/thingbridge/internal/bridge"
	"github.com/nerrad567/thingbridge/internal/envelope"
	"github.com/nerrad567/thingbridge/internal/linkstate"
	"github.com/nerrad567/thingbridge/internal/thing"
	"github.com/nerrad567/thingbridge/internal/tlv"
)

func TestListThings(t *testing.T) {
	env := newTestEnv(t, "thing-b", "thing-a")

	w := env.do(t, http.MethodGet, "/api/v1/things/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Things []bridge.Status `json:"things"`
		Count  int             `json:"count"`
	}
	decodeBody(t, w, &resp)
	if resp.Count != 2 || len(resp.Things) != 2 {
		t.Fatalf("count = %d, things = %d, want 2", resp.Count, len(resp.Things))
	}
	if resp.Things[0].ID != "thing-a" || resp.Things[1].ID != "thing-b" {
		t.Errorf("things not sorted by id: %s, %s", resp.Things[0].ID, resp.Things[1].ID)
	}
}

func TestGetThing(t *testing.T) {
	env := newTestEnv(t, "thing-1")
	env.startThings(t)

	reg := thing.NewSQLiteRepository(env.db.DB)
	if err := reg.Upsert(context.Background(), &thing.Thing{ID: "thing-1", Name: "Porch", Transport: "simulated", Enabled: true}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/things/thing-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		ID       string             `json:"id"`
		Links    linkstate.Snapshot `json:"links"`
		Registry *thing.Thing       `json:"registry"`
	}
	decodeBody(t, w, &resp)
	if resp.ID != "thing-1" {
		t.Errorf("id = %q, want thing-1", resp.ID)
	}
	if resp.Links.Device != linkstate.Connected || resp.Links.MQTT != linkstate.Connected {
		t.Errorf("links = %+v, want both connected", resp.Links)
	}
	if resp.Registry == nil || resp.Registry.Name != "Porch" {
		t.Errorf("registry = %+v, want Porch record", resp.Registry)
	}
}

func TestGetThing_NotFound(t *testing.T) {
	env := newTestEnv(t, "thing-1")

	for _, path := range []string{
		"/api/v1/things/missing",
		"/api/v1/things/missing/history",
	} {
		if w := env.do(t, http.MethodGet, path, ""); w.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, w.Code)
		}
	}
	if w := env.do(t, http.MethodPost, "/api/v1/things/missing/publish", `{"topic":"a"}`); w.Code != http.StatusNotFound {
		t.Errorf("publish status = %d, want 404", w.Code)
	}
}

func TestPublish(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantTopic   string
		wantQoS     envelope.QoS
		wantPayload string
	}{
		{"string payload", `{"topic":"home/porch","qos":0,"payload":"hello"}`, "home/porch", envelope.AtMostOnce, "hello"},
		{"object payload", `{"topic":"home/porch","qos":1,"payload":{"on":true}}`, "home/porch", envelope.AtLeastOnce, `{"on":true}`},
		{"missing payload", `{"topic":"home/porch"}`, "home/porch", envelope.AtMostOnce, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "thing-1")
			env.startThings(t)

			w := env.do(t, http.MethodPost, "/api/v1/things/thing-1/publish", tt.body)
			if w.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
			}

			pubs := env.mqtt["thing-1"].getPublished()
			if len(pubs) != 1 {
				t.Fatalf("published %d messages, want 1", len(pubs))
			}
			if pubs[0].Topic != tt.wantTopic || pubs[0].QoS != tt.wantQoS || string(pubs[0].Payload) != tt.wantPayload {
				t.Errorf("published %+v, want %s qos %d %q", pubs[0], tt.wantTopic, tt.wantQoS, tt.wantPayload)
			}
		})
	}
}

func TestPublish_AtLeastOnceAcksDevice(t *testing.T) {
	env := newTestEnv(t, "thing-1")
	env.startThings(t)

	w := env.do(t, http.MethodPost, "/api/v1/things/thing-1/publish", `{"topic":"a/b","qos":1,"payload":"x"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	sent := env.devices["thing-1"].Sent()
	if len(sent) != 1 {
		t.Fatalf("device received %d frames, want 1", len(sent))
	}
	f, err := tlv.Decode(sent[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Type != tlv.TypePubAck {
		t.Errorf("frame type = %s, want puback", f.Type)
	}
}

func TestPublish_Errors(t *testing.T) {
	tests := []struct {
		name       string
		start      bool
		publishErr error
		body       string
		wantStatus int
	}{
		{"invalid json", true, nil, `{`, http.StatusBadRequest},
		{"empty topic", true, nil, `{"topic":"","payload":"x"}`, http.StatusBadRequest},
		{"bad qos", true, nil, `{"topic":"a","qos":2,"payload":"x"}`, http.StatusBadRequest},
		{"links down", false, nil, `{"topic":"a","payload":"x"}`, http.StatusConflict},
		{"broker failure", true, errors.New("broker gone"), `{"topic":"a","payload":"x"}`, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "thing-1")
			if tt.start {
				env.startThings(t)
			}
			env.mqtt["thing-1"].publishErr = tt.publishErr

			w := env.do(t, http.MethodPost, "/api/v1/things/thing-1/publish", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			var apiErr Error
			decodeBody(t, w, &apiErr)
			if apiErr.Status != tt.wantStatus || apiErr.Code == "" {
				t.Errorf("error body = %+v", apiErr)
			}
		})
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	env := newTestEnv(t, "thing-1")
	env.startThings(t)
	b, err := env.manager.Get("thing-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/things/thing-1/subscribe", `{"topic":"cmd/porch","qos":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("subscribe status = %d, want 200: %s", w.Code, w.Body.String())
	}
	subs := b.Subscriptions()
	if len(subs) != 1 || subs[0].Topic != "cmd/porch" || subs[0].QoS != envelope.AtLeastOnce {
		t.Fatalf("subscriptions = %+v, want cmd/porch qos 1", subs)
	}

	w = env.do(t, http.MethodPost, "/api/v1/things/thing-1/unsubscribe", `{"topic":"cmd/porch"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unsubscribe status = %d, want 200", w.Code)
	}
	if subs := b.Subscriptions(); len(subs) != 0 {
		t.Errorf("subscriptions after unsubscribe = %+v, want none", subs)
	}

	w = env.do(t, http.MethodPost, "/api/v1/things/thing-1/subscribe", `{"topic":""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty topic status = %d, want 400", w.Code)
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	env := newTestEnv(t, "thing-1")
	b, err := env.manager.Get("thing-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/things/thing-1/connect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("connect status = %d, want 200", w.Code)
	}
	waitFor(t, "thing ready", b.Ready)

	w = env.do(t, http.MethodPost, "/api/v1/things/thing-1/disconnect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d, want 200", w.Code)
	}
	waitFor(t, "both links down", func() bool {
		l := b.Links()
		return l.Device == linkstate.Disconnected && l.MQTT == linkstate.Disconnected
	})
}

func TestThingHistory(t *testing.T) {
	env := newTestEnv(t, "thing-1")
	history := thing.NewSQLiteHistoryRepository(env.db.DB)
	for i := 0; i < 3; i++ {
		c := linkstate.Change{ThingID: "thing-1", Link: linkstate.LinkDevice, State: linkstate.State(i % 3), Previous: linkstate.Disconnected}
		if err := history.RecordChange(context.Background(), c); err != nil {
			t.Fatalf("RecordChange: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/things/thing-1/history?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		ThingID string               `json:"thing_id"`
		History []thing.HistoryEntry `json:"history"`
		Count   int                  `json:"count"`
	}
	decodeBody(t, w, &resp)
	if resp.ThingID != "thing-1" || resp.Count != 2 || len(resp.History) != 2 {
		t.Errorf("history = %+v, want 2 entries for thing-1", resp)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/things/thing-1/history?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}

	env.srv.history = nil
	if w := env.do(t, http.MethodGet, "/api/v1/things/thing-1/history", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured history status = %d, want 503", w.Code)
	}
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t, "thing-1")
	env.startThings(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := env.srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer env.srv.Close() //nolint:errcheck // Test cleanup

	base := "http://" + env.srv.Addr() + "/api/v1"
	req, err := http.NewRequest(http.MethodPost, base+"/things/thing-1/publish", strings.NewReader(`{"topic":"a/b","payload":"x"}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("publish status = %d, want 202", resp.StatusCode)
	}

	repo := audit.NewSQLiteRepository(env.db.DB)
	var entries []audit.Entry
	waitFor(t, "audit entry", func() bool {
		res, err := repo.List(context.Background(), audit.Filter{ThingID: "thing-1"})
		if err != nil || len(res.Entries) == 0 {
			return false
		}
		entries = res.Entries
		return true
	})
	if entries[0].Action != audit.ActionPublish || entries[0].RequestID != "req-42" {
		t.Errorf("audit entry = %+v, want publish with request id req-42", entries[0])
	}

	w := env.do(t, http.MethodGet, "/api/v1/audit?action=publish&limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", w.Code)
	}
	var list audit.ListResult
	decodeBody(t, w, &list)
	if list.Total != 1 || list.Limit != 10 {
		t.Errorf("list = %+v, want total 1 limit 10", list)
	}
}

func TestListAuditLogs_Errors(t *testing.T) {
	env := newTestEnv(t)

	for _, q := range []string{"limit=abc", "offset=-1"} {
		if w := env.do(t, http.MethodGet, "/api/v1/audit?"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, w.Code)
		}
	}

	env.srv.auditRepo = nil
	if w := env.do(t, http.MethodGet, "/api/v1/audit", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured audit status = %d, want 503", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", bridge.ErrThingNotFound), http.StatusNotFound},
		{thing.ErrThingNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: topic", envelope.ErrInvalidArgument), http.StatusBadRequest},
		{tlv.ErrPayloadTooLarge, http.StatusBadRequest},
		{fmt.Errorf("%w: mqtt", bridge.ErrNotConnected), http.StatusConflict},
		{bridge.ErrLinkDropped, http.StatusConflict},
		{bridge.ErrTransportFailure, http.StatusBadGateway},
		{bridge.ErrRateLimited, http.StatusTooManyRequests},
		{bridge.ErrUnsupportedRequest, http.StatusUnprocessableEntity},
		{bridge.ErrStopped, http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPublishPayload(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{``, ""},
		{`null`, ""},
		{`"text"`, "text"},
		{`"esc\"aped"`, `esc"aped`},
		{`42`, "42"},
		{`[1,2]`, "[1,2]"},
	}

	for _, tt := range tests {
		if got := string(publishPayload([]byte(tt.raw))); got != tt.want {
			t.Errorf("publishPayload(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
