package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vigil-video/vigil/internal/pipeline"
	"github.com/vigil-video/vigil/pkg/moderation"
	modmock "github.com/vigil-video/vigil/pkg/moderation/mock"
	"github.com/vigil-video/vigil/pkg/types"
)

// fakeService records pipeline calls without running anything.
type fakeService struct {
	mu        sync.Mutex
	started   []string
	events    []types.SafetyEvent
	processed chan pipeline.Input
}

func newFakeService() *fakeService {
	return &fakeService{processed: make(chan pipeline.Input, 1)}
}

func (f *fakeService) CreateSession(context.Context) (*pipeline.SessionInfo, error) {
	return &pipeline.SessionInfo{SessionID: "sess-new", RoomName: "room-new"}, nil
}

func (f *fakeService) StartSession(_ context.Context, sessionID, _ string) error {
	f.mu.Lock()
	f.started = append(f.started, sessionID)
	f.mu.Unlock()
	return nil
}

func (f *fakeService) StoreSafetyEvent(_ context.Context, event types.SafetyEvent) error {
	if !event.Fired() {
		return pipeline.ErrNoFiredFlags
	}
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	return nil
}

func (f *fakeService) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeService) lastEvent() types.SafetyEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1]
}

func (f *fakeService) ProcessEgressRecording(_ context.Context, in pipeline.Input) (*types.SessionAnalysis, error) {
	f.processed <- in
	return &types.SessionAnalysis{SessionID: in.SessionID}, nil
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateSessionRoute(t *testing.T) {
	t.Parallel()

	srv := New(newFakeService(), nil)
	rec := postJSON(t, srv.Handler(), "/api/session/create", struct{}{})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var info pipeline.SessionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.SessionID != "sess-new" || info.RoomName != "room-new" {
		t.Errorf("info = %+v", info)
	}
}

func TestStartSessionRoute(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := New(svc, nil)

	rec := postJSON(t, srv.Handler(), "/api/session/start",
		map[string]string{"sessionId": "sess-7", "roomName": "room-7"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if len(svc.started) != 1 || svc.started[0] != "sess-7" {
		t.Errorf("started = %v", svc.started)
	}

	rec = postJSON(t, srv.Handler(), "/api/session/start", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty session id: status = %d, want 400", rec.Code)
	}
}

func TestDetectModerationRoute(t *testing.T) {
	t.Parallel()

	mod := &modmock.Moderator{Flags: []types.SafetyFlag{
		{Kind: types.FlagNudity, Score: 0.93, Threshold: 0.6, Flagged: true},
	}}
	srv := New(newFakeService(), mod)
	handler := srv.Handler()

	rec := postJSON(t, handler, "/api/safety/detect-moderation",
		map[string]string{"image": moderation.EncodeDataURL([]byte("jpeg"))})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Flags []types.SafetyFlag `json:"flags"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Flags) != 1 || resp.Flags[0].Kind != types.FlagNudity {
		t.Errorf("flags = %+v", resp.Flags)
	}
}

func TestDetectModerationRejectsNonImagePayload(t *testing.T) {
	t.Parallel()

	srv := New(newFakeService(), &modmock.Moderator{})
	handler := srv.Handler()

	for _, payload := range []string{
		"data:text/plain;base64,aGVsbG8=",
		"not a data url",
		"",
	} {
		rec := postJSON(t, handler, "/api/safety/detect-moderation",
			map[string]string{"image": payload})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("payload %q: status = %d, want 400", payload, rec.Code)
		}
	}
}

func TestSafetyEventRouteStoresAndBroadcasts(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := New(svc, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	// Subscribe to the feed first.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/feed"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.CloseNow()

	// Wait for the subscription to register before posting.
	deadline := time.Now().Add(2 * time.Second)
	for srv.Feed().Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	event := types.SafetyEvent{
		SessionID: "sess-8",
		Timestamp: "2026-08-30T12:00:00Z",
		Flags: []types.SafetyFlag{
			{Kind: types.FlagProfanity, Score: 0.8, Threshold: 0.6, Flagged: true},
		},
	}
	rec := postJSON(t, srv.Handler(), "/api/safety-event", event)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(svc.events) != 1 || svc.events[0].SessionID != "sess-8" {
		t.Errorf("stored events = %+v", svc.events)
	}

	_, payload, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read: %v", err)
	}
	var got types.SafetyEvent
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal broadcast: %v", err)
	}
	if got.SessionID != "sess-8" || len(got.Flags) != 1 {
		t.Errorf("broadcast = %+v", got)
	}
}

func TestSafetyEventRouteRejectsUnfiredFlags(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := New(svc, nil)

	event := types.SafetyEvent{
		SessionID: "sess-8",
		Flags: []types.SafetyFlag{
			{Kind: types.FlagNudity, Score: 0.1, Threshold: 0.6, Flagged: false},
		},
	}
	rec := postJSON(t, srv.Handler(), "/api/safety-event", event)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if svc.eventCount() != 0 {
		t.Errorf("unfired event was stored: %+v", svc.events)
	}
}

func TestRecordingWebhookTriggersPipeline(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := New(svc, nil)

	rec := postJSON(t, srv.Handler(), "/api/recording/webhook", pipeline.Input{
		SessionID:    "sess-9",
		RoomName:     "room-9",
		EgressID:     "eg-1",
		FileLocation: "s3://bucket/sessions/sess-9/raw.mp4",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	select {
	case in := <-svc.processed:
		if in.SessionID != "sess-9" || in.EgressID != "eg-1" {
			t.Errorf("processed input = %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline was not triggered")
	}

	rec = postJSON(t, srv.Handler(), "/api/recording/webhook", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing session id: status = %d, want 400", rec.Code)
	}
}
