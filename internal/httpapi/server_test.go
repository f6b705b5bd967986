package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/ember/internal/artifact"
	"github.com/ent0n29/ember/internal/config"
	"github.com/ent0n29/ember/internal/conversation"
	"github.com/ent0n29/ember/internal/llm"
	"github.com/ent0n29/ember/internal/observability"
	"github.com/ent0n29/ember/internal/pipeline"
	"github.com/ent0n29/ember/internal/session"
	"github.com/ent0n29/ember/internal/transcribe"
	"github.com/ent0n29/ember/internal/voice"
)

type fixedTranscriber struct {
	res transcribe.Result
}

func (f fixedTranscriber) Transcribe(context.Context, []byte, string) transcribe.Result {
	return f.res
}

type testServer struct {
	srv   *httptest.Server
	store *conversation.InMemoryStore
	gen   *llm.MockGenerator
	synth *voice.MockSynthesizer
	arts  *artifact.Manager
	dedup *session.DedupCache
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Config{AllowAnyOrigin: true}
	store := conversation.NewInMemoryStore()
	gen := llm.NewMockGenerator("Tell me more about that.")
	synth := voice.NewMockSynthesizer()
	arts := artifact.NewManager(artifact.Config{Dir: t.TempDir(), ServeGrace: time.Minute})
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	tr := fixedTranscriber{res: transcribe.Result{Outcome: transcribe.OutcomeTranscribed, Text: "hello there"}}
	orch := pipeline.NewOrchestrator(store, tr, gen, synth, arts, metrics, "SYSTEM")
	dedup := session.NewDedupCacheWithWindows(5*time.Second, time.Second, time.Now)

	s := New(cfg, store, orch, dedup, arts, metrics)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, store: store, gen: gen, synth: synth, arts: arts, dedup: dedup}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	id, _ := ts.dedup.Reserve()
	if err := ts.store.Create(context.Background(), id); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return id
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, audio []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(audio); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestStartSessionCreatesAndDeduplicates(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.postJSON(t, "/start-session", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var first struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, resp, &first)
	if first.SessionID == "" {
		t.Fatalf("missing session_id")
	}
	if exists, _ := ts.store.Exists(context.Background(), first.SessionID); !exists {
		t.Fatalf("session row not created")
	}

	// An immediate retry folds into the same session.
	resp = ts.postJSON(t, "/start-session", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry status = %d, want 200", resp.StatusCode)
	}
	var second struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, resp, &second)
	if second.SessionID != first.SessionID {
		t.Fatalf("retry minted a new session: %q vs %q", second.SessionID, first.SessionID)
	}
}

func TestChatRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	resp := ts.postJSON(t, "/chat", map[string]string{"session_id": id, "message": "I had a rough day"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
		Response  string `json:"response"`
	}
	decodeBody(t, resp, &body)
	if body.Response != "Tell me more about that." {
		t.Fatalf("response = %q", body.Response)
	}
	if body.SessionID != id || body.Message != "I had a rough day" {
		t.Fatalf("echo fields wrong: %+v", body)
	}
}

func TestChatValidation(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	resp := ts.postJSON(t, "/chat", map[string]string{"session_id": id, "message": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank message status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.postJSON(t, "/chat", map[string]string{"session_id": "ghost", "message": "hi"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestVoiceTurnEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	body, contentType := multipartUpload(t, map[string]string{"session_id": id}, "clip.wav", []byte("RIFFaudio"))
	resp, err := http.Post(ts.srv.URL+"/run-model", contentType, body)
	if err != nil {
		t.Fatalf("POST /run-model: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		ResponseText string `json:"response_text"`
		AudioFile    string `json:"audio_file"`
	}
	decodeBody(t, resp, &out)
	if out.ResponseText != "Tell me more about that." {
		t.Fatalf("response_text = %q", out.ResponseText)
	}
	if out.AudioFile != artifact.OutputName(id) {
		t.Fatalf("audio_file = %q", out.AudioFile)
	}

	// The synthesized reply is fetchable while the serve grace lasts.
	audioResp, err := http.Get(ts.srv.URL + "/audio-files/" + out.AudioFile)
	if err != nil {
		t.Fatalf("GET audio: %v", err)
	}
	defer audioResp.Body.Close()
	if audioResp.StatusCode != http.StatusOK {
		t.Fatalf("audio status = %d", audioResp.StatusCode)
	}
	if got := audioResp.Header.Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("Content-Type = %q", got)
	}
	data, _ := io.ReadAll(audioResp.Body)
	if len(data) == 0 {
		t.Fatalf("empty audio body")
	}
}

func TestVoiceTurnMissingSessionField(t *testing.T) {
	ts := newTestServer(t)

	body, contentType := multipartUpload(t, nil, "clip.wav", []byte("RIFFaudio"))
	resp, err := http.Post(ts.srv.URL+"/run-model", contentType, body)
	if err != nil {
		t.Fatalf("POST /run-model: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServeAudioRejectsNonOutputNames(t *testing.T) {
	ts := newTestServer(t)

	for _, name := range []string{
		"input_abc.wav",
		"debug_input_abc.wav",
		"..%2F..%2Fetc%2Fpasswd",
		"output_abc.wav",
	} {
		resp, err := http.Get(ts.srv.URL + "/audio-files/" + name)
		if err != nil {
			t.Fatalf("GET %s: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s status = %d, want 404", name, resp.StatusCode)
		}
	}
}

func TestEndSessionEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)
	_ = ts.store.SetHistory(context.Background(), id, []string{"User: hi", "Assistant: hello"})

	resp := ts.postJSON(t, "/end-session", map[string]string{"session_id": id})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out pipeline.EndResult
	decodeBody(t, resp, &out)
	if !strings.HasPrefix(out.Message, "Session ended") {
		t.Fatalf("message = %q", out.Message)
	}

	resp = ts.postJSON(t, "/end-session", map[string]string{"session_id": "ghost"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestConversationHistoryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)
	_ = ts.store.SetHistory(context.Background(), id, []string{"User: hi", "Assistant: hello"})

	resp, err := http.Get(ts.srv.URL + "/conversation-history/" + id)
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		SessionID    string   `json:"session_id"`
		Conversation []string `json:"conversation"`
	}
	decodeBody(t, resp, &out)
	if len(out.Conversation) != 2 {
		t.Fatalf("conversation = %v", out.Conversation)
	}

	resp, err = http.Get(ts.srv.URL + "/conversation-history/ghost")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", resp.StatusCode)
	}
}

func TestSessionListingAndDeletion(t *testing.T) {
	ts := newTestServer(t)
	a := ts.createSession(t)
	time.Sleep(time.Millisecond)
	ts.dedup = session.NewDedupCacheWithWindows(5*time.Second, time.Nanosecond, time.Now)
	b := ts.createSession(t)

	resp, err := http.Get(ts.srv.URL + "/sessions")
	if err != nil {
		t.Fatalf("GET sessions: %v", err)
	}
	var listing struct {
		Sessions []sessionListItem `json:"sessions"`
	}
	decodeBody(t, resp, &listing)
	if len(listing.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(listing.Sessions))
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.srv.URL+"/sessions/"+a, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if exists, _ := ts.store.Exists(context.Background(), a); exists {
		t.Fatalf("session %s should be gone", a)
	}

	payload, _ := json.Marshal(map[string][]string{"session_ids": {b, "ghost"}})
	req, _ = http.NewRequest(http.MethodDelete, ts.srv.URL+"/sessions/batch", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE batch: %v", err)
	}
	var batch struct {
		DeletedCount      int      `json:"deleted_count"`
		DeletedSessionIDs []string `json:"deleted_session_ids"`
	}
	decodeBody(t, resp, &batch)
	if batch.DeletedCount != 1 || len(batch.DeletedSessionIDs) != 1 || batch.DeletedSessionIDs[0] != b {
		t.Fatalf("batch result = %+v", batch)
	}
}

func TestGenerateSummaryPreconditions(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	// Still active.
	resp := ts.postJSON(t, "/sessions/"+id+"/generate-summary", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("active session status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	// Ended but too short.
	_ = ts.store.End(context.Background(), id)
	resp = ts.postJSON(t, "/sessions/"+id+"/generate-summary", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short session status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown session.
	resp = ts.postJSON(t, "/sessions/ghost/generate-summary", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGenerateAndFetchSummary(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)
	_ = ts.store.SetHistory(context.Background(), id, []string{"User: I feel stuck", "Assistant: What feels stuck?"})
	_ = ts.store.End(context.Background(), id)

	resp, err := http.Get(ts.srv.URL + "/sessions/" + id + "/summary")
	if err != nil {
		t.Fatalf("GET summary: %v", err)
	}
	var before struct {
		SummaryExists bool `json:"summary_exists"`
	}
	decodeBody(t, resp, &before)
	if before.SummaryExists {
		t.Fatalf("summary should not exist yet")
	}

	resp = ts.postJSON(t, "/sessions/"+id+"/generate-summary", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	var generated struct {
		Message          string `json:"message"`
		SummaryGenerated bool   `json:"summary_generated"`
	}
	decodeBody(t, resp, &generated)
	if generated.Message != "Summary generated" || !generated.SummaryGenerated {
		t.Fatalf("generate payload = %+v", generated)
	}

	resp, err = http.Get(ts.srv.URL + "/sessions/" + id + "/summary")
	if err != nil {
		t.Fatalf("GET summary: %v", err)
	}
	var after struct {
		SummaryExists bool     `json:"summary_exists"`
		Summary       string   `json:"summary"`
		Tips          []string `json:"tips"`
	}
	decodeBody(t, resp, &after)
	if !after.SummaryExists || after.Summary == "" || len(after.Tips) == 0 {
		t.Fatalf("summary payload = %+v", after)
	}

	// A second generate without force_regenerate returns the stored summary.
	resp = ts.postJSON(t, "/sessions/"+id+"/generate-summary", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("regenerate status = %d", resp.StatusCode)
	}
	var repeat struct {
		Message          string `json:"message"`
		SummaryGenerated bool   `json:"summary_generated"`
	}
	decodeBody(t, resp, &repeat)
	if repeat.Message != "Summary already exists" || !repeat.SummaryGenerated {
		t.Fatalf("repeat payload = %+v", repeat)
	}

	// force_regenerate in the request body overrides the short-circuit.
	resp = ts.postJSON(t, "/sessions/"+id+"/generate-summary", map[string]bool{"force_regenerate": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("forced regenerate status = %d", resp.StatusCode)
	}
	var forced struct {
		Message          string `json:"message"`
		SummaryGenerated bool   `json:"summary_generated"`
	}
	decodeBody(t, resp, &forced)
	if forced.Message != "Summary generated" || !forced.SummaryGenerated {
		t.Fatalf("forced payload = %+v", forced)
	}
}

func TestDebugTranscribeEndpoint(t *testing.T) {
	ts := newTestServer(t)

	body, contentType := multipartUpload(t, nil, "clip.wav", []byte("RIFFaudio"))
	resp, err := http.Post(ts.srv.URL+"/debug-transcribe", contentType, body)
	if err != nil {
		t.Fatalf("POST /debug-transcribe: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Transcription string `json:"transcription"`
	}
	decodeBody(t, resp, &out)
	if out.Transcription != "hello there" {
		t.Fatalf("transcription = %q", out.Transcription)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
	decodeBody(t, resp, &out)
	if out.Status != "healthy" || out.Database != "ok" {
		t.Fatalf("health payload = %+v", out)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.srv.URL+"/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /chat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}
