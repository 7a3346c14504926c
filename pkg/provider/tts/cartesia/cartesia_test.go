package cartesia

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/gorilla/websocket"
)

// fakeCartesia records every request and answers each continued transcript
// with one audio chunk. The final empty transcript is answered with done.
type fakeCartesia struct {
	mu       sync.Mutex
	requests []request
	query    string
	failWith string
}

func (f *fakeCartesia) serve(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = r.URL.RawQuery
		f.mu.Unlock()
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			var req request
			if err := c.ReadJSON(&req); err != nil {
				return
			}
			f.mu.Lock()
			f.requests = append(f.requests, req)
			failWith := f.failWith
			f.mu.Unlock()

			if failWith != "" {
				_ = c.WriteJSON(response{Type: "error", Error: failWith, StatusCode: 400, ContextID: req.ContextID})
				continue
			}
			if req.Continue {
				chunk := base64.StdEncoding.EncodeToString([]byte(req.Transcript[:2]))
				_ = c.WriteJSON(response{Type: "chunk", Data: chunk, ContextID: req.ContextID})
				continue
			}
			_ = c.WriteJSON(response{Type: "done", Done: true, ContextID: req.ContextID})
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (f *fakeCartesia) recorded() []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]request(nil), f.requests...)
}

func sentences(s ...string) <-chan string {
	ch := make(chan string, len(s))
	for _, v := range s {
		ch <- v
	}
	close(ch)
	return ch
}

func TestSynthesizeStream_ContinuationContext(t *testing.T) {
	fake := &fakeCartesia{}
	p, err := New("ca-key", WithEndpoint(fake.serve(t)), WithSampleRate(16000), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := p.SynthesizeStream(ctx, sentences("Hi there.", "  ", "Bye now."), tts.VoiceProfile{ID: "f786b574"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var audio []byte
	for chunk := range stream.Audio() {
		audio = append(audio, chunk...)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if string(audio) != "HiBy" {
		t.Errorf("audio = %q, want %q", audio, "HiBy")
	}

	reqs := fake.recorded()
	if len(reqs) != 3 {
		t.Fatalf("server saw %d requests, want 3 (blank fragment skipped)", len(reqs))
	}
	ctxID := reqs[0].ContextID
	for i, r := range reqs {
		if r.ContextID != ctxID {
			t.Errorf("request %d context %q, want %q", i, r.ContextID, ctxID)
		}
		if r.ModelID != "sonic-english" || r.Voice.Mode != "id" || r.Voice.ID != "f786b574" {
			t.Errorf("request %d = %+v", i, r)
		}
		if r.OutputFormat != (outputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: 16000}) {
			t.Errorf("request %d output format = %+v", i, r.OutputFormat)
		}
		if r.Language != "en" {
			t.Errorf("request %d language = %q", i, r.Language)
		}
	}
	if !reqs[0].Continue || !reqs[1].Continue {
		t.Error("sentences must be sent with continue=true")
	}
	if reqs[2].Continue || reqs[2].Transcript != "" {
		t.Errorf("final request = %+v, want empty transcript with continue=false", reqs[2])
	}

	fake.mu.Lock()
	query := fake.query
	fake.mu.Unlock()
	if !strings.Contains(query, "api_key=ca-key") || !strings.Contains(query, "cartesia_version="+defaultVersion) {
		t.Errorf("query = %q", query)
	}
}

func TestSynthesizeStream_ServerError(t *testing.T) {
	fake := &fakeCartesia{failWith: "invalid voice"}
	p, _ := New("k", WithEndpoint(fake.serve(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := p.SynthesizeStream(ctx, sentences("Hello."), tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	for range stream.Audio() {
	}
	if err := stream.Err(); err == nil || !strings.Contains(err.Error(), "invalid voice") {
		t.Errorf("Err() = %v, want cartesia error", err)
	}
}

func TestSynthesizeStream_ConsumerClose(t *testing.T) {
	fake := &fakeCartesia{}
	p, _ := New("k", WithEndpoint(fake.serve(t)))

	text := make(chan string)
	stream, err := p.SynthesizeStream(context.Background(), text, tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	stream.Close()

	select {
	case _, ok := <-drain(stream):
		if ok {
			t.Fatal("unexpected value")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("audio channel not closed after Close")
	}
	if err := stream.Err(); err != nil {
		t.Errorf("Err() after Close = %v, want nil", err)
	}
}

// drain returns a channel closed once stream's audio channel is closed.
func drain(s *tts.Stream) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range s.Audio() {
		}
		close(done)
	}()
	return done
}

func TestSynthesizeStream_EmptyVoice(t *testing.T) {
	p, _ := New("k")
	if _, err := p.SynthesizeStream(context.Background(), nil, tts.VoiceProfile{}); err == nil {
		t.Error("expected error for empty voice ID")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("k", WithModel("")); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("k", WithSampleRate(0)); err == nil {
		t.Error("expected error for zero sample rate")
	}
	p, err := New("k")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.SampleRate() != defaultSampleRate {
		t.Errorf("SampleRate() = %d, want %d", p.SampleRate(), defaultSampleRate)
	}
}

func TestBaseRequest_VoiceOverrides(t *testing.T) {
	p, _ := New("k", WithLanguage("en"))
	r := p.baseRequest(tts.VoiceProfile{ID: "v", Language: "de", SpeedFactor: 1.2})
	if r.Language != "de" {
		t.Errorf("Language = %q, want de", r.Language)
	}
	if r.GenerationConfig == nil || r.GenerationConfig.Speed != 1.2 {
		t.Errorf("GenerationConfig = %+v", r.GenerationConfig)
	}
	if p.baseRequest(tts.VoiceProfile{ID: "v"}).ContextID == r.ContextID {
		t.Error("context IDs must be unique per request")
	}
}

func TestParseVoices(t *testing.T) {
	for name, body := range map[string]string{
		"array":     `[{"id":"a","name":"Ann","language":"en","description":"warm"}]`,
		"paginated": `{"data":[{"id":"a","name":"Ann","language":"en","description":"warm"}],"has_more":false}`,
	} {
		t.Run(name, func(t *testing.T) {
			got, err := parseVoices([]byte(body))
			if err != nil {
				t.Fatalf("parseVoices: %v", err)
			}
			if len(got) != 1 || got[0].ID != "a" || got[0].Language != "en" || got[0].Metadata["description"] != "warm" {
				t.Errorf("got %+v", got)
			}
		})
	}
	if _, err := parseVoices([]byte(`nope`)); err == nil {
		t.Error("expected error for invalid body")
	}
}

func TestListVoices_Headers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" || r.Header.Get("Cartesia-Version") != defaultVersion {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"v1","name":"One"}]`))
	}))
	defer srv.Close()

	p, _ := New("k", WithAPIBase(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].Provider != "cartesia" {
		t.Errorf("voices = %+v", voices)
	}
}
