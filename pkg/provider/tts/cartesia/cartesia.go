// Package cartesia provides a Cartesia-backed TTS provider using the Cartesia
// websocket API with continuation contexts, so every sentence of a reply is
// synthesised with consistent prosody. It implements the tts.Provider
// interface.
package cartesia

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/gorilla/websocket"
)

const (
	defaultEndpoint   = "wss://api.cartesia.ai/tts/websocket"
	defaultAPIBase    = "https://api.cartesia.ai"
	defaultVersion    = "2025-04-16"
	defaultModel      = "sonic-english"
	defaultSampleRate = 24000
)

// Option is a functional option for configuring the Cartesia Provider.
type Option func(*Provider)

// WithModel sets the Cartesia model ID (e.g., "sonic-english").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithSampleRate sets the PCM output rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithLanguage sets the default language sent with each request. A voice
// profile's language takes precedence.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithEndpoint overrides the websocket URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithAPIBase overrides the REST API base URL used by ListVoices.
func WithAPIBase(base string) Option {
	return func(p *Provider) { p.apiBase = strings.TrimRight(base, "/") }
}

// WithVersion overrides the Cartesia API version.
func WithVersion(version string) Option {
	return func(p *Provider) { p.version = version }
}

// WithHTTPClient sets the client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider backed by the Cartesia websocket API.
type Provider struct {
	apiKey     string
	model      string
	sampleRate int
	language   string
	endpoint   string
	apiBase    string
	version    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new Cartesia Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("cartesia: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		sampleRate: defaultSampleRate,
		endpoint:   defaultEndpoint,
		apiBase:    defaultAPIBase,
		version:    defaultVersion,
		httpClient: &http.Client{},
		dialer:     websocket.DefaultDialer,
	}
	for _, o := range opts {
		o(p)
	}
	if p.model == "" {
		return nil, errors.New("cartesia: model must not be empty")
	}
	if p.sampleRate <= 0 {
		return nil, fmt.Errorf("cartesia: invalid sample rate %d", p.sampleRate)
	}
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.sampleRate }

// ---- wire types ----

type voiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type generationConfig struct {
	Speed float64 `json:"speed,omitempty"`
}

// request is one message of a continuation context. Every message of a
// context carries the full voice and format description.
type request struct {
	ModelID          string            `json:"model_id"`
	Transcript       string            `json:"transcript"`
	Voice            voiceSpec         `json:"voice"`
	OutputFormat     outputFormat      `json:"output_format"`
	Language         string            `json:"language,omitempty"`
	ContextID        string            `json:"context_id"`
	Continue         bool              `json:"continue"`
	GenerationConfig *generationConfig `json:"generation_config,omitempty"`
}

type response struct {
	Type       string `json:"type"` // "chunk", "done", "flush_done", "timestamps", "error"
	Data       string `json:"data,omitempty"`
	Done       bool   `json:"done,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	ContextID  string `json:"context_id,omitempty"`
}

var contextCounter atomic.Uint64

func nextContextID() string {
	return fmt.Sprintf("parley-%d", contextCounter.Add(1))
}

// SynthesizeStream dials the Cartesia websocket and sends every text fragment
// as a continuation of one context. Closing text sends the final empty
// transcript; the stream ends when Cartesia reports the context done.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (*tts.Stream, error) {
	if voice.ID == "" {
		return nil, errors.New("cartesia: voice.ID must not be empty")
	}

	conn, resp, err := p.dialer.DialContext(ctx, p.streamURL(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("cartesia: dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("cartesia: dial: %w", err)
	}

	base := p.baseRequest(voice)
	stream := tts.NewStream(256)
	go p.run(ctx, conn, text, base, stream)
	return stream, nil
}

func (p *Provider) baseRequest(voice tts.VoiceProfile) request {
	lang := voice.Language
	if lang == "" {
		lang = p.language
	}
	req := request{
		ModelID:      p.model,
		Voice:        voiceSpec{Mode: "id", ID: voice.ID},
		OutputFormat: outputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: p.sampleRate},
		Language:     lang,
		ContextID:    nextContextID(),
	}
	if voice.SpeedFactor != 0 {
		req.GenerationConfig = &generationConfig{Speed: voice.SpeedFactor}
	}
	return req
}

func (p *Provider) run(ctx context.Context, conn *websocket.Conn, text <-chan string, base request, stream *tts.Stream) {
	defer stream.Finish()
	defer conn.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		stream.Fail(readAudio(conn, base.ContextID, stream))
	}()

	send := func(transcript string, more bool) bool {
		req := base
		req.Transcript = transcript
		req.Continue = more
		if err := conn.WriteJSON(req); err != nil {
			stream.Fail(fmt.Errorf("cartesia: send: %w", err))
			return false
		}
		return true
	}

	for {
		select {
		case sentence, ok := <-text:
			if !ok {
				if !send("", false) {
					return
				}
				select {
				case <-readDone:
				case <-stream.Done():
				case <-ctx.Done():
				}
				return
			}
			if strings.TrimSpace(sentence) == "" {
				continue
			}
			if !send(sentence+" ", true) {
				return
			}
		case <-readDone:
			return
		case <-stream.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// readAudio decodes chunk messages for contextID until the context is done.
// It returns nil when the context completes or the connection is closed
// locally.
func readAudio(conn *websocket.Conn, contextID string, stream *tts.Stream) error {
	for {
		var msg response
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-stream.Done():
				return nil
			default:
			}
			return fmt.Errorf("cartesia: read: %w", err)
		}
		if msg.ContextID != "" && msg.ContextID != contextID {
			continue
		}
		switch msg.Type {
		case "chunk":
			pcm, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				return fmt.Errorf("cartesia: decode audio: %w", err)
			}
			if !stream.Send(pcm) {
				return nil
			}
			if msg.Done {
				return nil
			}
		case "done":
			return nil
		case "error":
			return fmt.Errorf("cartesia: %s (status %d)", msg.Error, msg.StatusCode)
		}
	}
}

func (p *Provider) streamURL() string {
	q := url.Values{}
	q.Set("api_key", p.apiKey)
	q.Set("cartesia_version", p.version)
	sep := "?"
	if strings.Contains(p.endpoint, "?") {
		sep = "&"
	}
	return p.endpoint + sep + q.Encode()
}

// ---- ListVoices ----

type cartesiaVoice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Language    string `json:"language"`
}

// ListVoices returns the voices visible to the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("cartesia: list voices: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Cartesia-Version", p.version)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cartesia: list voices read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cartesia: list voices: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return parseVoices(body)
}

// parseVoices accepts both the bare array and the paginated {"data": [...]}
// shapes of the voices endpoint.
func parseVoices(body []byte) ([]tts.VoiceProfile, error) {
	var voices []cartesiaVoice
	if err := json.Unmarshal(body, &voices); err != nil {
		var page struct {
			Data []cartesiaVoice `json:"data"`
		}
		if err2 := json.Unmarshal(body, &page); err2 != nil {
			return nil, fmt.Errorf("cartesia: decode voices: %w", err)
		}
		voices = page.Data
	}
	out := make([]tts.VoiceProfile, 0, len(voices))
	for _, v := range voices {
		meta := map[string]string{}
		if v.Description != "" {
			meta["description"] = v.Description
		}
		out = append(out, tts.VoiceProfile{
			ID:       v.ID,
			Name:     v.Name,
			Provider: "cartesia",
			Language: v.Language,
			Metadata: meta,
		})
	}
	return out, nil
}
