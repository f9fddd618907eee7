package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"voiceloop/internal/domain"
	"voiceloop/internal/ports"
)

const (
	messageTimeout    = "Request timed out. Please try again."
	messageNoResponse = "No response from server. Is the backend running?"
	messageSynthesis  = "Failed to synthesize speech"
	messageIncomplete = "Server returned an incomplete response"
	messageHealth     = "Backend server is not running"
)

// Config describes the remote understanding and synthesis service.
type Config struct {
	BaseURL           string
	HealthPath        string
	SynthesizePath    string
	UnderstandPath    string
	HealthTimeout     time.Duration
	SynthesizeTimeout time.Duration
	UnderstandTimeout time.Duration
}

// Client talks to the backend over HTTP. Every failure is returned as a
// *domain.Error.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:5001/api"
	}
	cfg.HealthPath = pathOrDefault(cfg.HealthPath, "/health")
	cfg.SynthesizePath = pathOrDefault(cfg.SynthesizePath, "/synthesize")
	cfg.UnderstandPath = pathOrDefault(cfg.UnderstandPath, "/understand")
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.SynthesizeTimeout <= 0 {
		cfg.SynthesizeTimeout = 10 * time.Second
	}
	if cfg.UnderstandTimeout <= 0 {
		cfg.UnderstandTimeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// BaseURL returns the resolved service root.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Health performs an advisory reachability check.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.HealthPath, nil)
	if err != nil {
		return domain.NewError(domain.ErrorKindStartup, messageHealth, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NewError(domain.ErrorKindStartup, messageHealth, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.NewError(domain.ErrorKindStartup, messageHealth, serverError(resp))
	}
	return nil
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

// Synthesize returns the encoded audio for text.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SynthesizeTimeout)
	defer cancel()

	body, err := json.Marshal(synthesizeRequest{Text: text})
	if err != nil {
		return nil, domain.NewError(domain.ErrorKindSynthesis, messageSynthesis, fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.SynthesizePath, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewError(domain.ErrorKindSynthesis, messageSynthesis, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.ErrorKindSynthesis, messageSynthesis, transportError(ctx, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewError(domain.ErrorKindSynthesis, messageSynthesis, serverError(resp))
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewError(domain.ErrorKindSynthesis, messageSynthesis, transportError(ctx, err))
	}
	if len(payload) == 0 {
		return nil, domain.NewError(domain.ErrorKindSynthesis, messageSynthesis, errors.New("empty audio payload"))
	}
	return payload, nil
}

type understandResponse struct {
	Transcript string `json:"transcript"`
	ReplyText  string `json:"replyText"`

	LegacyTranscript string `json:"transcribed_text"`
	LegacyReply      string `json:"medical_response"`
}

// Understand uploads one utterance and returns the transcript and reply.
func (c *Client) Understand(ctx context.Context, utterance ports.Utterance) (ports.Exchange, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UnderstandTimeout)
	defer cancel()

	body, contentType, err := multipartUtterance(utterance)
	if err != nil {
		return ports.Exchange{}, domain.NewError(domain.ErrorKindNetwork, messageNoResponse, fmt.Errorf("encode upload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.UnderstandPath, body)
	if err != nil {
		return ports.Exchange{}, domain.NewError(domain.ErrorKindNetwork, messageNoResponse, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.Exchange{}, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ports.Exchange{}, serverError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.Exchange{}, transportError(ctx, err)
	}
	var decoded understandResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ports.Exchange{}, domain.NewError(domain.ErrorKindServer, messageIncomplete, fmt.Errorf("unmarshal response: %w", err))
	}

	exchange := ports.Exchange{
		Transcript: firstNonEmpty(decoded.Transcript, decoded.LegacyTranscript),
		ReplyText:  firstNonEmpty(decoded.ReplyText, decoded.LegacyReply),
	}
	if exchange.Transcript == "" || exchange.ReplyText == "" {
		return ports.Exchange{}, domain.NewError(domain.ErrorKindServer, messageIncomplete, nil)
	}
	return exchange, nil
}

func multipartUtterance(utterance ports.Utterance) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := firstNonEmpty(utterance.Filename, "utterance.wav")
	contentType := firstNonEmpty(utterance.ContentType, "audio/wav")

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(utterance.Audio); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

// transportError classifies a failure where no usable response arrived.
func transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.NewError(domain.ErrorKindTimeout, messageTimeout, err)
	}
	return domain.NewError(domain.ErrorKindNetwork, messageNoResponse, err)
}

type errorBody struct {
	Error string `json:"error"`
}

func serverError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var cause error
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		cause = errors.New(body.Error)
	}
	message := fmt.Sprintf("Server error: %d - %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return domain.NewError(domain.ErrorKindServer, message, cause)
}

func pathOrDefault(path string, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
