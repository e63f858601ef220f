package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"

	"confcrm/internal/httpserver"
	"confcrm/internal/logging"
)

type config struct {
	Port        string `envconfig:"PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	OutcomeMode string `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	OutcomesRaw string `envconfig:"MOCK_OUTCOMES" default:"ok"`
	DelayMs     int    `envconfig:"MOCK_DELAY_MS" default:"0"`

	TimeoutDelayMs int `envconfig:"MOCK_TIMEOUT_DELAY_MS" default:"35000"`

	// Engagement callbacks sent to the webhook receiver after a message is
	// accepted, e.g. "delivered,opened,replied".
	WebhookURL       string `envconfig:"MOCK_WEBHOOK_URL"`
	WebhookSecret    string `envconfig:"MOCK_WEBHOOK_SECRET"`
	WebhookEventsRaw string `envconfig:"MOCK_WEBHOOK_EVENTS" default:"delivered"`
	WebhookDelayMs   int    `envconfig:"MOCK_WEBHOOK_DELAY_MS" default:"500"`
	WebhookRetries   int    `envconfig:"MOCK_WEBHOOK_MAX_RETRIES" default:"5"`

	Outcomes      []string
	WebhookEvents []string
}

type server struct {
	cfg    config
	idx    uint64
	rng    *rand.Rand
	rngMu  sync.Mutex
	client *http.Client
}

func main() {
	cfg := loadConfig()
	logging.Init("mock-linkedin", cfg.LogFormat)

	s := newServer(cfg)
	slog.Info("mock linkedin listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, httpserver.Logging(s.routes())); err != nil {
		slog.Error("mock linkedin server failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig() config {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock linkedin config load failed", "err", err)
		os.Exit(1)
	}
	cfg.OutcomeMode = strings.ToLower(cfg.OutcomeMode)
	cfg.Outcomes = parseCSV(cfg.OutcomesRaw)
	if len(cfg.Outcomes) == 0 {
		cfg.Outcomes = []string{"ok"}
	}
	cfg.WebhookEvents = parseCSV(cfg.WebhookEventsRaw)
	return cfg
}

func newServer(cfg config) *server {
	return &server{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/oauth/v2/authorization", s.handleAuthorize).Methods(http.MethodGet)
	r.HandleFunc("/oauth/v2/accessToken", s.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/v2/userinfo", s.requireBearer(s.handleUserInfo)).Methods(http.MethodGet)
	r.HandleFunc("/v2/messages", s.requireBearer(s.handleMessage)).Methods(http.MethodPost)
	r.HandleFunc("/v2/ugcPosts", s.requireBearer(s.handlePost)).Methods(http.MethodPost)
	return r
}

// handleAuthorize approves every request and bounces straight back to the
// redirect uri with a code.
func (s *server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.String() == "" {
		writeError(w, http.StatusBadRequest, "redirect_uri is required")
		return
	}
	back := redirect.Query()
	back.Set("code", fmt.Sprintf("mock_code_%d", atomic.AddUint64(&s.idx, 1)))
	back.Set("state", q.Get("state"))
	redirect.RawQuery = back.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	switch r.PostForm.Get("grant_type") {
	case "authorization_code", "refresh_token":
	default:
		writeError(w, http.StatusBadRequest, "unsupported grant_type")
		return
	}
	n := atomic.AddUint64(&s.idx, 1)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  fmt.Sprintf("mock_access_%d", n),
		"refresh_token": fmt.Sprintf("mock_refresh_%d", n),
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
}

func (s *server) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing access token")
			return
		}
		next(w, r)
	}
}

func (s *server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"sub":         "mock-member",
		"name":        "Mock Member",
		"given_name":  "Mock",
		"family_name": "Member",
		"email":       "mock.member@example.com",
	})
}

type messageRequest struct {
	Recipients []string `json:"recipients"`
	Body       string   `json:"body"`
}

func (s *server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Recipients) == 0 || req.Body == "" {
		writeError(w, http.StatusBadRequest, "recipients and body are required")
		return
	}
	if !s.respond(w, r) {
		return
	}
	id := fmt.Sprintf("urn:li:message:mock-%06d", atomic.AddUint64(&s.idx, 1))
	w.Header().Set("X-RestLi-Id", id)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	s.maybeWebhookSequence(id)
}

func (s *server) handlePost(w http.ResponseWriter, r *http.Request) {
	if !s.respond(w, r) {
		return
	}
	id := fmt.Sprintf("urn:li:share:mock-%06d", atomic.AddUint64(&s.idx, 1))
	w.Header().Set("X-RestLi-Id", id)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// respond applies the configured delay and outcome. It reports whether the
// caller should write a success response.
func (s *server) respond(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.DelayMs > 0 {
		select {
		case <-r.Context().Done():
			return false
		case <-time.After(time.Duration(s.cfg.DelayMs) * time.Millisecond):
		}
	}
	status, err := classifyOutcome(s.nextOutcome())
	if err == nil {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		select {
		case <-r.Context().Done():
			return false
		case <-time.After(time.Duration(s.cfg.TimeoutDelayMs) * time.Millisecond):
		}
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, err.Error())
	return false
}

func (s *server) nextOutcome() string {
	switch s.cfg.OutcomeMode {
	case "round_robin":
		idx := atomic.AddUint64(&s.idx, 1) - 1
		return s.cfg.Outcomes[int(idx)%len(s.cfg.Outcomes)]
	case "random":
		s.rngMu.Lock()
		i := s.rng.Intn(len(s.cfg.Outcomes))
		s.rngMu.Unlock()
		return s.cfg.Outcomes[i]
	default:
		return s.cfg.Outcomes[0]
	}
}

func classifyOutcome(raw string) (int, error) {
	switch strings.TrimSpace(raw) {
	case "", "ok", "success":
		return http.StatusCreated, nil
	case "rate_limit", "429":
		return http.StatusTooManyRequests, errors.New("throttled")
	case "bad_request", "400":
		return http.StatusBadRequest, errors.New("recipient is not a connection")
	case "unauthorized", "401":
		return http.StatusUnauthorized, errors.New("invalid access token")
	case "server_error", "500":
		return http.StatusInternalServerError, errors.New("internal server error")
	case "timeout":
		return http.StatusGatewayTimeout, context.DeadlineExceeded
	default:
		return http.StatusInternalServerError, errors.New("mock error: " + raw)
	}
}

func (s *server) maybeWebhookSequence(messageID string) {
	if s.cfg.WebhookURL == "" || len(s.cfg.WebhookEvents) == 0 {
		return
	}
	go func() {
		for _, ev := range s.cfg.WebhookEvents {
			time.Sleep(time.Duration(s.cfg.WebhookDelayMs) * time.Millisecond)
			body, _ := json.Marshal(map[string]any{
				"external_message_id": messageID,
				"event":               ev,
				"occurred_at":         time.Now().UTC(),
			})
			if err := s.postWebhookWithRetry(context.Background(), body); err != nil {
				slog.Error("mock webhook post failed", "event", ev, "external_message_id", messageID, "err", err)
				return
			}
		}
	}()
}

func (s *server) postWebhookWithRetry(ctx context.Context, body []byte) error {
	sig := hex.EncodeToString(httpserver.Sign(s.cfg.WebhookSecret, body))
	wait := 250 * time.Millisecond
	var last error
	for attempt := 0; attempt <= s.cfg.WebhookRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(httpserver.SignatureHeader, sig)

		resp, err := s.client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			if !isRetryableStatus(resp.StatusCode) {
				return fmt.Errorf("webhook post non-retryable: status=%d", resp.StatusCode)
			}
			err = fmt.Errorf("webhook post failed: status=%d", resp.StatusCode)
		}
		last = err
		if attempt == s.cfg.WebhookRetries {
			break
		}
		slog.Warn("mock webhook post retrying", "attempt", attempt+1, "err", err, "wait_ms", wait.Milliseconds())
		time.Sleep(wait)
		if wait < 10*time.Second {
			wait *= 2
		}
	}
	return last
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"status": status, "message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
