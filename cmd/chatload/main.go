package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/chattoz/internal/protocol"
)

type options struct {
	baseURL        string
	hostLanguage   string
	targetLanguage string
	hostUserID     string
	guestUserID    string
	turns          int
	startDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type createSessionRequest struct {
	HostLanguage   string `json:"host_language"`
	TargetLanguage string `json:"target_language"`
	Mode           string `json:"mode"`
	HostUserID     string `json:"host_user_id,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type wsEnvelope struct {
	Type     string `json:"type"`
	From     string `json:"from,omitempty"`
	Original string `json:"original,omitempty"`
	Code     string `json:"code,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

var defaultUtterances = []string{
	"Hello, how are you today?",
	"Where is the nearest train station?",
	"Could you recommend a good restaurant nearby?",
	"Thanks, that was really helpful.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatload: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "chatload: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var startDelayMS int
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "chattoz base URL")
	flag.StringVar(&cfg.hostLanguage, "host-language", "en", "host language of the synthetic session")
	flag.StringVar(&cfg.targetLanguage, "target-language", "es", "guest language of the synthetic session")
	flag.StringVar(&cfg.hostUserID, "host-user-id", "load-host", "user id of the host connection")
	flag.StringVar(&cfg.guestUserID, "guest-user-id", "load-guest", "user id of the guest connection")
	flag.IntVar(&cfg.turns, "turns", 10, "number of chat turns, alternating host and guest")
	flag.IntVar(&startDelayMS, "start-delay-ms", 200, "delay after both sockets connect in milliseconds")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 100, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for the relayed chat_message in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if strings.TrimSpace(cfg.hostLanguage) == "" || strings.TrimSpace(cfg.targetLanguage) == "" {
		return options{}, fmt.Errorf("host-language and target-language are required")
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	cfg.texts = splitTexts(textsRaw)
	if len(cfg.texts) == 0 {
		return options{}, fmt.Errorf("texts produced no non-empty utterances")
	}
	return cfg, nil
}

func splitTexts(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultUtterances...)
	}
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// participant is one dialed socket plus the chat_message originals it has seen.
type participant struct {
	role    protocol.Role
	conn    *websocket.Conn
	relayed chan wsEnvelope
	readErr chan error
}

func dial(ctx context.Context, baseURL, sessionID string, role protocol.Role, userID string, verbose bool) (*participant, error) {
	wsURL, err := wsURLForSession(baseURL, sessionID, role, userID)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s websocket: %w", role, err)
	}
	p := &participant{
		role:    role,
		conn:    conn,
		relayed: make(chan wsEnvelope, 64),
		readErr: make(chan error, 1),
	}
	go p.readLoop(verbose)
	return p, nil
}

func (p *participant) readLoop(verbose bool) {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case p.readErr <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeChatMessage):
			select {
			case p.relayed <- env:
			default:
			}
		case string(protocol.TypeErrorEvent), string(protocol.TypeSystemEvent):
			if verbose {
				fmt.Fprintf(os.Stderr, "chatload: %s %s code=%s detail=%s\n", p.role, env.Type, env.Code, env.Detail)
			}
		}
	}
}

// awaitRelay waits until p sees the chat_message carrying original.
func (p *participant) awaitRelay(original string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-p.relayed:
			if env.Original == original {
				return nil
			}
		case err := <-p.readErr:
			return err
		case <-timer.C:
			return fmt.Errorf("timeout after %s", timeout)
		}
	}
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("chatload: session=%s turns=%d %s<->%s\n", sessionID, cfg.turns, cfg.hostLanguage, cfg.targetLanguage)
	}

	host, err := dial(ctx, cfg.baseURL, sessionID, protocol.RoleHost, cfg.hostUserID, cfg.verbose)
	if err != nil {
		return err
	}
	defer host.conn.Close()
	guest, err := dial(ctx, cfg.baseURL, sessionID, protocol.RoleGuest, cfg.guestUserID, cfg.verbose)
	if err != nil {
		return err
	}
	defer guest.conn.Close()

	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	latencies := make([]time.Duration, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		sender, receiver := host, guest
		if i%2 == 1 {
			sender, receiver = guest, host
		}
		text := fmt.Sprintf("%s (#%d)", cfg.texts[i%len(cfg.texts)], i+1)

		start := time.Now()
		msg := protocol.ChatInput{Type: protocol.TypeChatInput, Text: text}
		if err := sender.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("turn %d send: %w", i+1, err)
		}
		if err := receiver.awaitRelay(text, cfg.turnTimeout); err != nil {
			return fmt.Errorf("turn %d await chat_message: %w", i+1, err)
		}
		elapsed := time.Since(start)
		latencies = append(latencies, elapsed)
		if cfg.verbose {
			fmt.Printf("chatload: turn %d/%d from=%s relay_ms=%.1f\n", i+1, cfg.turns, sender.role, float64(elapsed.Microseconds())/1000)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	fmt.Println(summarize(latencies))
	if report, err := fetchServerLatency(ctx, httpClient, cfg.baseURL); err == nil {
		fmt.Printf("chatload: server stages %s\n", report)
	} else if cfg.verbose {
		fmt.Fprintf(os.Stderr, "chatload: perf report unavailable: %v\n", err)
	}
	return nil
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{
		HostLanguage:   cfg.hostLanguage,
		TargetLanguage: cfg.targetLanguage,
		Mode:           "auto",
		HostUserID:     cfg.hostUserID,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func fetchServerLatency(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return "", err
	}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", res.StatusCode)
	}
	var snap struct {
		Stages []struct {
			Stage string  `json:"stage"`
			P95MS float64 `json:"p95_ms"`
		} `json:"stages"`
	}
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return "", err
	}
	parts := make([]string, 0, len(snap.Stages))
	for _, s := range snap.Stages {
		parts = append(parts, fmt.Sprintf("%s_p95=%.1fms", s.Stage, s.P95MS))
	}
	return strings.Join(parts, " "), nil
}

func wsURLForSession(baseURL, sessionID string, role protocol.Role, userID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws/" + sessionID + "/" + string(role) + "/" + userID
	return u.String(), nil
}

func summarize(latencies []time.Duration) string {
	if len(latencies) == 0 {
		return "chatload: no turns completed"
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	pick := func(q float64) time.Duration {
		idx := int(q*float64(len(sorted)-1) + 0.5)
		return sorted[idx]
	}
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return fmt.Sprintf("chatload: turns=%d avg_ms=%.1f p50_ms=%.1f p95_ms=%.1f max_ms=%.1f",
		len(sorted), ms(total/time.Duration(len(sorted))), ms(pick(0.5)), ms(pick(0.95)), ms(sorted[len(sorted)-1]))
}
