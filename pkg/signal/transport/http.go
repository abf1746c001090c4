package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jabolina/go-rendezvous/pkg/signal/broker"
	"github.com/jabolina/go-rendezvous/pkg/signal/types"
)

// HTTPServer exposes a broker.Broker over plain HTTP GET endpoints. Both
// push and pull carry their payload as a base64url-encoded JSON query
// parameter, so the whole contract works behind caches and proxies that
// only forward GET.
type HTTPServer struct {
	broker *broker.Broker
}

// NewHTTPServer wraps broker b for serving.
func NewHTTPServer(b *broker.Broker) *HTTPServer {
	return &HTTPServer{broker: b}
}

// Handler returns the mux serving /push and /pull. Any method other
// than GET is answered with 405.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	for path, h := range map[string]http.HandlerFunc{"/push": s.handlePush, "/pull": s.handlePull} {
		h := h
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			h(w, r)
		})
	}
	return mux
}

func (s *HTTPServer) handlePush(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeParam(r.URL.Query().Get("event"))
	if err != nil {
		http.Error(w, "invalid event parameter", http.StatusBadRequest)
		return
	}
	var event types.SignalingEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}
	if err := s.broker.Push(event); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handlePull(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeParam(r.URL.Query().Get("request"))
	if err != nil {
		http.Error(w, "invalid request parameter", http.StatusBadRequest)
		return
	}
	var req PullRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		http.Error(w, "malformed pull request", http.StatusBadRequest)
		return
	}
	events := s.broker.Pull(broker.PullRequest{Topic: req.Topic, After: req.After})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}

func decodeParam(v string) ([]byte, error) {
	if v == "" {
		return nil, fmt.Errorf("empty parameter")
	}
	return base64.URLEncoding.DecodeString(v)
}

func encodeParam(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// HTTPClient is the client-side Transport that drives an HTTPServer over
// the network. A failed request is always treated as recoverable per
// the transport contract: Push returns the error to the caller (who
// does not retry it — the next alive tick resynchronizes), and Pull's
// error is absorbed by the adaptive poll loop's own retry.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient targets the server listening at baseURL (e.g.
// "http://127.0.0.1:8080").
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{baseURL: baseURL, client: client}
}

func (c *HTTPClient) Push(ctx context.Context, event types.SignalingEvent) error {
	encoded, err := encodeParam(event)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/push?event=%s", c.baseURL, url.QueryEscape(encoded))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("signal: push failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) Pull(ctx context.Context, req PullRequest) ([]types.SignalingEvent, error) {
	encoded, err := encodeParam(req)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/pull?request=%s", c.baseURL, url.QueryEscape(encoded))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("signal: pull failed with status %d", resp.StatusCode)
	}
	var events []types.SignalingEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, err
	}
	return events, nil
}
