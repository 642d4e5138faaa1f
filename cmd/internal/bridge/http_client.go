package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	v1 "slate/shared/contracts/scene/v1"
)

const httpRequestTimeout = 15 * time.Second

// HTTPUpstream talks JSON over HTTP to the call-control service.
//
// Non-2xx responses with a decodable {code,message} body become *RPCError
// (protocol rejection); everything else — dial failures, timeouts, garbled
// bodies — is a transport error.
type HTTPUpstream struct {
	base   string
	client *http.Client
}

// NewHTTPUpstream constructs a client for the given base URL.
func NewHTTPUpstream(baseURL string) (*HTTPUpstream, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("bridge: empty base URL")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("bridge: invalid base URL: %w", err)
	}
	return &HTTPUpstream{
		base:   baseURL,
		client: &http.Client{Timeout: httpRequestTimeout},
	}, nil
}

func (u *HTTPUpstream) Activate(ctx context.Context) error {
	return u.do(ctx, http.MethodPost, "/v1/activate", struct{}{}, nil)
}

func (u *HTTPUpstream) PushDocument(ctx context.Context, sessionID string, doc v1.Document) error {
	return u.do(ctx, http.MethodPut, "/v1/sessions/"+url.PathEscape(sessionID)+"/document", doc, nil)
}

func (u *HTTPUpstream) FetchDocument(ctx context.Context, sessionID string) (v1.Document, error) {
	var doc v1.Document
	err := u.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID)+"/document", nil, &doc)
	return doc, err
}

func (u *HTTPUpstream) StartCall(ctx context.Context, sessionID, entityID string, video bool) (string, error) {
	req := struct {
		SessionID string `json:"session_id"`
		EntityID  string `json:"entity_id"`
		Video     bool   `json:"video"`
	}{sessionID, entityID, video}

	var resp struct {
		CallID string `json:"call_id"`
	}
	if err := u.do(ctx, http.MethodPost, "/v1/calls", req, &resp); err != nil {
		return "", err
	}
	if resp.CallID == "" {
		return "", &RPCError{Code: "missing_call_id", Message: "upstream returned no call id"}
	}
	return resp.CallID, nil
}

func (u *HTTPUpstream) JoinCall(ctx context.Context, callID, peerID string) error {
	req := struct {
		PeerID string `json:"peer_id"`
	}{peerID}
	return u.do(ctx, http.MethodPost, "/v1/calls/"+url.PathEscape(callID)+"/participants", req, nil)
}

func (u *HTTPUpstream) LeaveCall(ctx context.Context, callID, peerID string) error {
	return u.do(ctx, http.MethodDelete, "/v1/calls/"+url.PathEscape(callID)+"/participants/"+url.PathEscape(peerID), nil, nil)
}

func (u *HTTPUpstream) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var rpc struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal(data, &rpc); jsonErr == nil && rpc.Code != "" {
			return &RPCError{Code: rpc.Code, Message: rpc.Message}
		}
		// 5xx without a structured body is treated as transport-class:
		// gateways and load balancers produce these during blips.
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s %s: upstream unavailable (%d)", method, path, resp.StatusCode)
		}
		return &RPCError{
			Code:    fmt.Sprintf("http_%d", resp.StatusCode),
			Message: http.StatusText(resp.StatusCode),
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
