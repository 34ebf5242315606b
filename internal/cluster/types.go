package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NodeInfo identifies a node agent and the base URL it serves on.
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// ReplicaStateRequest is the body of a replica state report sent by a node
// agent once a core changes state.
type ReplicaStateRequest struct {
	State ReplicaState `json:"state"`
}

// LoadCoreRequest asks a node agent to host a replica core.
type LoadCoreRequest struct {
	Collection string `json:"collection"`
	Replica    string `json:"replica"`
	Core       string `json:"core"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	return sendJSON(ctx, http.MethodPost, url, body, out)
}

func PutJSON(ctx context.Context, url string, body any, out any) error {
	return sendJSON(ctx, http.MethodPut, url, body, out)
}

func sendJSON(ctx context.Context, method, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, url, out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return do(req, url, out)
}

func do(req *http.Request, url string, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %s %s: %d %s", req.Method, url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
