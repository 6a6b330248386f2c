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
	"time"

	"github.com/BaSui01/resumeflow/api"
	"github.com/BaSui01/resumeflow/api/handlers"
)

// =============================================================================
// ✉️ signal 命令
// =============================================================================

// signalClient 通过 HTTP 投递审批信号
type signalClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func runSignal(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("signal", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	reject := fs.Bool("reject", false, "Reject instead of approve")
	feedback := fs.String("feedback", "", "Feedback attached to the decision")
	token := fs.String("token", os.Getenv("RESUMEFLOW_TOKEN"), "Bearer token when JWT auth is enabled")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")

	// 线程 ID 可以出现在选项之前
	var threadID string
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		threadID, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if threadID == "" {
		threadID = fs.Arg(0)
	}
	if threadID == "" {
		fmt.Fprintln(os.Stderr, "Usage: resumeflow signal <thread> [--reject] [--feedback text] [--addr url] [--token jwt]")
		return errUsage
	}

	c := &signalClient{baseURL: *addr, token: *token, client: &http.Client{Timeout: *timeout}}
	accepted, err := c.send(context.Background(), threadID, api.ApprovalRequest{Approved: !*reject, Feedback: *feedback})
	if err != nil {
		return err
	}

	decision := "approved"
	if !accepted.Approved {
		decision = "rejected"
	}
	fmt.Fprintf(out, "Signal delivered to %s: %s\n", accepted.ThreadID, decision)
	return nil
}

// send 投递信号并解析统一响应
func (c *signalClient) send(ctx context.Context, threadID string, req api.ApprovalRequest) (*api.SignalAccepted, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/v1/threads/%s/approval", c.baseURL, url.PathEscape(threadID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deliver signal: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		handlers.Response
		Data api.SignalAccepted `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return nil, fmt.Errorf("signal rejected (%d %s): %s", resp.StatusCode, envelope.Error.Code, envelope.Error.Message)
		}
		return nil, fmt.Errorf("signal rejected: status %d", resp.StatusCode)
	}
	return &envelope.Data, nil
}
