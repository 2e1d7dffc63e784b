// Package control talks to the HTTP control server running inside a desktop
// environment. The server exposes screenshot capture, shell execution, file
// transfer, and launch endpoints; every ready environment runs one.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// Client is an HTTP client bound to one environment's control server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the control server at addr:port.
func NewClient(addr string, port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", addr, port),
		http: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// NewClientURL creates a client from a full base URL. Useful when the
// server address is already assembled, e.g. against a test server.
func NewClientURL(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// BaseURL returns the server root this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Probe checks that the control server is answering. Used by providers to
// decide when a booting environment is ready.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/terminal", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("probing control server: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control server probe returned %d", resp.StatusCode)
	}
	return nil
}

// Screenshot captures the current screen and returns raw PNG bytes. The
// capture does not mutate guest state.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/screenshot", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("screenshot returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// A11yTree fetches the accessibility tree of the current desktop.
func (c *Client) A11yTree(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/accessibility", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching accessibility tree: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("accessibility returned %d", resp.StatusCode)
	}
	var body struct {
		AT string `json:"AT"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding accessibility tree: %w", err)
	}
	return body.AT, nil
}

// ExecResult is the guest's report of one executed command.
type ExecResult struct {
	Status     string `json:"status"`
	Output     string `json:"output"`
	Error      string `json:"error"`
	ReturnCode int    `json:"returncode"`
}

// OK reports whether the command ran and exited zero.
func (r ExecResult) OK() bool {
	return r.Status == "success" && r.ReturnCode == 0
}

// Execute runs a shell command inside the guest and waits for it.
func (c *Client) Execute(ctx context.Context, command string) (*ExecResult, error) {
	payload, err := json.Marshal(map[string]any{
		"command": command,
		"shell":   true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing command: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("execute returned %d", resp.StatusCode)
	}

	var result ExecResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding execute result: %w", err)
	}

	slog.Debug("guest command executed",
		"status", result.Status,
		"returncode", result.ReturnCode)

	return &result, nil
}

// ExecutePython runs a python snippet inside the guest. Agent-issued GUI
// actions (pyautogui scripts) go through here.
func (c *Client) ExecutePython(ctx context.Context, code string) (*ExecResult, error) {
	payload, err := json.Marshal(map[string]any{
		"command": []string{"python3", "-c", code},
		"shell":   false,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing python: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("execute returned %d", resp.StatusCode)
	}

	var result ExecResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding execute result: %w", err)
	}
	return &result, nil
}

// Upload writes content to path inside the guest.
func (c *Client) Upload(ctx context.Context, path string, content []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("file_path", path); err != nil {
		return err
	}
	part, err := w.CreateFormFile("file_data", "upload")
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/setup/upload", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload returned %d", resp.StatusCode)
	}
	return nil
}

// Download reads the file at path inside the guest.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	u := c.baseURL + "/file?file_path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("file not found in guest: %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Launch starts a desktop application inside the guest without waiting for
// it to exit.
func (c *Client) Launch(ctx context.Context, command string) error {
	payload, err := json.Marshal(map[string]any{
		"command": command,
		"shell":   true,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/setup/launch", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("launching %q: %w", command, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("launch returned %d", resp.StatusCode)
	}
	return nil
}
