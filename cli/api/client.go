package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"apkforge/api/model"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type ServiceHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

type HealthStatus struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Services  []ServiceHealth `json:"services"`
}

type BuildStarted struct {
	Message string `json:"message"`
	BuildID string `json:"buildId"`
}

type BatchStarted struct {
	Message     string `json:"message"`
	BatchID     string `json:"batchId"`
	TotalBuilds int    `json:"totalBuilds"`
}

type PendingFile struct {
	Name             string `json:"name"`
	RemainingMinutes int    `json:"remainingMinutes"`
	Size             int64  `json:"size"`
}

type CleanupStatus struct {
	PendingCount int           `json:"pendingCount"`
	Files        []PendingFile `json:"files"`
	NextCleanup  *time.Time    `json:"nextCleanup"`
}

type CleanupResult struct {
	Cleaned   int `json:"cleaned"`
	Remaining int `json:"remaining"`
}

// BuildParams are the form fields of a single build request.
type BuildParams struct {
	AppName   string
	AppURL    string
	IconPath  string
	APKPrefix string
}

// BatchTarget mirrors one entry of the batch urls array.
type BatchTarget struct {
	URL       string `json:"url"`
	FBPixelID string `json:"fbPixelId,omitempty"`
}

type BatchParams struct {
	AppName   string
	APKPrefix string
	Targets   []BatchTarget
	IconPath  string
}

func (c *Client) Health() (*HealthStatus, error) {
	var h HealthStatus
	if err := c.get("/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Validate() (*model.ValidationResult, error) {
	var r model.ValidationResult
	if err := c.get("/api/validate", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Version() (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.get("/api/version", &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

func (c *Client) BuildStatus() (*model.BuildStatus, error) {
	var st model.BuildStatus
	if err := c.get("/api/build/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) StartBuild(p BuildParams) (*BuildStarted, error) {
	fields := map[string]string{
		"appName": p.AppName,
		"appUrl":  p.AppURL,
	}
	if p.APKPrefix != "" {
		fields["apkPrefix"] = p.APKPrefix
	}
	var out BuildStarted
	if err := c.upload("/api/build", fields, p.IconPath, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartBatch(p BatchParams) (*BatchStarted, error) {
	urls, err := json.Marshal(p.Targets)
	if err != nil {
		return nil, err
	}
	fields := map[string]string{
		"appName": p.AppName,
		"urls":    string(urls),
	}
	if p.APKPrefix != "" {
		fields["apkPrefix"] = p.APKPrefix
	}
	var out BatchStarted
	if err := c.upload("/api/batch-build", fields, p.IconPath, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BatchStatus(id string) (*model.BatchStatus, error) {
	var st model.BatchStatus
	if err := c.get("/api/batch-build/status/"+url.PathEscape(id), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) ListBatches() ([]model.BatchSummary, error) {
	var list []model.BatchSummary
	if err := c.get("/api/batch-build", &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) CleanupStatus() (*CleanupStatus, error) {
	var st CleanupStatus
	if err := c.get("/api/cleanup/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) ForceCleanup() (*CleanupResult, error) {
	var res CleanupResult
	if err := c.post("/api/cleanup", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Download fetches an artifact by name into dir and returns the written path.
// The server-suggested filename wins when present.
func (c *Client) Download(ctx context.Context, name, dir string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/download/"+url.PathEscape(name), nil)
	if err != nil {
		return "", 0, err
	}
	// artifacts can be large; rely on ctx instead of the client timeout
	hc := *c.HTTPClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, httpError(resp)
	}

	filename := filepath.Base(name)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = filepath.Base(params["filename"])
	}
	dest := filepath.Join(dir, filename)
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", 0, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", 0, err
	}
	return dest, n, nil
}

func (c *Client) WebSocketURL() string {
	base := c.BaseURL
	base = strings.Replace(base, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	return base + "/ws"
}

func (c *Client) get(path string, v any) error {
	resp, err := c.HTTPClient.Get(c.BaseURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(path string, v any) error {
	resp, err := c.HTTPClient.Post(c.BaseURL+path, "application/json", strings.NewReader("{}"))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return httpError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// upload posts a multipart form with the given fields and the file at
// iconPath under the "icon" field.
func (c *Client) upload(path string, fields map[string]string, iconPath string, v any) error {
	icon, err := os.Open(iconPath)
	if err != nil {
		return err
	}
	defer icon.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, val := range fields {
		if err := mw.WriteField(k, val); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("icon", filepath.Base(iconPath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, icon); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := c.HTTPClient.Post(c.BaseURL+path, mw.FormDataContentType(), &body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return httpError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

func httpError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(b))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}
