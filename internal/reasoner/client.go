// Package reasoner provides a client for the remote classification service.
package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// ErrCommunication indicates the remote service could not be reached or answered with an error.
// The job itself is not known to have failed.
var ErrCommunication = errors.New("remote classification service communication failure")

// Client talks to the remote reasoner.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Status(ctx context.Context, jobID string) (StatusResponse, error)
	DownloadResults(ctx context.Context, jobID string) (io.ReadCloser, error)
}

// SubmitRequest carries everything the reasoner needs to start a job.
type SubmitRequest struct {
	PreviousPackage   string
	DependencyPackage string
	Path              string
	ReasonerID        string
	Delta             io.Reader
	DeltaName         string
}

// StatusResponse is the remote view of a job.
type StatusResponse struct {
	Status           string `json:"status"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
	DeveloperMessage string `json:"developerMessage,omitempty"`
}

// Config configures the HTTP client.
type Config struct {
	URL      string
	Username string
	Password string
	// Timeout bounds submit and status calls. Result downloads are bounded by
	// the caller's context only, so large archives are not cut off.
	Timeout time.Duration
}

// HTTPClient is a Client backed by the reasoner's REST API.
type HTTPClient struct {
	baseURL    string
	username   string
	password   string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a new HTTP reasoner client.
// If cfg.URL is empty, uses SNOWCLASS_REASONER_URL or defaults to localhost:8089.
func New(cfg Config) *HTTPClient {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = os.Getenv("SNOWCLASS_REASONER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8089/classification-service"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &HTTPClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// Submit uploads a delta archive and returns the remote job id.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"previousPackage":   req.PreviousPackage,
		"dependencyPackage": req.DependencyPackage,
		"branch":            req.Path,
		"reasonerId":        req.ReasonerID,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return "", fmt.Errorf("write field %s: %w", name, err)
		}
	}

	name := req.DeltaName
	if name == "" {
		name = "delta.zip"
	}
	part, err := mw.CreateFormFile("rf2Delta", name)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, req.Delta); err != nil {
		return "", fmt.Errorf("copy delta: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/classifications", &body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if loc := resp.Header.Get("Location"); loc != "" {
		if u, err := url.Parse(loc); err == nil {
			if id := path.Base(u.Path); id != "" && id != "/" && id != "." {
				return id, nil
			}
		}
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil || created.ID == "" {
		return "", fmt.Errorf("%w: response carried no job id", ErrCommunication)
	}
	return created.ID, nil
}

// Status fetches the current remote status of a job.
func (c *HTTPClient) Status(ctx context.Context, jobID string) (StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/classifications/"+url.PathEscape(jobID), nil)
	if err != nil {
		return StatusResponse{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return StatusResponse{}, err
	}
	defer resp.Body.Close()

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return StatusResponse{}, fmt.Errorf("%w: decode status: %v", ErrCommunication, err)
	}
	return status, nil
}

// DownloadResults streams the result archive of a completed job.
// The caller must close the returned reader.
func (c *HTTPClient) DownloadResults(ctx context.Context, jobID string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/classifications/"+url.PathEscape(jobID)+"/results/rf2", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/zip")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

// do executes req and converts transport failures and non-2xx answers into ErrCommunication.
func (c *HTTPClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrCommunication, req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s: %s - %s", ErrCommunication, req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(body)))
	}
	return resp, nil
}
