package api

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
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client wraps HTTP calls to the QRShare backend.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a Client for a backend base URL (e.g. http://localhost:8080).
// Requests carry trace context; no timeout is set beyond the transport defaults.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// APIError is returned when the server sends a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the backend
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the backend
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}

func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.doJSON(req, out)
}

// Get sends a GET request and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

// Post sends a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.sendJSON(ctx, http.MethodPost, path, body, out)
}

// Patch sends a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.sendJSON(ctx, http.MethodPatch, path, body, out)
}

// UploadRequest describes one call of the upload-file function
type UploadRequest struct {
	TransferID string
	DeviceID   string
	ChunkSize  int64
	FileName   string
	Body       io.Reader
}

// UploadResult is the upload-file success body
type UploadResult struct {
	TransferID  string `json:"transfer_id"`
	FileURL     string `json:"file_url"`
	FileSize    int64  `json:"file_size"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	Message     string `json:"message"`
}

// UploadFile streams a multipart upload to the upload-file function.
func (c *Client) UploadFile(ctx context.Context, in UploadRequest) (*UploadResult, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		fields := [][2]string{
			{"transferId", in.TransferID},
			{"deviceId", in.DeviceID},
			{"chunkSize", strconv.FormatInt(in.ChunkSize, 10)},
		}
		for _, f := range fields {
			if err := writer.WriteField(f[0], f[1]); err != nil {
				pw.CloseWithError(err)
				return
			}
		}

		part, err := writer.CreateFormFile("file", in.FileName)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, in.Body); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/functions/v1/upload-file", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out UploadResult
	if err := c.doJSON(req, &out); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return &out, nil
}

// DownloadFile opens the raw bytes of a transfer. The caller closes the body.
func (c *Client) DownloadFile(ctx context.Context, transferID, deviceID string) (io.ReadCloser, int64, error) {
	params := url.Values{"transferId": {transferID}, "deviceId": {deviceID}}
	req, err := c.newRequest(ctx, http.MethodGet, "/functions/v1/download-file?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, 0, readAPIError(resp)
	}
	return resp.Body, resp.ContentLength, nil
}
