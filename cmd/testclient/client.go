package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dasmlab/fukidashi/pkg/server"
	"github.com/dasmlab/fukidashi/pkg/service"
)

// client is a thin wrapper over the server's HTTP API.
type client struct {
	base string
	key  string
	http *http.Client
}

func newClient() *client {
	return &client{
		base: strings.TrimRight(serverAddr, "/"),
		key:  providerKey,
		http: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-Request-ID", uuid.New().String())
	if c.key != "" {
		req.Header.Set("X-Provider-Key", c.key)
	}

	logger.WithFields(logrus.Fields{
		"method":     req.Method,
		"url":        req.URL.String(),
		"request_id": req.Header.Get("X-Request-ID"),
	}).Debug("Sending request")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()

		var body struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &body) != nil || body.Error == "" {
			body.Error = strings.TrimSpace(string(data))
		}
		return nil, fmt.Errorf("%s: %s", resp.Status, body.Error)
	}

	return resp, nil
}

func (c *client) postJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}

// postImage uploads path as the multipart "file" field. The returned
// body must be closed by the caller.
func (c *client) postImage(ctx context.Context, path, imagePath string, query url.Values) (io.ReadCloser, error) {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(image); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path+"?"+query.Encode(), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *client) get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer body.Close()

	return json.NewDecoder(body).Decode(out)
}

func (c *client) translate(ctx context.Context, req server.TranslateRequest) (*server.TranslateResponse, error) {
	var out server.TranslateResponse
	if err := c.postJSON(ctx, "/api/v1/translate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) job(ctx context.Context, id string) (*service.JobSnapshot, error) {
	var out service.JobSnapshot
	if err := c.getJSON(ctx, "/api/v1/jobs/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// follow reads the job's event stream and calls fn for each event until
// the stream ends.
func (c *client) follow(ctx context.Context, id string, fn func(service.JobSnapshot)) error {
	body, err := c.get(ctx, "/api/v1/jobs/"+url.PathEscape(id)+"/events")
	if err != nil {
		return err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}

		var snap service.JobSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fn(snap)
	}

	return scanner.Err()
}
