// Package remote provides the client for the authoritative remote store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/models"
)

// Client is the remote system as seen by the synchronizer. Create calls
// return the canonical record, which may carry a server-assigned id.
type Client interface {
	FetchTasks(ctx context.Context) ([]models.Task, error)
	FetchFolders(ctx context.Context) ([]models.Folder, error)
	CreateTask(ctx context.Context, task models.Task) (models.Task, error)
	UpdateTask(ctx context.Context, task models.Task) (models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	CreateFolder(ctx context.Context, folder models.Folder) (models.Folder, error)
	UpdateFolder(ctx context.Context, folder models.Folder) (models.Folder, error)
	DeleteFolder(ctx context.Context, id string, withTasks bool) error
}

// HTTPClient implements Client over JSON/HTTP.
type HTTPClient struct {
	baseURL    string
	credential string
	http       *http.Client
}

// NewHTTPClient creates a client for baseURL. credential is sent as a bearer
// token; timeout bounds each request in addition to the caller's context.
func NewHTTPClient(baseURL, credential string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		http:       &http.Client{Timeout: timeout},
	}
}

// FetchTasks implements Client.
func (c *HTTPClient) FetchTasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// FetchFolders implements Client.
func (c *HTTPClient) FetchFolders(ctx context.Context) ([]models.Folder, error) {
	var folders []models.Folder
	if err := c.do(ctx, http.MethodGet, "/folders", nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// CreateTask implements Client.
func (c *HTTPClient) CreateTask(ctx context.Context, task models.Task) (models.Task, error) {
	created := task
	if err := c.do(ctx, http.MethodPost, "/tasks", task.Remote(), &created); err != nil {
		return models.Task{}, err
	}
	return created, nil
}

// UpdateTask implements Client.
func (c *HTTPClient) UpdateTask(ctx context.Context, task models.Task) (models.Task, error) {
	updated := task
	if err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(task.ID), task.Remote(), &updated); err != nil {
		return models.Task{}, err
	}
	return updated, nil
}

// DeleteTask implements Client.
func (c *HTTPClient) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
}

// CreateFolder implements Client.
func (c *HTTPClient) CreateFolder(ctx context.Context, folder models.Folder) (models.Folder, error) {
	created := folder
	if err := c.do(ctx, http.MethodPost, "/folders", folder.Remote(), &created); err != nil {
		return models.Folder{}, err
	}
	return created, nil
}

// UpdateFolder implements Client.
func (c *HTTPClient) UpdateFolder(ctx context.Context, folder models.Folder) (models.Folder, error) {
	updated := folder
	if err := c.do(ctx, http.MethodPut, "/folders/"+url.PathEscape(folder.ID), folder.Remote(), &updated); err != nil {
		return models.Folder{}, err
	}
	return updated, nil
}

// DeleteFolder implements Client.
func (c *HTTPClient) DeleteFolder(ctx context.Context, id string, withTasks bool) error {
	path := "/folders/" + url.PathEscape(id)
	if withTasks {
		path += "?withTasks=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// do sends one request. A response body is decoded into out when both are
// present; an empty body leaves out untouched.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return apperrors.Newf(apperrors.ErrRemote, "%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Wrap(apperrors.ErrRemote, "decode response", err)
	}
	return nil
}
