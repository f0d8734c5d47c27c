// Copyright 2025, 2026 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/novatechflow/topicview/pkg/window"
)

var (
	// ErrNotFound is returned when the console does not know the topic.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the console rejects the credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client reads topic pages from a remote console. It implements
// window.PageReader and window.PartitionStore, so a windowing session can run
// on top of another console instance.
type Client struct {
	base     *url.URL
	http     *http.Client
	username string
	password string

	loginMu  sync.Mutex
	loggedIn bool
}

// NewClient validates cfg and builds a client with its own cookie jar.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid console url %q", cfg.BaseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:     base,
		http:     &http.Client{Timeout: timeout, Jar: jar},
		username: cfg.Username,
		password: cfg.Password,
	}, nil
}

// Topics lists the topics the console knows.
func (c *Client) Topics(ctx context.Context) ([]string, error) {
	var topics []string
	if err := c.get(ctx, "/ui/api/topics", nil, &topics); err != nil {
		return nil, err
	}
	return topics, nil
}

// Partitions implements window.PartitionStore.
func (c *Client) Partitions(ctx context.Context, topic string) ([]window.Partition, error) {
	resp, err := c.partitions(ctx, topic, "")
	if err != nil {
		return nil, err
	}
	out := make([]window.Partition, 0, len(resp.Partitions))
	for _, p := range resp.Partitions {
		out = append(out, window.Partition{ID: p.ID, StartOffset: p.StartOffset.Int64(), EndOffset: p.EndOffset.Int64()})
	}
	return out, nil
}

// ConsumerOffsets returns the committed offsets the console reports for group.
func (c *Client) ConsumerOffsets(ctx context.Context, group, topic string) (map[string]int64, error) {
	resp, err := c.partitions(ctx, topic, group)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, p := range resp.Partitions {
		if p.CommittedOffset != nil {
			out[p.ID] = p.CommittedOffset.Int64()
		}
	}
	return out, nil
}

func (c *Client) partitions(ctx context.Context, topic, consumer string) (*PartitionsResponse, error) {
	q := url.Values{}
	if consumer != "" {
		q.Set("consumer", consumer)
	}
	var resp PartitionsResponse
	if err := c.get(ctx, "/ui/api/topics/"+url.PathEscape(topic)+"/partitions", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReadPage implements window.PageReader.
func (c *Client) ReadPage(ctx context.Context, req window.ReadRequest) (*window.ReadResponse, error) {
	q := url.Values{}
	q.Set("partition", req.Partition)
	q.Set("limit", strconv.Itoa(req.Limit))
	if req.ReadTimestamp != 0 {
		q.Set("read_timestamp", strconv.FormatInt(req.ReadTimestamp, 10))
	} else {
		q.Set("offset", strconv.FormatInt(req.Offset, 10))
	}
	var resp DataResponse
	if err := c.get(ctx, "/ui/api/topics/"+url.PathEscape(req.Topic)+"/data", q, &resp); err != nil {
		return nil, err
	}
	return resp.ReadResponse(), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	status, body, err := c.do(ctx, path, query)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized && c.username != "" {
		c.loginMu.Lock()
		c.loggedIn = false
		c.loginMu.Unlock()
		status, body, err = c.do(ctx, path, query)
		if err != nil {
			return err
		}
	}
	switch {
	case status == http.StatusOK:
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, path)
	default:
		return fmt.Errorf("console request %s failed: %d %s", path, status, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, query url.Values) (int, []byte, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return 0, nil, err
	}
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) ensureLogin(ctx context.Context) error {
	if c.username == "" {
		return nil
	}
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.loggedIn {
		return nil
	}
	payload, err := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	if err != nil {
		return err
	}
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/ui/api/auth/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("console login failed: %s", resp.Status)
	}
	c.loggedIn = true
	return nil
}
