package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"supporterhub/internal/ingestion"
	id "supporterhub/pkg/domain"
	dErrors "supporterhub/pkg/domain-errors"
)

const maxResponseBytes = 10 << 20

// HTTPClient reads a source's change feed from a connector endpoint that
// serves `GET {base}/changes?since=<RFC3339>` as `{"messages": [...]}`.
type HTTPClient struct {
	source  id.SourceSystem
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(source id.SourceSystem, baseURL, token string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{source: source, baseURL: baseURL, token: token, http: httpClient}
}

func (c *HTTPClient) Source() id.SourceSystem { return c.source }

type feedResponse struct {
	Messages []ingestion.Message `json:"messages"`
}

func (c *HTTPClient) FetchSince(ctx context.Context, since time.Time) ([]ingestion.Message, error) {
	endpoint := c.baseURL + "/changes?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	var resp feedResponse
	if err := doJSON(ctx, c.http, http.MethodGet, endpoint, c.token, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch %s changes: %w", c.source, err)
	}
	return resp.Messages, nil
}

// HTTPAudienceClient talks to an audience connector serving member tags at
// `{base}/audiences/{audience}/members/{member}/tags`.
type HTTPAudienceClient struct {
	system  id.SourceSystem
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPAudienceClient(system id.SourceSystem, baseURL, token string, httpClient *http.Client) *HTTPAudienceClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPAudienceClient{system: system, baseURL: baseURL, token: token, http: httpClient}
}

func (c *HTTPAudienceClient) System() id.SourceSystem { return c.system }

func (c *HTTPAudienceClient) tagsURL(audienceID, memberID string) string {
	return fmt.Sprintf("%s/audiences/%s/members/%s/tags", c.baseURL, url.PathEscape(audienceID), url.PathEscape(memberID))
}

type tagsResponse struct {
	Tags []string `json:"tags"`
}

type tagsUpdate struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

func (c *HTTPAudienceClient) CurrentTags(ctx context.Context, audienceID, memberID string) ([]string, error) {
	var resp tagsResponse
	if err := doJSON(ctx, c.http, http.MethodGet, c.tagsURL(audienceID, memberID), c.token, nil, &resp); err != nil {
		return nil, fmt.Errorf("read %s tags: %w", c.system, err)
	}
	return resp.Tags, nil
}

func (c *HTTPAudienceClient) UpdateTags(ctx context.Context, audienceID, memberID string, add, remove []string) error {
	body := tagsUpdate{Add: add, Remove: remove}
	if err := doJSON(ctx, c.http, http.MethodPost, c.tagsURL(audienceID, memberID), c.token, body, nil); err != nil {
		return fmt.Errorf("update %s tags: %w", c.system, err)
	}
	return nil
}

// doJSON performs one request and classifies failures: transport errors,
// 429 and 5xx are unavailable; other non-2xx statuses are invalid input;
// undecodable bodies are malformed.
func doJSON(ctx context.Context, client *http.Client, method, endpoint, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, "encode request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := client.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "request failed")
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("upstream returned %d", res.StatusCode))
	case res.StatusCode >= 300:
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("upstream returned %d", res.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeMalformedMessage, "decode response")
	}
	return nil
}
