package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"hsexport/internal/config"
	"hsexport/internal/logging"
	"hsexport/internal/metrics"
	"hsexport/internal/model"
)

const (
	endpointDeals        = "deals_list"
	endpointAssociations = "associations_list"
	endpointBatchRead    = "batch_read"

	associationPageSize = 500
)

// Credentials supplies the bearer token. It is consulted on every request attempt,
// so a refresh made elsewhere is picked up without touching the client.
type Credentials interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (s StaticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

// Client defines the CRM calls the exporter uses.
type Client interface {
	ListDeals(ctx context.Context, after string, limit int, properties, associations []string) (DealPage, error)
	ListAssociations(ctx context.Context, dealID string, toType string) ([]model.AssociationRef, error)
	BatchRead(ctx context.Context, objectType string, ids, properties []string) ([]json.RawMessage, error)
}

// DealPage is one page of the deals list. NextAfter is empty on the last page.
type DealPage struct {
	Deals     []model.Deal
	NextAfter string
}

// HTTPClient talks to the HubSpot CRM REST API.
type HTTPClient struct {
	baseURL     string
	creds       Credentials
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
}

func NewHTTPClient(baseURL string, creds Credentials, cfg config.APIConfig) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	backoff := time.Duration(cfg.BaseBackoffMS) * time.Millisecond
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		creds:       creds,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     newLimiter(cfg),
		maxAttempts: maxAttempts,
		baseBackoff: backoff,
	}
}

func (c *HTTPClient) auth(ctx context.Context, req *http.Request) error {
	if c.creds != nil {
		tok, err := c.creds.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("access token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	req.Header.Set("Accept", "application/json")
	return nil
}

type paging struct {
	Next *struct {
		After string `json:"after"`
		Link  string `json:"link"`
	} `json:"next"`
}

func (p *paging) after() string {
	if p == nil || p.Next == nil {
		return ""
	}
	return p.Next.After
}

func (c *HTTPClient) ListDeals(ctx context.Context, after string, limit int, properties, associations []string) (DealPage, error) {
	var out DealPage
	q := url.Values{}
	q.Set("limit", strconv.Itoa(clamp(limit, 1, config.MaxBatchSize)))
	if after != "" {
		q.Set("after", after)
	}
	if len(properties) > 0 {
		q.Set("properties", strings.Join(properties, ","))
	}
	if len(associations) > 0 {
		q.Set("associations", strings.Join(associations, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/crm/v3/objects/deals?"+q.Encode(), nil)
	if err != nil {
		return out, err
	}
	var raw struct {
		Results []model.Deal `json:"results"`
		Paging  *paging      `json:"paging"`
	}
	if err := c.doJSON(ctx, endpointDeals, req, &raw); err != nil {
		return out, err
	}
	out.Deals = raw.Results
	out.NextAfter = raw.Paging.after()
	return out, nil
}

// objectID accepts both the numeric ids of the v4 API and quoted ids.
type objectID string

func (o *objectID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*o = objectID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("object id %s: %w", b, err)
	}
	*o = objectID(n.String())
	return nil
}

// ListAssociations returns every association from a deal to objects of toType, following paging.
func (c *HTTPClient) ListAssociations(ctx context.Context, dealID string, toType string) ([]model.AssociationRef, error) {
	if dealID == "" {
		return nil, errors.New("empty deal id")
	}
	refs := []model.AssociationRef{}
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(associationPageSize))
		if after != "" {
			q.Set("after", after)
		}
		u := fmt.Sprintf("%s/crm/v4/objects/deals/%s/associations/%s?%s", c.baseURL, url.PathEscape(dealID), url.PathEscape(toType), q.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		var raw struct {
			Results []struct {
				ToObjectID       objectID                `json:"toObjectId"`
				AssociationTypes []model.AssociationType `json:"associationTypes"`
			} `json:"results"`
			Paging *paging `json:"paging"`
		}
		if err := c.doJSON(ctx, endpointAssociations, req, &raw); err != nil {
			return nil, err
		}
		for _, r := range raw.Results {
			refs = append(refs, model.AssociationRef{
				FromObjectID: dealID,
				ToObjectID:   string(r.ToObjectID),
				Types:        r.AssociationTypes,
			})
		}
		next := raw.Paging.after()
		if next == "" || next == after {
			return refs, nil
		}
		after = next
	}
}

// BatchRead resolves up to 100 ids of objectType. Results are returned verbatim.
// A 207 multi-status response is a success; its per-id errors are only logged.
func (c *HTTPClient) BatchRead(ctx context.Context, objectType string, ids, properties []string) ([]json.RawMessage, error) {
	if len(ids) == 0 {
		return []json.RawMessage{}, nil
	}
	if len(ids) > config.MaxBatchSize {
		return nil, fmt.Errorf("batch read of %d ids exceeds %d", len(ids), config.MaxBatchSize)
	}
	type input struct {
		ID string `json:"id"`
	}
	body := struct {
		Properties []string `json:"properties"`
		Inputs     []input  `json:"inputs"`
	}{Properties: properties, Inputs: make([]input, 0, len(ids))}
	if body.Properties == nil {
		body.Properties = []string{}
	}
	for _, id := range ids {
		body.Inputs = append(body.Inputs, input{ID: id})
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/crm/v3/objects/%s/batch/read", c.baseURL, url.PathEscape(objectType))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var raw struct {
		Status    string            `json:"status"`
		Results   []json.RawMessage `json:"results"`
		NumErrors int               `json:"numErrors"`
	}
	status, err := c.doJSONStatus(ctx, endpointBatchRead, req, &raw)
	if err != nil {
		return nil, err
	}
	if status == http.StatusMultiStatus {
		logging.Warn("batch_read_partial", map[string]any{"type": objectType, "requested": len(ids), "returned": len(raw.Results), "errors": raw.NumErrors})
	}
	if raw.Results == nil {
		raw.Results = []json.RawMessage{}
	}
	return raw.Results, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, endpoint string, req *http.Request, out any) error {
	_, err := c.doJSONStatus(ctx, endpoint, req, out)
	return err
}

func (c *HTTPClient) doJSONStatus(ctx context.Context, endpoint string, req *http.Request, out any) (int, error) {
	resp, err := c.doWithRetry(ctx, endpoint, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkResponse(endpoint, resp); err != nil {
		return resp.StatusCode, err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Kind: KindTransport, Endpoint: endpoint, Message: "decode response", Err: err}
	}
	return resp.StatusCode, nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// doWithRetry sends req, retrying network errors, 429 and 5xx with exponential backoff.
// Retry-After is honored. The final 429/5xx response is returned to the caller for classification.
func (c *HTTPClient) doWithRetry(ctx context.Context, endpoint string, req *http.Request) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			metrics.IncAPIRetry(endpoint)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		r := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			r.Body = body
		}
		if err := c.auth(ctx, r); err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(r)
		if err == nil {
			metrics.IncAPIRequest(endpoint, resp.StatusCode)
			if retryable(resp.StatusCode) && attempt < c.maxAttempts {
				wait := retryWait(resp.Header.Get("Retry-After"), backoff)
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
				_ = resp.Body.Close()
				logging.Warn("api_retry", map[string]any{"endpoint": endpoint, "status": resp.StatusCode, "attempt": attempt, "wait_ms": wait.Milliseconds()})
				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}
				backoff *= 2
				continue
			}
			return resp, nil
		}
		metrics.IncAPIRequest(endpoint, 0)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if attempt < c.maxAttempts {
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}
	}
	return nil, &APIError{
		Kind:     KindTransport,
		Endpoint: endpoint,
		Message:  fmt.Sprintf("request failed after %d attempts", c.maxAttempts),
		Err:      lastErr,
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func retryWait(retryAfter string, backoff time.Duration) time.Duration {
	wait := backoff
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(secs) * time.Second
		} else if t, err := http.ParseTime(retryAfter); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	// jitter +/-20%
	jitter := time.Duration(float64(wait) * 0.2)
	if jitter > 0 {
		wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
	}
	return wait
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
