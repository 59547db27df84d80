package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ErrMissingCredential is a configuration error: the catalog cannot be
// queried without a bearer token.
var ErrMissingCredential = errors.New("catalog credential missing: set ASF_API_TOKEN")

// Client queries the ASF search API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, httpClient *http.Client) (*Client, error) {
	if token == "" {
		return nil, ErrMissingCredential
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(err, "parse catalog url")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: baseURL, token: token, http: httpClient}, nil
}

type searchResponse struct {
	Results []Product `json:"results"`
}

func (c *Client) Query(ctx context.Context, q Query) ([]Product, error) {
	params := url.Values{}
	params.Set("platform", q.Platform)
	params.Set("processingLevel", q.ProcessingLevel)
	params.Set("beamMode", q.BeamMode)
	params.Set("bbox", q.Area.String())
	params.Set("start", q.Start.UTC().Format(time.RFC3339))
	params.Set("end", q.End.UTC().Format(time.RFC3339))
	params.Set("output", "jsonlite")
	if q.FlightDirection != "" {
		params.Set("flightDirection", q.FlightDirection)
	}
	if q.Polarization != "" {
		params.Set("polarization", q.Polarization)
	}
	if q.MaxResults > 0 {
		params.Set("maxResults", strconv.Itoa(q.MaxResults))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build catalog request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "catalog query")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("catalog query failed with status %d: %s", resp.StatusCode, body)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode catalog response")
	}
	if out.Results == nil {
		out.Results = []Product{}
	}
	return out.Results, nil
}
