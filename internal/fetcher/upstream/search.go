package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mapfolio/place-crawler/internal/place"
)

const searchQuery = `query getPlacesList($input: PlacesInput) {
  businesses: places(input: $input) {
    total
    items { id name category roadAddress address phone x y }
  }
}`

// SearchConfig controls the listing search client.
type SearchConfig struct {
	SearchURL string
	UserAgent string
	Referer   string
	Timeout   time.Duration
}

// SearchClient discovers candidate place ids from the provider's paged
// listing search. Results are identifier stubs, not full records.
type SearchClient struct {
	cfg    SearchConfig
	client *http.Client
}

// NewSearchClient builds a SearchClient.
func NewSearchClient(cfg SearchConfig, httpClient *http.Client) *SearchClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &SearchClient{cfg: cfg, client: httpClient}
}

type searchRequest struct {
	OperationName string          `json:"operationName"`
	Variables     searchVariables `json:"variables"`
	Query         string          `json:"query"`
}

type searchVariables struct {
	Input searchInput `json:"input"`
}

type searchInput struct {
	Query     string `json:"query"`
	Start     int    `json:"start"`
	Display   int    `json:"display"`
	Adult     bool   `json:"adult"`
	SPQ       bool   `json:"spq"`
	QueryRank string `json:"queryRank"`
	Bounds    string `json:"bounds,omitempty"`
}

type searchEnvelope struct {
	Data struct {
		Businesses struct {
			Total int `json:"total"`
			Items []struct {
				ID          string `json:"id"`
				Name        string `json:"name"`
				Category    string `json:"category"`
				RoadAddress string `json:"roadAddress"`
				Address     string `json:"address"`
			} `json:"items"`
		} `json:"businesses"`
	} `json:"data"`
}

// Search returns up to display candidates matching the query, starting
// at the given 1-based offset. Display is capped upstream at 50.
func (c *SearchClient) Search(ctx context.Context, query string, start, display int) ([]place.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal([]searchRequest{{
		OperationName: "getPlacesList",
		Variables: searchVariables{Input: searchInput{
			Query:   query,
			Start:   start,
			Display: display,
			SPQ:     true,
		}},
		Query: searchQuery,
	}})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SearchURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.Referer != "" {
		req.Header.Set("Referer", c.cfg.Referer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post search request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side only

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &place.UpstreamError{StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	var envelopes []searchEnvelope
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		return nil, fmt.Errorf("decode search payload: %w", place.ErrMalformedPayload)
	}
	if len(envelopes) == 0 {
		return nil, nil
	}

	items := envelopes[0].Data.Businesses.Items
	out := make([]place.Candidate, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		addr := it.RoadAddress
		if addr == "" {
			addr = it.Address
		}
		out = append(out, place.Candidate{
			ID:       it.ID,
			Name:     it.Name,
			Category: it.Category,
			Address:  addr,
		})
	}
	return out, nil
}
