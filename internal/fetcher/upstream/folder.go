package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mapfolio/place-crawler/internal/place"
)

var (
	shareIDPattern   = regexp.MustCompile(`^[a-zA-Z0-9]{32}$`)
	sharesPathRegexp = regexp.MustCompile(`shares/([a-zA-Z0-9]+)`)
	folderPathRegexp = regexp.MustCompile(`folder/([a-zA-Z0-9]+)`)
)

// FolderConfig controls the shared-folder listing client.
type FolderConfig struct {
	// FolderURL is a template whose single %s slot receives the share id.
	FolderURL string
	UserAgent string
	Timeout   time.Duration
}

// FolderClient resolves share ids and fetches shared-folder listings.
type FolderClient struct {
	cfg    FolderConfig
	client *http.Client
}

// NewFolderClient builds a FolderClient. The client must follow
// redirects; short-link resolution depends on it.
func NewFolderClient(cfg FolderConfig, httpClient *http.Client) *FolderClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &FolderClient{cfg: cfg, client: httpClient}
}

// ResolveShareID extracts the 32-character share id from a raw id, a
// full share URL, or a short link. Short links are resolved by
// following their redirect and extracting from the final URL.
func (c *FolderClient) ResolveShareID(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", place.ErrInvalidShareID
	}

	if strings.Contains(input, "naver.me") {
		resolved, err := c.followShortLink(ctx, input)
		if err != nil {
			return "", fmt.Errorf("resolve short link: %w", err)
		}
		input = resolved
	}

	id := extractShareID(input)
	if !shareIDPattern.MatchString(id) {
		return "", place.ErrInvalidShareID
	}
	return id, nil
}

func (c *FolderClient) followShortLink(ctx context.Context, link string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if !strings.HasPrefix(link, "http") {
		link = "https://" + link
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck // read side only
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	// The final URL after redirects carries the share path.
	return resp.Request.URL.String(), nil
}

func extractShareID(input string) string {
	if m := sharesPathRegexp.FindStringSubmatch(input); m != nil {
		return m[1]
	}
	if m := folderPathRegexp.FindStringSubmatch(input); m != nil {
		return m[1]
	}
	return strings.TrimSpace(input)
}

type folderEnvelope struct {
	Folder struct {
		Name string `json:"name"`
	} `json:"folder"`
	BookmarkList []struct {
		Type             string `json:"type"`
		SID              string `json:"sid"`
		Name             string `json:"name"`
		Address          string `json:"address"`
		Category         string `json:"category"`
		BusinessCategory string `json:"businessCategory"`
	} `json:"bookmarkList"`
}

// Fetch retrieves a shared folder's listing, keeping only place-typed
// bookmarks. Other bookmark kinds (routes, buses) are dropped here.
func (c *FolderClient) Fetch(ctx context.Context, shareID string) (place.FolderListing, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf(c.cfg.FolderURL, shareID) + "?start=0&limit=5000&sort=lastUseTime&createIdNo=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return place.FolderListing{}, fmt.Errorf("build folder request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return place.FolderListing{}, fmt.Errorf("get folder listing: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side only

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return place.FolderListing{}, &place.UpstreamError{StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return place.FolderListing{}, fmt.Errorf("read folder listing: %w", err)
	}

	var envelope folderEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return place.FolderListing{}, fmt.Errorf("decode folder listing: %w", place.ErrMalformedPayload)
	}

	listing := place.FolderListing{Name: envelope.Folder.Name}
	for _, b := range envelope.BookmarkList {
		if b.Type != "place" || b.SID == "" {
			continue
		}
		category := b.Category
		if category == "" {
			category = b.BusinessCategory
		}
		listing.Bookmarks = append(listing.Bookmarks, place.Bookmark{
			Type:     b.Type,
			ID:       b.SID,
			Name:     b.Name,
			Category: category,
			Address:  b.Address,
		})
	}
	return listing, nil
}
