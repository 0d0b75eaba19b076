// Package upstream implements HTTP clients for the place provider's
// GraphQL detail API and shared-folder listing API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mapfolio/place-crawler/internal/metrics"
	"github.com/mapfolio/place-crawler/internal/place"
)

const maxPayloadBytes = 4 << 20

const detailQuery = `query getPlaceDetail($input: PlaceDetailInput) {
  placeDetail(input: $input) {
    shopWindow { homepages { etc { url } repr { url } } }
    informationTab { keywordList }
    paiUpperImage { images }
    themes
    staticMapUrl
    visitorReviewStats { id review { avgRating totalCount } }
    base {
      id name road category categoryCode categoryCodeList roadAddress
      paymentInfo conveniences address phone
      visitorReviewsTotal visitorReviewsScore
      menus { name price recommend description images }
      coordinate { x y }
    }
    images { images { origin } totalImages }
  }
}`

// Config controls detail client behavior.
type Config struct {
	DetailURL string
	UserAgent string
	Referer   string
	// Timeout bounds each individual attempt, not the whole retry loop.
	Timeout  time.Duration
	Schedule place.RetrySchedule
}

// DetailClient fetches and flattens single-place detail payloads.
type DetailClient struct {
	cfg    Config
	client *http.Client
}

// NewDetailClient builds a DetailClient. A nil httpClient falls back to
// a default client; the per-attempt timeout is enforced via context.
func NewDetailClient(cfg Config, httpClient *http.Client) *DetailClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Schedule.MaxAttempts == 0 {
		cfg.Schedule = place.DefaultRetrySchedule()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &DetailClient{cfg: cfg, client: httpClient}
}

type detailRequest struct {
	OperationName string          `json:"operationName"`
	Variables     detailVariables `json:"variables"`
	Query         string          `json:"query"`
}

type detailVariables struct {
	Input detailInput `json:"input"`
}

type detailInput struct {
	ID         string `json:"id"`
	DeviceType string `json:"deviceType"`
	IsNx       bool   `json:"isNx"`
}

// FetchDetail retrieves the raw detail payload for one place id,
// retrying transient failures per the configured schedule. The returned
// bytes are the unmodified response body so callers can archive it.
func (c *DetailClient) FetchDetail(ctx context.Context, id string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Schedule.MaxAttempts; attempt++ {
		raw, err := c.fetchOnce(ctx, id)
		if err == nil {
			metrics.ObserveFetchAttempt("success")
			return raw, nil
		}
		lastErr = err
		if !place.Retryable(err) {
			metrics.ObserveFetchAttempt("permanent")
			return nil, err
		}
		metrics.ObserveFetchAttempt("retryable")

		if attempt == c.cfg.Schedule.MaxAttempts {
			break
		}
		delay := c.cfg.Schedule.Delay(attempt)
		metrics.ObserveFetchBackoff(delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("fetch detail %s: attempts exhausted: %w", id, lastErr)
}

func (c *DetailClient) fetchOnce(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal([]detailRequest{{
		OperationName: "getPlaceDetail",
		Variables:     detailVariables{Input: detailInput{ID: id, DeviceType: "pcmap", IsNx: false}},
		Query:         detailQuery,
	}})
	if err != nil {
		return nil, fmt.Errorf("marshal detail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.DetailURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build detail request: %w", err)
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
		return nil, fmt.Errorf("post detail request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side only

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &place.UpstreamError{StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read detail response: %w", err)
	}
	return raw, nil
}

type detailEnvelope struct {
	Data struct {
		PlaceDetail *placeDetail `json:"placeDetail"`
	} `json:"data"`
}

type placeDetail struct {
	ShopWindow struct {
		Homepages struct {
			Etc  []homepageEntry `json:"etc"`
			Repr *homepageEntry  `json:"repr"`
		} `json:"homepages"`
	} `json:"shopWindow"`
	InformationTab struct {
		KeywordList []string `json:"keywordList"`
	} `json:"informationTab"`
	PaiUpperImage struct {
		Images []string `json:"images"`
	} `json:"paiUpperImage"`
	Themes             []string `json:"themes"`
	StaticMapURL       string   `json:"staticMapUrl"`
	VisitorReviewStats *struct {
		Review struct {
			AvgRating  float64 `json:"avgRating"`
			TotalCount int     `json:"totalCount"`
		} `json:"review"`
	} `json:"visitorReviewStats"`
	Base struct {
		ID                  string      `json:"id"`
		Name                string      `json:"name"`
		Road                string      `json:"road"`
		Category            string      `json:"category"`
		CategoryCode        string      `json:"categoryCode"`
		CategoryCodeList    []string    `json:"categoryCodeList"`
		RoadAddress         string      `json:"roadAddress"`
		PaymentInfo         []string    `json:"paymentInfo"`
		Conveniences        []string    `json:"conveniences"`
		Address             string      `json:"address"`
		Phone               string      `json:"phone"`
		VisitorReviewsTotal int         `json:"visitorReviewsTotal"`
		VisitorReviewsScore float64     `json:"visitorReviewsScore"`
		Menus               []menuEntry `json:"menus"`
		Coordinate          struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		} `json:"coordinate"`
	} `json:"base"`
	Images struct {
		Images []struct {
			Origin string `json:"origin"`
		} `json:"images"`
	} `json:"images"`
}

type homepageEntry struct {
	URL string `json:"url"`
}

type menuEntry struct {
	Name        string   `json:"name"`
	Price       string   `json:"price"`
	Recommend   bool     `json:"recommend"`
	Description string   `json:"description"`
	Images      []string `json:"images"`
}

// ParseDetail flattens a raw detail payload into a place row. A payload
// that decodes but lacks the detail object is malformed, not transient.
func (c *DetailClient) ParseDetail(id string, raw []byte) (place.Place, error) {
	var envelopes []detailEnvelope
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		return place.Place{}, fmt.Errorf("decode detail payload for %s: %w", id, place.ErrMalformedPayload)
	}
	if len(envelopes) == 0 || envelopes[0].Data.PlaceDetail == nil {
		return place.Place{}, fmt.Errorf("detail payload for %s has no place data: %w", id, place.ErrMalformedPayload)
	}
	d := envelopes[0].Data.PlaceDetail
	base := d.Base
	if base.ID == "" {
		base.ID = id
	}
	if base.Name == "" {
		return place.Place{}, fmt.Errorf("detail payload for %s has no name: %w", id, place.ErrMalformedPayload)
	}

	p := place.Place{
		ID:            base.ID,
		Name:          base.Name,
		Road:          base.Road,
		Category:      base.Category,
		CategoryCode:  base.CategoryCode,
		CategoryCodes: base.CategoryCodeList,
		RoadAddress:   base.RoadAddress,
		Address:       base.Address,
		Phone:         base.Phone,
		PaymentInfo:   base.PaymentInfo,
		Conveniences:  base.Conveniences,
		ReviewCount:   base.VisitorReviewsTotal,
		ReviewScore:   base.VisitorReviewsScore,
		X:             base.Coordinate.X,
		Y:             base.Coordinate.Y,
		Keywords:      d.InformationTab.KeywordList,
		StaticMapURL:  d.StaticMapURL,
		Themes:        d.Themes,
	}

	if d.VisitorReviewStats != nil {
		p.ReviewCount = d.VisitorReviewStats.Review.TotalCount
		p.ReviewScore = d.VisitorReviewStats.Review.AvgRating
	}

	for _, e := range d.ShopWindow.Homepages.Etc {
		if e.URL != "" {
			p.Homepages = append(p.Homepages, e.URL)
		}
	}
	if r := d.ShopWindow.Homepages.Repr; r != nil && r.URL != "" {
		p.Homepages = append(p.Homepages, r.URL)
	}

	p.Images = append(p.Images, d.PaiUpperImage.Images...)
	for _, img := range d.Images.Images {
		if img.Origin != "" {
			p.Images = append(p.Images, img.Origin)
		}
	}

	for _, m := range base.Menus {
		p.Menus = append(p.Menus, place.Menu{
			Name:        m.Name,
			Price:       m.Price,
			Description: m.Description,
			Recommended: m.Recommend,
			Images:      m.Images,
		})
	}

	// Coarse locality groups derived from the lot address.
	groups := strings.Fields(base.Address)
	if len(groups) > 0 {
		p.Group1 = groups[0]
	}
	if len(groups) > 1 {
		p.Group2 = groups[1]
	}
	if len(groups) > 2 {
		p.Group3 = groups[2]
	}

	return p, nil
}
