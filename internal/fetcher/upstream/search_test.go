package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapfolio/place-crawler/internal/place"
)

func TestSearchReturnsCandidates(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"data":{"businesses":{"total":2,"items":[
			{"id":"100","name":"Morning Cafe","category":"cafe","roadAddress":"12 Some-ro"},
			{"id":"200","name":"Noodle Bar","category":"restaurant","address":"Seoul Mapo-gu"},
			{"id":"","name":"ghost"}
		]}}}]`))
	}))
	defer ts.Close()

	c := NewSearchClient(SearchConfig{SearchURL: ts.URL}, nil)
	got, err := c.Search(context.Background(), "cafe", 1, 50)
	require.NoError(t, err)

	var reqs []searchRequest
	require.NoError(t, json.Unmarshal(gotBody, &reqs))
	require.Len(t, reqs, 1)
	require.Equal(t, "getPlacesList", reqs[0].OperationName)
	require.Equal(t, "cafe", reqs[0].Variables.Input.Query)
	require.Equal(t, 50, reqs[0].Variables.Input.Display)

	require.Equal(t, []place.Candidate{
		{ID: "100", Name: "Morning Cafe", Category: "cafe", Address: "12 Some-ro"},
		{ID: "200", Name: "Noodle Bar", Category: "restaurant", Address: "Seoul Mapo-gu"},
	}, got)
}

func TestSearchUpstreamError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := NewSearchClient(SearchConfig{SearchURL: ts.URL}, nil)
	_, err := c.Search(context.Background(), "cafe", 1, 10)
	var ue *place.UpstreamError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, http.StatusBadGateway, ue.StatusCode)
}
