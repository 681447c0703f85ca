package remote

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/loopkit/nightscoutservice/internal/common"
	"github.com/loopkit/nightscoutservice/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Secret string
	Body   string
}

type fakeSite struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func newFakeSite(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*fakeSite, *NightscoutClient) {
	t.Helper()
	site := &fakeSite{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		site.mu.Lock()
		site.requests = append(site.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Secret: r.Header.Get(common.APISecretHeaderName),
			Body:   string(body),
		})
		site.mu.Unlock()
		site.handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewNightscoutClient(srv.URL+"/ns/", "hunter2hunter2", WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return site, c
}

func TestNewNightscoutClient_Validation(t *testing.T) {
	_, err := NewNightscoutClient("", "secret")
	require.ErrorIs(t, err, common.ErrMissingCredentials)
	_, err = NewNightscoutClient("https://example.org", "")
	require.ErrorIs(t, err, common.ErrMissingCredentials)
	_, err = NewNightscoutClient("ftp://example.org", "secret")
	require.Error(t, err)
	_, err = NewNightscoutClient("example.org", "secret")
	require.Error(t, err)
}

func TestCreateRecords_ReturnsIDsInOrder(t *testing.T) {
	site, c := newFakeSite(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"_id":"a1","carbs":20},{"_id":"a2","carbs":30}]`)
	})

	ids, err := c.CreateRecords(context.Background(), CollectionTreatments, []any{
		map[string]any{"carbs": 20},
		map[string]any{"carbs": 30},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids)

	require.Len(t, site.requests, 1)
	req := site.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/ns/api/v1/treatments.json", req.Path)

	sum := sha1.Sum([]byte("hunter2hunter2"))
	assert.Equal(t, hex.EncodeToString(sum[:]), req.Secret)

	var sent []map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Body), &sent))
	assert.Len(t, sent, 2)
}

func TestCreateRecords_SingleObjectResponse(t *testing.T) {
	_, c := newFakeSite(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"_id":"only"}`)
	})

	ids, err := c.CreateRecords(context.Background(), CollectionEntries, []any{map[string]any{"sgv": 100}})
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, ids)
}

func TestCreateRecords_EmptyDoesNotCallServer(t *testing.T) {
	site, c := newFakeSite(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected request")
	})

	ids, err := c.CreateRecords(context.Background(), CollectionTreatments, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, site.requests)
}

func TestUpdateAndDelete(t *testing.T) {
	site, c := newFakeSite(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ctx := context.Background()

	require.NoError(t, c.UpdateRecords(ctx, CollectionTreatments, []any{
		models.Treatment{ID: "a1", EventType: models.EventCarbCorrection},
		models.Treatment{ID: "a2", EventType: models.EventCarbCorrection},
	}))
	require.NoError(t, c.DeleteRecords(ctx, CollectionTreatments, []string{"a1", "id/with space"}))

	require.Len(t, site.requests, 4)
	assert.Equal(t, http.MethodPut, site.requests[0].Method)
	assert.Equal(t, "/ns/api/v1/treatments.json", site.requests[0].Path)
	assert.Contains(t, site.requests[0].Body, `"_id":"a1"`)
	assert.Equal(t, http.MethodDelete, site.requests[2].Method)
	assert.Equal(t, "/ns/api/v1/treatments/a1", site.requests[2].Path)
	assert.Equal(t, "/ns/api/v1/treatments/id%2Fwith%20space", site.requests[3].Path)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, want: ErrUnauthorized},
		{name: "server error", status: http.StatusBadGateway, want: ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newFakeSite(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			err := c.CheckAuth(context.Background())
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestErrorMapping_OtherStatusIsWrapped(t *testing.T) {
	_, c := newFakeSite(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "bad document\n")
	})

	err := c.DeleteRecords(context.Background(), CollectionTreatments, []string{"x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable))
	assert.False(t, errors.Is(err, ErrUnauthorized))
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "bad document")
}

func TestNetworkErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewNightscoutClient(url, "secret")
	require.NoError(t, err)

	err = c.CheckAuth(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestCheckAuth_Path(t *testing.T) {
	site, c := newFakeSite(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
	require.NoError(t, c.CheckAuth(context.Background()))
	assert.Equal(t, "/ns/api/v1/experiments/test", site.requests[0].Path)
}

func TestFetchCurrentProfile(t *testing.T) {
	_, c := newFakeSite(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ns/api/v1/profile/current", r.URL.Path)
		_, _ = io.WriteString(w, `{
			"_id": "p1",
			"startDate": "2022-12-02T17:20:00.000Z",
			"units": "mg/dL",
			"defaultProfile": "Default",
			"store": {"Default": {"dia": 6, "basal": [{"time": "00:00", "timeAsSeconds": 0, "value": 0.8}]}},
			"loopSettings": {"dosingEnabled": true, "minimumBGGuard": 70}
		}`)
	})

	ps, err := c.FetchCurrentProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", ps.ID)
	assert.Equal(t, 0.8, ps.Store["Default"].Basal[0].Value)
	require.NotNil(t, ps.Settings.MinimumBGGuard)
	assert.Equal(t, 70.0, *ps.Settings.MinimumBGGuard)
}
