package pmsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSendsBranchScopedAuth(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"id": 1}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-token")
	records, err := c.Fetch(context.Background(), 7, "bookings",
		map[string]interface{}{"state": "confirmed"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Bearer secret-token|7", gotAuth)
	assert.Equal(t, "state=confirmed", gotQuery)
}

func TestFetchAcceptsBareArrayResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 1}, {"id": 2}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	records, err := c.Fetch(context.Background(), 7, "countries", nil)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestFetchNon200IsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "branch suspended", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	_, err := c.Fetch(context.Background(), 7, "bookings", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Contains(t, err.Error(), "branch suspended")
}

func TestFetchPageCursorProtocol(t *testing.T) {
	pages := map[string][]map[string]interface{}{
		"1": {{"id": 1}, {"id": 2}},
		"2": {{"id": 3}},
		"3": {},
	}
	var limits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limits = append(limits, r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]interface{}{"data": pages[r.URL.Query().Get("page")]})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	c.PageLimit = 2

	var all []map[string]interface{}
	var cursor interface{}
	for {
		page, next, err := c.FetchPage(context.Background(), 7, "customers", nil, cursor)
		require.NoError(t, err)
		if next == nil {
			require.Empty(t, page, "exhaustion is an empty page")
			break
		}
		all = append(all, page...)
		cursor = next
	}

	assert.Len(t, all, 3)
	assert.Equal(t, []string{"2", "2", "2"}, limits, "the default limit rides every page request")
}

func TestFetchPageRejectsForeignCursor(t *testing.T) {
	c := NewClient("http://localhost:0", "tok")
	_, _, err := c.FetchPage(context.Background(), 7, "customers", nil, "opaque-string")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected cursor type")
}
