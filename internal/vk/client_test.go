package vk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alvmarrod/vk-weaver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// newTestClient serves API methods from a path -> body map
func newTestClient(t *testing.T, responses map[string]string) (*Client, *atomic.Int32) {
	t.Helper()
	return newHandlerClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		if !ok {
			http.Error(w, "no such method", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, body)
	})
}

// newHandlerClient points a client at handler after checking credentials
func newHandlerClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Query().Get("access_token") != "secret" || r.URL.Query().Get("v") != "5.131" {
			http.Error(w, "missing credentials", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "secret"}), Options{
		BaseURL: srv.URL + "/method",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return client, &requests
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(oauth2.StaticTokenSource(&oauth2.Token{}), Options{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestProfile(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"/method/users.get": `{"response":[{"id":1,"first_name":"Pavel","last_name":"Durov","sex":2,
			"screen_name":"durov","followers_count":5000,"city":{"id":2,"title":"Saint Petersburg"}}]}`,
	})

	user, err := client.Profile(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, &storage.User{
		ID:             1,
		ScreenName:     "durov",
		Name:           "Pavel Durov",
		Sex:            "Male",
		HomeTown:       "Saint Petersburg",
		FollowersCount: 5000,
	}, user)
}

func TestProfileHomeTownFallback(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"/method/users.get": `{"response":[{"id":3,"first_name":"Anna","last_name":"","sex":1,"home_town":"Kazan"}]}`,
	})

	user, err := client.Profile(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Kazan", user.HomeTown)
	assert.Equal(t, "Anna", user.Name)
	assert.Equal(t, "Female", user.Sex)
}

func TestProfileUnknownUser(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"/method/users.get": `{"response":[]}`,
	})

	user, err := client.Profile(context.Background(), 3)
	require.NoError(t, err)
	assert.Zero(t, user.ID)
}

func TestConnectionsUnion(t *testing.T) {
	client, requests := newTestClient(t, map[string]string{
		"/method/users.getFollowers": `{"response":{"count":3,"items":[2,3,4]}}`,
		"/method/friends.get":        `{"response":{"count":2,"items":[4,5]}}`,
	})

	ids, err := client.Connections(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4, 5}, ids)
	assert.EqualValues(t, 2, requests.Load())
}

func TestConnectionsPrivateFriends(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"/method/users.getFollowers": `{"response":{"count":2,"items":[5,6]}}`,
		"/method/friends.get":        `{"error":{"error_code":30,"error_msg":"This profile is private"}}`,
	})

	ids, err := client.Connections(context.Background(), 1)
	assert.Equal(t, []int64{5, 6}, ids)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.EqualValues(t, 30, apiErr.Code)
}

func TestConnectionsBothFail(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"/method/friends.get": `{"error":{"error_code":30,"error_msg":"This profile is private"}}`,
	})

	ids, err := client.Connections(context.Background(), 1)
	assert.Error(t, err)
	assert.Nil(t, ids)
}

func TestGroups(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"/method/groups.get": `{"response":{"count":2,"items":[10,11]}}`,
		"/method/groups.getById": `{"response":{"groups":[
			{"id":10,"name":"Golang","screen_name":"golang"},
			{"id":11,"name":"","screen_name":"club11"}]}}`,
	})

	groups, err := client.Groups(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []storage.Group{
		{ID: 10, Name: "Golang", ScreenName: "golang"},
		{ID: 11, Name: "", ScreenName: "club11"},
	}, groups)
}

func TestGroupDetailsFlatResponse(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"/method/groups.getById": `{"response":[{"id":10,"name":"Golang","screen_name":"golang"}]}`,
	})

	groups, err := client.GroupDetails(context.Background(), []int64{10})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Golang", groups[0].Name)
}

func TestGroupDetailsBatches(t *testing.T) {
	var mu sync.Mutex
	var batchSizes []int
	client, requests := newHandlerClient(t, func(w http.ResponseWriter, r *http.Request) {
		ids := strings.Split(r.URL.Query().Get("group_ids"), ",")
		mu.Lock()
		batchSizes = append(batchSizes, len(ids))
		mu.Unlock()

		items := make([]string, len(ids))
		for i, id := range ids {
			items[i] = fmt.Sprintf(`{"id":%s,"name":"club %s"}`, id, id)
		}
		fmt.Fprintf(w, `{"response":[%s]}`, strings.Join(items, ","))
	})

	ids := make([]int64, 1200)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	groups, err := client.GroupDetails(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, groups, 1200)
	assert.EqualValues(t, 1200, groups[1199].ID)
	assert.EqualValues(t, 3, requests.Load())
	assert.Equal(t, []int{500, 500, 200}, batchSizes)
}

func TestGroupDetailsEmptyInput(t *testing.T) {
	client, requests := newTestClient(t, nil)

	groups, err := client.GroupDetails(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Zero(t, requests.Load())
}

func TestGroupsWithoutMemberships(t *testing.T) {
	client, requests := newTestClient(t, map[string]string{
		"/method/groups.get": `{"response":{"count":0,"items":[]}}`,
	})

	groups, err := client.Groups(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.EqualValues(t, 1, requests.Load())
}

func TestAPIError(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"/method/friends.get": `{"error":{"error_code":30,"error_msg":"This profile is private"}}`,
	})

	_, err := client.Friends(context.Background(), 1)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "friends.get", apiErr.Method)
	assert.EqualValues(t, 30, apiErr.Code)
	assert.Equal(t, "This profile is private", apiErr.Message)
}

func TestMalformedResponse(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"/method/users.get": `<html>maintenance</html>`,
	})

	_, err := client.Profile(context.Background(), 1)
	assert.ErrorContains(t, err, "malformed")
}

func TestCallHonoursContext(t *testing.T) {
	client, requests := newTestClient(t, map[string]string{
		"/method/users.get": `{"response":[]}`,
	})
	client.limiter.SetLimit(0.001)
	client.limiter.SetBurst(1)
	client.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Profile(ctx, 1)
	assert.Error(t, err)
	assert.Zero(t, requests.Load())
}

func TestUnion(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3}, Union([]int64{1, 2}, []int64{2, 3, 1}))
	assert.Empty(t, Union())
}
