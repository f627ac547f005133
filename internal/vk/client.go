// Package vk implements the crawler's fetch capability on top of the VK API.
package vk

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alvmarrod/vk-weaver/internal/storage"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	userFields  = "followers_count,sex,city,screen_name,home_town"
	groupFields = "name,screen_name"

	// groups.getById accepts at most this many ids per request
	groupBatchSize = 500
)

// APIError is an error envelope returned by the API with HTTP 200
type APIError struct {
	Method  string
	Code    int64
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk %s: error %d: %s", e.Method, e.Code, e.Message)
}

// Options configures the API client
type Options struct {
	BaseURL           string
	Version           string
	RequestsPerSecond float64 // <= 0 disables throttling
	Burst             int
	Parallelism       int
	Timeout           time.Duration
	FollowersLimit    int
}

func (o *Options) applyDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.vk.com/method"
	}
	if o.Version == "" {
		o.Version = "5.131"
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 4
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.FollowersLimit <= 0 {
		o.FollowersLimit = 1000
	}
}

// Client fetches profiles, connections and groups.
// All requests share one token bucket, so throttling holds across every
// concurrent caller.
type Client struct {
	opts      Options
	tokens    oauth2.TokenSource
	limiter   *rate.Limiter
	collector *colly.Collector
}

// NewClient creates a client authenticating with tokens
func NewClient(tokens oauth2.TokenSource, opts Options) (*Client, error) {
	opts.applyDefaults()

	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", opts.BaseURL)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent("vk-weaver"),
	)
	collector.SetRequestTimeout(opts.Timeout)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: opts.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure request limits: %w", err)
	}

	return &Client{
		opts:      opts,
		tokens:    oauth2.ReuseTokenSource(nil, tokens),
		limiter:   rate.NewLimiter(limit, opts.Burst),
		collector: collector,
	}, nil
}

// call performs one API method and returns the "response" member
func (c *Client) call(ctx context.Context, method string, params url.Values) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}

	token, err := c.tokens.Token()
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to obtain access token: %w", err)
	}

	params.Set("access_token", token.AccessToken)
	params.Set("v", c.opts.Version)
	target := strings.TrimRight(c.opts.BaseURL, "/") + "/" + method + "?" + params.Encode()

	var body []byte
	collector := c.collector.Clone()
	collector.Context = ctx
	collector.OnResponse(func(r *colly.Response) {
		body = r.Body
	})

	start := time.Now()
	if err := collector.Visit(target); err != nil {
		return gjson.Result{}, fmt.Errorf("vk %s: %w", method, err)
	}
	logrus.Debugf("vk %s answered in %v", method, time.Since(start))

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("vk %s: malformed response", method)
	}

	doc := gjson.ParseBytes(body)
	if apiErr := doc.Get("error"); apiErr.Exists() {
		return gjson.Result{}, &APIError{
			Method:  method,
			Code:    apiErr.Get("error_code").Int(),
			Message: apiErr.Get("error_msg").String(),
		}
	}
	return doc.Get("response"), nil
}

// Profile fetches the profile attributes of a user
func (c *Client) Profile(ctx context.Context, id int64) (*storage.User, error) {
	res, err := c.call(ctx, "users.get", url.Values{
		"user_ids": {strconv.FormatInt(id, 10)},
		"fields":   {userFields},
	})
	if err != nil {
		return nil, err
	}
	return parseUser(res.Get("0")), nil
}

// Followers returns the ids of the user's followers
func (c *Client) Followers(ctx context.Context, id int64) ([]int64, error) {
	res, err := c.call(ctx, "users.getFollowers", url.Values{
		"user_id": {strconv.FormatInt(id, 10)},
		"count":   {strconv.Itoa(c.opts.FollowersLimit)},
	})
	if err != nil {
		return nil, err
	}
	return parseIDs(res.Get("items")), nil
}

// Friends returns the ids of the user's friends
func (c *Client) Friends(ctx context.Context, id int64) ([]int64, error) {
	res, err := c.call(ctx, "friends.get", url.Values{
		"user_id": {strconv.FormatInt(id, 10)},
	})
	if err != nil {
		return nil, err
	}
	return parseIDs(res.Get("items")), nil
}

// Connections returns followers and friends as one set.
// The lists are fetched independently: when one of them fails (a private
// friends list is common) the other is still returned along with the error.
func (c *Client) Connections(ctx context.Context, id int64) ([]int64, error) {
	followers, followersErr := c.Followers(ctx, id)
	friends, friendsErr := c.Friends(ctx, id)

	err := errors.Join(followersErr, friendsErr)
	if followersErr != nil && friendsErr != nil {
		return nil, err
	}
	return Union(followers, friends), err
}

// GroupIDs returns the ids of the groups the user belongs to
func (c *Client) GroupIDs(ctx context.Context, id int64) ([]int64, error) {
	res, err := c.call(ctx, "groups.get", url.Values{
		"user_id": {strconv.FormatInt(id, 10)},
	})
	if err != nil {
		return nil, err
	}
	return parseIDs(res.Get("items")), nil
}

// GroupDetails resolves group ids in batches of at most groupBatchSize.
// Empty input returns nothing without touching the network.
func (c *Client) GroupDetails(ctx context.Context, ids []int64) ([]storage.Group, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var groups []storage.Group
	for start := 0; start < len(ids); start += groupBatchSize {
		end := min(start+groupBatchSize, len(ids))

		batch, err := c.groupBatch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		groups = append(groups, batch...)
	}
	if len(groups) == 0 {
		logrus.Warnf("No details found for group ids: %v", ids)
	}
	return groups, nil
}

func (c *Client) groupBatch(ctx context.Context, ids []int64) ([]storage.Group, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}

	res, err := c.call(ctx, "groups.getById", url.Values{
		"group_ids": {strings.Join(parts, ",")},
		"fields":    {groupFields},
	})
	if err != nil {
		return nil, err
	}

	// Newer API versions wrap the list in {"groups": [...]}
	if wrapped := res.Get("groups"); wrapped.IsArray() {
		res = wrapped
	}

	var groups []storage.Group
	for _, g := range res.Array() {
		groups = append(groups, storage.Group{
			ID:         g.Get("id").Int(),
			Name:       g.Get("name").String(),
			ScreenName: g.Get("screen_name").String(),
		})
	}
	return groups, nil
}

// Groups returns the user's group memberships with details
func (c *Client) Groups(ctx context.Context, id int64) ([]storage.Group, error) {
	ids, err := c.GroupIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		logrus.Debugf("User %d is not in any groups", id)
	}
	return c.GroupDetails(ctx, ids)
}

// Union merges id lists, keeping the first occurrence of each id
func Union(lists ...[]int64) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, list := range lists {
		for _, id := range list {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func parseIDs(items gjson.Result) []int64 {
	var ids []int64
	for _, item := range items.Array() {
		// Some methods return objects when extended fields are requested
		if item.IsObject() {
			ids = append(ids, item.Get("id").Int())
			continue
		}
		ids = append(ids, item.Int())
	}
	return ids
}

func parseUser(u gjson.Result) *storage.User {
	first := u.Get("first_name").String()
	last := u.Get("last_name").String()

	homeTown := u.Get("city.title").String()
	if homeTown == "" {
		homeTown = u.Get("home_town").String()
	}

	return &storage.User{
		ID:             u.Get("id").Int(),
		ScreenName:     u.Get("screen_name").String(),
		Name:           strings.TrimSpace(first + " " + last),
		Sex:            storage.SexLabel(u.Get("sex").Int()),
		HomeTown:       homeTown,
		FollowersCount: int(u.Get("followers_count").Int()),
	}
}
