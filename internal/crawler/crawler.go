package crawler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/alvmarrod/vk-weaver/internal/metrics"
	"github.com/alvmarrod/vk-weaver/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Fetcher abstracts the social network API
type Fetcher interface {
	Profile(ctx context.Context, id int64) (*storage.User, error)
	Connections(ctx context.Context, id int64) ([]int64, error)
	Groups(ctx context.Context, id int64) ([]storage.Group, error)
}

// Options configures the crawl engine
type Options struct {
	Workers        int                 // concurrent units doing network work (default: 8)
	MaxConnections int                 // per-user fan-out cap, 0 means unlimited
	Observer       func(metrics.Event) // called for every persist/fetch outcome, may be nil
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 8
	}
}

// Engine orchestrates bounded-depth crawls. One Engine may run several
// crawls; each crawl gets its own visited set but all share the pool.
type Engine struct {
	fetcher Fetcher
	store   storage.Store
	opts    Options
	pool    *semaphore.Weighted
}

// NewEngine creates a crawl engine over a fetcher and a store
func NewEngine(fetcher Fetcher, store storage.Store, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		pool:    semaphore.NewWeighted(int64(opts.Workers)),
	}
}

// run holds the state of a single crawl
type run struct {
	*Engine
	visited  *VisitedSet
	profiles sync.Map // id -> *storage.User persisted during this crawl
	flight   singleflight.Group
}

// Crawl visits seedID and expands its connections and groups until depth
// is exhausted. Failures never abort the crawl; they are recorded in the
// returned Result tree and logged.
func (e *Engine) Crawl(ctx context.Context, seedID int64, depth int) *Result {
	r := &run{Engine: e, visited: NewVisitedSet()}
	res := &Result{ID: seedID, Depth: depth}

	func() {
		defer func() {
			if p := recover(); p != nil {
				logrus.Errorf("Crawl of %d panicked: %v", seedID, p)
				res.Err = errors.Join(res.Err, fmt.Errorf("user %d: panic: %v", seedID, p))
			}
		}()
		r.visit(ctx, res)
	}()

	logrus.Infof("Crawl of %d done: %d users expanded, %d claimed", seedID, len(res.Expanded()), r.visited.Size())
	return res
}

func (r *run) visit(ctx context.Context, res *Result) {
	if res.Depth < 1 {
		res.Terminal = true
		return
	}

	r.visited.Claim(res.ID, res.Depth)
	logrus.Infof("Visiting user %d (depth=%d)", res.ID, res.Depth)

	user, self, err := r.profile(ctx, res.ID)
	if err != nil {
		res.Err = err
		return
	}
	res.User = user

	r.expand(ctx, res, self, res.Depth)
}

// expand fans out over the connections and groups of an already persisted
// user and waits for every unit to finish
func (r *run) expand(ctx context.Context, res *Result, self storage.NodeRef, depth int) {
	next := depth - 1
	if next < 1 {
		return
	}

	var errs []error

	connections, err := r.fetcher.Connections(ctx, self.ID)
	if err != nil {
		r.observe(metrics.FetchFailed)
		logrus.Warnf("Failed to fetch connections of %d: %v", self.ID, err)
		errs = append(errs, fmt.Errorf("connections of %d: %w", self.ID, err))
	}
	connections = FilterConnections(self.ID, connections, r.opts.MaxConnections)

	groups, err := r.fetcher.Groups(ctx, self.ID)
	if err != nil {
		r.observe(metrics.FetchFailed)
		logrus.Warnf("Failed to fetch groups of %d: %v", self.ID, err)
		errs = append(errs, fmt.Errorf("groups of %d: %w", self.ID, err))
	}
	res.Err = errors.Join(errs...)

	logrus.Infof("User %d: %d connections, %d groups (depth=%d)", self.ID, len(connections), len(groups), depth)

	res.Units = make([]UnitResult, len(connections)+len(groups))
	var wg sync.WaitGroup

	for i, id := range connections {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Units[i] = r.connectionUnit(ctx, self, id, next)
		}()
	}

	for j, group := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Units[len(connections)+j] = r.groupUnit(ctx, self, group)
		}()
	}

	wg.Wait()
	logrus.Infof("Finished user %d (depth=%d)", self.ID, depth)
}

// connectionUnit persists one connection, links it to its parent and
// expands it unless another branch already did at this depth or deeper
func (r *run) connectionUnit(ctx context.Context, parent storage.NodeRef, id int64, depth int) (out UnitResult) {
	out = UnitResult{Label: storage.LabelUser, ID: id}
	defer r.recoverUnit(&out)

	user, ref, err := r.persistConnection(ctx, parent, id)
	if err != nil {
		out.Err = err
		return out
	}

	child := &Result{ID: id, Depth: depth, User: user}
	if depth-1 < 1 {
		// Leaves never expand, so they are not claimed
		out.Child = child
		return out
	}

	if !r.visited.Claim(id, depth) {
		r.observe(metrics.VisitSkipped)
		logrus.Debugf("User %d already expanded at depth >= %d, skipping", id, depth)
		out.Skipped = true
		return out
	}

	r.expand(ctx, child, ref, depth)
	out.Child = child
	return out
}

// persistConnection holds a pool slot only for the network work, so the
// expansion that follows never waits on a slot it already owns
func (r *run) persistConnection(ctx context.Context, parent storage.NodeRef, id int64) (*storage.User, storage.NodeRef, error) {
	if err := r.pool.Acquire(ctx, 1); err != nil {
		return nil, storage.NodeRef{}, err
	}
	defer r.pool.Release(1)

	user, ref, err := r.profile(ctx, id)
	if err != nil {
		return nil, storage.NodeRef{}, err
	}
	if err := r.link(ctx, parent, ref, storage.RelFollow); err != nil {
		return nil, storage.NodeRef{}, err
	}
	return user, ref, nil
}

// profile returns the persisted profile of id, fetching and upserting it
// at most once per crawl. Concurrent callers for the same id share one
// fetch; failures are not remembered, so a later branch retries.
func (r *run) profile(ctx context.Context, id int64) (*storage.User, storage.NodeRef, error) {
	if cached, ok := r.profiles.Load(id); ok {
		user := cached.(*storage.User)
		return user, user.Node().Ref(), nil
	}

	v, err, _ := r.flight.Do(strconv.FormatInt(id, 10), func() (any, error) {
		if cached, ok := r.profiles.Load(id); ok {
			return cached, nil
		}
		user, _, err := r.persistUser(ctx, id)
		if err != nil {
			return nil, err
		}
		r.profiles.Store(id, user)
		return user, nil
	})
	if err != nil {
		return nil, storage.NodeRef{}, err
	}

	user := v.(*storage.User)
	return user, user.Node().Ref(), nil
}

// groupUnit persists one group and its Subscribe edge; groups are leaves
func (r *run) groupUnit(ctx context.Context, parent storage.NodeRef, group storage.Group) (out UnitResult) {
	out = UnitResult{Label: storage.LabelGroup, ID: group.ID}
	defer r.recoverUnit(&out)

	if err := r.pool.Acquire(ctx, 1); err != nil {
		out.Err = err
		return out
	}
	defer r.pool.Release(1)

	ref, err := r.store.UpsertNode(ctx, group.Node())
	if err != nil {
		r.observe(metrics.PersistFailed)
		logrus.Errorf("Failed to persist group %d: %v", group.ID, err)
		out.Err = fmt.Errorf("persist group %d: %w", group.ID, err)
		return out
	}
	r.observe(metrics.GroupPersisted)
	logrus.Infof("Group %d persisted", group.ID)

	out.Err = r.link(ctx, parent, ref, storage.RelSubscribe)
	return out
}

// persistUser fetches a profile and upserts it as a User node
func (r *run) persistUser(ctx context.Context, id int64) (*storage.User, storage.NodeRef, error) {
	user, err := r.fetcher.Profile(ctx, id)
	if err != nil {
		r.observe(metrics.FetchFailed)
		logrus.Warnf("Failed to fetch profile %d: %v", id, err)
		return nil, storage.NodeRef{}, fmt.Errorf("fetch profile %d: %w", id, err)
	}
	if user == nil || user.ID <= 0 {
		r.observe(metrics.FetchFailed)
		logrus.Errorf("Profile %d has no usable id", id)
		return nil, storage.NodeRef{}, fmt.Errorf("profile %d: %w", id, storage.ErrInvalidEntity)
	}

	ref, err := r.store.UpsertNode(ctx, user.Node())
	if err != nil {
		r.observe(metrics.PersistFailed)
		logrus.Errorf("Failed to persist user %d: %v", user.ID, err)
		return nil, storage.NodeRef{}, fmt.Errorf("persist user %d: %w", user.ID, err)
	}
	r.observe(metrics.UserPersisted)
	logrus.Infof("User %d persisted", user.ID)

	return user, ref, nil
}

// link upserts a relation between two persisted nodes
func (r *run) link(ctx context.Context, from, to storage.NodeRef, rel storage.Relation) error {
	if err := r.store.UpsertEdge(ctx, from, to, rel); err != nil {
		r.observe(metrics.PersistFailed)
		logrus.Errorf("Failed to persist %s edge %d -> %d: %v", rel, from.ID, to.ID, err)
		return fmt.Errorf("persist %s %d -> %d: %w", rel, from.ID, to.ID, err)
	}
	r.observe(metrics.EdgeRecorded)
	logrus.Infof("Edge: %d -[%s]-> %d", from.ID, rel, to.ID)
	return nil
}

// recoverUnit contains a panic inside a unit so siblings keep running
func (r *run) recoverUnit(out *UnitResult) {
	if p := recover(); p != nil {
		logrus.Errorf("Unit for %s %d panicked: %v", out.Label, out.ID, p)
		out.Err = fmt.Errorf("%s %d: panic: %v", out.Label, out.ID, p)
	}
}

func (r *run) observe(e metrics.Event) {
	if r.opts.Observer != nil {
		r.opts.Observer(e)
	}
}
