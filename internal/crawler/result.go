package crawler

import "github.com/alvmarrod/vk-weaver/internal/storage"

// Result is the outcome of visiting or expanding one user
type Result struct {
	ID       int64
	Depth    int
	User     *storage.User // nil when the profile could not be fetched or persisted
	Terminal bool          // depth was exhausted before anything happened
	Err      error         // failure of this user's own fetch/persist/expansion calls
	Units    []UnitResult  // one entry per connection and group fanned out
}

// UnitResult is the outcome of one fanned-out connection or group
type UnitResult struct {
	Label   storage.Label
	ID      int64
	Err     error
	Skipped bool    // persisted and linked, but already expanded by another branch
	Child   *Result // expansion of a connection, nil for groups and failures
}

// Walk calls fn for r and every nested expansion, parents first
func (r *Result) Walk(fn func(*Result)) {
	if r == nil {
		return
	}
	fn(r)
	for _, u := range r.Units {
		u.Child.Walk(fn)
	}
}

// Failures collects every error recorded in the tree
func (r *Result) Failures() []error {
	var errs []error
	r.Walk(func(res *Result) {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
		for _, u := range res.Units {
			if u.Err != nil {
				errs = append(errs, u.Err)
			}
		}
	})
	return errs
}

// Expanded returns the ids of every user whose connections were fanned out
func (r *Result) Expanded() []int64 {
	var ids []int64
	r.Walk(func(res *Result) {
		if len(res.Units) > 0 {
			ids = append(ids, res.ID)
		}
	})
	return ids
}
