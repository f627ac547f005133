// Package report prints read-only aggregates over a persisted crawl graph.
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/alvmarrod/vk-weaver/internal/storage"
	"github.com/fatih/color"
)

// Query selectors accepted by Run
const (
	CountUsers      = "count_users"
	CountGroups     = "count_groups"
	TopUsers        = "top_users"
	TopGroups       = "top_groups"
	MutualFollowers = "mutual_followers"
)

// Queries lists every selector in display order
var Queries = []string{CountUsers, CountGroups, TopUsers, TopGroups, MutualFollowers}

var (
	header = color.New(color.FgCyan, color.Bold)
	value  = color.New(color.FgGreen)
)

// Run executes the selected query against q and writes the result to w
func Run(ctx context.Context, q storage.Querier, query string, limit int, w io.Writer) error {
	switch query {
	case CountUsers:
		n, err := q.CountUsers(ctx)
		if err != nil {
			return err
		}
		header.Fprint(w, "Total users: ")
		value.Fprintf(w, "%d\n", n)

	case CountGroups:
		n, err := q.CountGroups(ctx)
		if err != nil {
			return err
		}
		header.Fprint(w, "Total groups: ")
		value.Fprintf(w, "%d\n", n)

	case TopUsers:
		ranked, err := q.TopUsers(ctx, limit)
		if err != nil {
			return err
		}
		header.Fprintf(w, "Top %d users by connections:\n", limit)
		for _, r := range ranked {
			fmt.Fprintf(w, "Name: %s, Connections: ", r.Name)
			value.Fprintf(w, "%d\n", r.Count)
		}

	case TopGroups:
		ranked, err := q.TopGroups(ctx, limit)
		if err != nil {
			return err
		}
		header.Fprintf(w, "Top %d groups by subscribers:\n", limit)
		for _, r := range ranked {
			fmt.Fprintf(w, "Name: %s, Subscribers: ", r.Name)
			value.Fprintf(w, "%d\n", r.Count)
		}

	case MutualFollowers:
		pairs, err := q.MutualFollows(ctx)
		if err != nil {
			return err
		}
		header.Fprintln(w, "Users who follow each other:")
		for _, p := range pairs {
			fmt.Fprintf(w, "User %s <-> User %s\n", p.First, p.Second)
		}

	default:
		return fmt.Errorf("unknown query %q, expected one of %v", query, Queries)
	}
	return nil
}
