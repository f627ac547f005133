package storage

import (
	"strings"
	"time"
)

// Label identifies the kind of a node in the crawl graph
type Label string

const (
	LabelUser  Label = "User"
	LabelGroup Label = "Group"
)

// Valid reports whether l is one of the known labels
func (l Label) Valid() bool {
	return l == LabelUser || l == LabelGroup
}

// Relation is the type of a directed edge
type Relation string

const (
	RelFollow    Relation = "Follow"
	RelSubscribe Relation = "Subscribe"
)

// Valid reports whether r is one of the known relation types
func (r Relation) Valid() bool {
	return r == RelFollow || r == RelSubscribe
}

// Node is a typed entity as handed to a Store for upsert
type Node struct {
	Label Label
	ID    int64
	Attrs map[string]any
}

// Ref returns the reference a store would hand back for this node
func (n Node) Ref() NodeRef {
	return NodeRef{Label: n.Label, ID: n.ID}
}

// Name returns the "name" attribute if present
func (n Node) Name() string {
	if v, ok := n.Attrs["name"].(string); ok {
		return v
	}
	return ""
}

// NodeRef points at a node that has already been upserted
type NodeRef struct {
	Label Label
	ID    int64
}

// Edge represents a directed relation between two persisted nodes
type Edge struct {
	From     NodeRef
	To       NodeRef
	Relation Relation
}

// User is a social network profile
type User struct {
	ID             int64
	ScreenName     string
	Name           string
	Sex            string
	HomeTown       string
	FollowersCount int
}

// Node converts the profile into its storable form
func (u *User) Node() Node {
	return Node{
		Label: LabelUser,
		ID:    u.ID,
		Attrs: map[string]any{
			"screen_name":     u.ScreenName,
			"name":            u.Name,
			"sex":             u.Sex,
			"home_town":       u.HomeTown,
			"followers_count": int64(u.FollowersCount),
		},
	}
}

// Group is a community a user is subscribed to
type Group struct {
	ID         int64
	Name       string
	ScreenName string
}

// Node converts the group into its storable form
func (g Group) Node() Node {
	name := strings.TrimSpace(g.Name)
	if name == "" {
		name = "Unnamed Group"
	}
	return Node{
		Label: LabelGroup,
		ID:    g.ID,
		Attrs: map[string]any{
			"name":        name,
			"screen_name": g.ScreenName,
		},
	}
}

// SexLabel maps the API's numeric sex code to the stored value
func SexLabel(code int64) string {
	switch code {
	case 1:
		return "Female"
	case 2:
		return "Male"
	default:
		return "Unknown"
	}
}

// Ranked is one row of a top-N report
type Ranked struct {
	Name  string
	Count int64
}

// Pair is two users following each other
type Pair struct {
	First  string
	Second string
}

// Metrics tracks crawl statistics for export on exit
type Metrics struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	UsersPersisted    int       `json:"users_persisted"`
	GroupsPersisted   int       `json:"groups_persisted"`
	EdgesRecorded     int       `json:"edges_recorded"`
	FetchesFailed     int       `json:"fetches_failed"`
	PersistsFailed    int       `json:"persists_failed"`
	VisitsSkipped     int       `json:"visits_skipped"`
	TerminationReason string    `json:"termination_reason"`
}
