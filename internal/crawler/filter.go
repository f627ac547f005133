package crawler

// FilterConnections turns the raw connection list of a user into the set
// of ids to fan out over: ids appearing more than once are kept once, the
// user itself and ids <= 0 are dropped, and at most maxConnections ids are
// returned when maxConnections > 0.
func FilterConnections(self int64, connections []int64, maxConnections int) []int64 {
	seen := make(map[int64]bool, len(connections))
	var filtered []int64

	for _, id := range connections {
		// Skip invalid ids
		if id <= 0 {
			continue
		}

		// Skip self-loops
		if id == self {
			continue
		}

		// Skip duplicates
		if seen[id] {
			continue
		}

		seen[id] = true
		filtered = append(filtered, id)

		// Stop at max connections
		if maxConnections > 0 && len(filtered) >= maxConnections {
			break
		}
	}

	return filtered
}
