package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterConnections(t *testing.T) {
	tests := []struct {
		name  string
		self  int64
		input []int64
		max   int
		want  []int64
	}{
		{"empty", 1, nil, 0, nil},
		{"keeps order", 1, []int64{5, 3, 9}, 0, []int64{5, 3, 9}},
		{"drops duplicates", 1, []int64{5, 3, 5, 3}, 0, []int64{5, 3}},
		{"drops self", 1, []int64{1, 2}, 0, []int64{2}},
		{"drops invalid ids", 1, []int64{0, -4, 7}, 0, []int64{7}},
		{"caps fan-out", 1, []int64{2, 3, 4, 5}, 2, []int64{2, 3}},
		{"cap counts unique ids", 1, []int64{2, 2, 1, 3, 4}, 2, []int64{2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterConnections(tt.self, tt.input, tt.max))
		})
	}
}
