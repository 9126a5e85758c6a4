package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatches(t *testing.T) {
	tests := []struct {
		name    string
		serial  []string
		total   int
		want    []int
		wantErr bool
	}{
		{name: "no serial", total: 5, want: []int{5}},
		{name: "no hosts", serial: []string{"2"}, total: 0, want: nil},
		{name: "count", serial: []string{"3"}, total: 10, want: []int{3, 3, 3, 1}},
		{name: "percentage", serial: []string{"30%"}, total: 10, want: []int{3, 3, 3, 1}},
		{name: "tiny percentage", serial: []string{"1%"}, total: 3, want: []int{1, 1, 1}},
		{name: "progressive", serial: []string{"1", "50%"}, total: 10, want: []int{1, 5, 4}},
		{name: "zero means all", serial: []string{"0"}, total: 4, want: []int{4}},
		{name: "larger than total", serial: []string{"20"}, total: 4, want: []int{4}},
		{name: "invalid", serial: []string{"abc"}, total: 3, wantErr: true},
		{name: "negative", serial: []string{"-1"}, total: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Batches(tt.serial, tt.total)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
