package bucketing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "fxbuckets/internal/errors"
)

func TestInitialPartitionRoundRobin(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e", "f", "g"}
	p := initialPartition(items, 3, rand.New(rand.NewSource(7)))

	require.Len(t, p, 3)
	assert.Len(t, p[0], 3)
	assert.Len(t, p[1], 2)
	assert.Len(t, p[2], 2)
	assert.NoError(t, p.Validate(items))
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, items, "input must not be reordered")
}

func TestInitialPartitionMoreBucketsThanItems(t *testing.T) {
	p := initialPartition([]string{"x", "y"}, 5, rand.New(rand.NewSource(1)))

	require.Len(t, p, 5)
	assert.Equal(t, 2, p.Len())
	for _, bucket := range p[2:] {
		assert.Empty(t, bucket)
	}
}

func TestMoveAndUndoRestorePosition(t *testing.T) {
	p := Partition{{"a", "b", "c"}, {"d"}}
	original := p.Clone()

	p.move(0, 1, 1)
	assert.Equal(t, Partition{{"a", "c"}, {"d", "b"}}, p)

	p.undo(0, 1, 1)
	assert.Equal(t, original, p)

	p.move(0, 0, 1)
	p.undo(0, 0, 1)
	assert.Equal(t, original, p)

	p.move(0, 2, 1)
	p.undo(0, 2, 1)
	assert.Equal(t, original, p)
}

func TestPartitionValidate(t *testing.T) {
	items := []string{"a", "b", "c"}

	tests := []struct {
		name    string
		p       Partition
		wantErr bool
	}{
		{"valid", Partition{{"a"}, {"b", "c"}}, false},
		{"valid with empty bucket", Partition{{}, {"c", "a", "b"}}, false},
		{"duplicate", Partition{{"a", "b"}, {"b", "c"}}, true},
		{"missing", Partition{{"a"}, {"b"}}, true},
		{"unexpected", Partition{{"a", "b", "c", "z"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate(items)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperrors.ErrTypeInternal, apperrors.TypeOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPartitionHelpers(t *testing.T) {
	p := Partition{{"c", "a"}, {}, {"b"}}

	assert.Equal(t, 3, p.Len())
	assert.Equal(t, []string{"a", "b", "c"}, p.Items())
	assert.Equal(t, 2, p.BucketOf("b"))
	assert.Equal(t, -1, p.BucketOf("z"))

	clone := p.Clone()
	clone[0][0] = "changed"
	assert.Equal(t, "c", p[0][0])
}
