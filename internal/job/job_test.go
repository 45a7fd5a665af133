package job

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRunProfileType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected RunProfileType
		wantErr  bool
	}{
		{name: "empty is none", input: "", expected: TypeNone},
		{name: "delta import", input: "deltaImport", expected: TypeDeltaImport},
		{name: "case insensitive", input: "FULLSYNC", expected: TypeFullSync},
		{name: "export", input: "export", expected: TypeExport},
		{name: "unknown", input: "purge", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRunProfileType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRunProfileType_Classification(t *testing.T) {
	t.Parallel()

	assert.True(t, TypeDeltaImport.IsImport())
	assert.True(t, TypeFullImport.IsImport())
	assert.False(t, TypeExport.IsImport())
	assert.True(t, TypeDeltaSync.IsSync())
	assert.True(t, TypeFullSync.IsSync())
	assert.False(t, TypeNone.IsSync())
	assert.True(t, TypeExport.IsExport())
}

func TestJob_Equal(t *testing.T) {
	t.Parallel()

	a := Job{RunProfileName: "DI", Source: "x"}
	b := Job{RunProfileName: "DI", Source: "y", RunImmediate: true}
	c := Job{RunProfileName: "DS"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, Job{}.Equal(Job{}), "unresolved jobs are never equal")
}

func TestJob_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "DI", Job{RunProfileName: "DI"}.String())
	assert.Equal(t, "deltaSync (corp)", Job{RunProfileType: TypeDeltaSync, Partition: "corp"}.String())
	assert.Equal(t, "FS (exclusive)", Job{RunProfileName: "FS", Exclusive: true}.String())
}

func TestSequence_Concurrent(t *testing.T) {
	t.Parallel()

	seq := NewSequence()
	const n = 200

	var wg sync.WaitGroup
	seen := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- seq.Next()
		}()
	}
	wg.Wait()
	close(seen)

	ids := make(map[uint64]bool)
	for id := range seen {
		assert.False(t, ids[id], "duplicate id %d", id)
		ids[id] = true
	}
	assert.Len(t, ids, n)
	assert.Equal(t, uint64(n+1), seq.Next())
}
