package grid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libprep/api/internal/sample"
)

func TestDecodeSnapshotShapes(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		rows  int
		pools int
	}{
		{name: "legacy row array", raw: `[{"sample_id":"S-1","nm_conc":0.25},{"sample_id":"S-2"}]`, rows: 2},
		{name: "untagged object", raw: `{"rows":[{"sample_id":"S-1"}],"pools":[{"sampleIndexes":[0],"values":{"size":300}}]}`, rows: 1, pools: 1},
		{name: "tagged v2", raw: `{"format":"v2","rows":[{"sample_id":"S-1"}],"pools":[]}`, rows: 1},
		{name: "null", raw: `null`},
		{name: "empty", raw: ``},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap, err := DecodeSnapshot([]byte(tc.raw))
			require.NoError(t, err)
			assert.Len(t, snap.Rows, tc.rows)
			assert.Len(t, snap.Pools, tc.pools)
		})
	}
}

func TestDecodeSnapshotConvertsLegacyNumbers(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"rows":[{"nm_conc":0.25}],"pools":[{"sampleIndexes":[0],"values":{"size":300}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "0.25", snap.Rows[0][sample.NMConc])
	assert.Equal(t, "300", snap.Pools[0].Values[sample.Size])
}

func TestDecodeSnapshotRejectsUnknownFormats(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`{"format":"v9","rows":[]}`))
	assert.ErrorContains(t, err, `unsupported format "v9"`)

	_, err = DecodeSnapshot([]byte(`"rows"`))
	assert.Error(t, err)
}

func TestSnapshotAlwaysWritesTaggedFormat(t *testing.T) {
	raw, err := json.Marshal(Snapshot{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"format":"v2","rows":[],"pools":[]}`, string(raw))

	in := Snapshot{
		Rows:  []sample.Row{{sample.SampleID: "S-1"}},
		Pools: []Pool{{SampleIndexes: []int{0}, Values: sample.Row{sample.Size: "300"}}},
	}
	raw, err = json.Marshal(in)
	require.NoError(t, err)

	var out Snapshot
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestSnapshotCloneSharesNothing(t *testing.T) {
	in := Snapshot{
		Rows:  []sample.Row{{sample.SampleID: "S-1"}},
		Pools: []Pool{{SampleIndexes: []int{0}, Values: sample.Row{}}},
	}
	out := in.Clone()
	out.Rows[0][sample.SampleID] = "S-2"
	out.Pools[0].SampleIndexes[0] = 5
	out.Pools[0].Values[sample.Size] = "1"

	assert.Equal(t, "S-1", in.Rows[0][sample.SampleID])
	assert.Equal(t, 0, in.Pools[0].SampleIndexes[0])
	assert.Empty(t, in.Pools[0].Values)
}
