package columns

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libprep/api/internal/sample"
)

func TestDefaultCoversEveryWorkflowGroup(t *testing.T) {
	p := Default()
	for _, group := range []string{
		"Myeloid", "WES", "CS", "CES",
		"Cardio Comprehensive (Screening Test)",
		"Cardio Metabolic Syndrome (Screening Test)",
		"Cardio Comprehensive Myopathy",
		"WES + Mito", "CES + Mito", "HRR", "HCP", "SGS", "HLA",
	} {
		assert.False(t, p.Project(group).Empty(), group)
	}
}

func TestProjectSplicesPoolColumnsBeforeDataRequired(t *testing.T) {
	for _, group := range Default().Groups() {
		proj := Default().Project(group)
		at := proj.VisibleIndex(sample.DataRequired)
		require.GreaterOrEqual(t, at, len(sample.PoolOwned), group)
		assert.Equal(t, sample.PoolOwned, proj.Visible[at-len(sample.PoolOwned):at], group)

		seen := map[string]bool{}
		for _, col := range proj.Visible {
			assert.False(t, seen[col], "%s lists %s twice", group, col)
			seen[col] = true
		}
	}
}

func TestProjectEditableExcludesIdentityAndPoolFields(t *testing.T) {
	proj := Default().Project("WES")

	assert.Equal(t, sample.Select, proj.Visible[0])
	assert.False(t, proj.IsEditable(sample.SampleID))
	assert.False(t, proj.IsEditable(sample.PoolNo))
	assert.False(t, proj.IsEditable(sample.Size))
	assert.True(t, proj.IsEditable(sample.QubitDNA))
	assert.True(t, proj.IsEditable(sample.DataRequired))

	// editable keeps the visible order
	last := -1
	for _, col := range proj.Editable {
		idx := proj.VisibleIndex(col)
		assert.Greater(t, idx, last)
		last = idx
	}
}

func TestProjectUnknownGroup(t *testing.T) {
	proj := Default().Project("Karyotype")
	assert.True(t, proj.Empty())
	assert.Equal(t, -1, proj.EditableIndex(sample.QubitDNA))
}

func TestLabels(t *testing.T) {
	proj := Default().Project("Myeloid")
	labels := proj.Labels()
	require.Len(t, labels, len(proj.Visible))
	assert.Equal(t, "S. No.", labels[0])
	assert.Equal(t, "Data Required(GB)", labels[len(labels)-1])
}

func TestReadRejectsUnknownColumns(t *testing.T) {
	_, err := Read(strings.NewReader("policies:\n  - groups: [X]\n    columns: [sno, nope]\n"))
	assert.ErrorContains(t, err, `unknown column "nope"`)
}

func TestReadRejectsDuplicateGroups(t *testing.T) {
	doc := "policies:\n  - groups: [X]\n    columns: [sno]\n  - groups: [X]\n    columns: [sno]\n"
	_, err := Read(strings.NewReader(doc))
	assert.ErrorContains(t, err, "declared twice")
}

func TestLoadOverridesAndExtends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "columns.yaml")
	doc := `policies:
  - groups: ["HLA", "Karyotype"]
    columns: [sno, sample_id, remarks, data_required]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := Load(path)
	require.NoError(t, err)

	hla := p.Project("HLA")
	assert.Equal(t, []string{sample.SNo, sample.SampleID, "remarks"}, hla.Visible[:3])
	assert.Equal(t, []string{"remarks", sample.DataRequired}, hla.Editable)
	assert.False(t, p.Project("Karyotype").Empty())
	assert.False(t, p.Project("WES").Empty())
	assert.Equal(t, "Karyotype", p.Groups()[len(p.Groups())-1])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
