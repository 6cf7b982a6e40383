package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	catalog := Default()

	require.NoError(t, catalog.Validate())
	assert.Equal(t, []string{"Problem-Solution Fit", "Business Potential", "Presentation Quality"}, catalog.Names())
	for _, c := range catalog {
		assert.NotEmpty(t, c.Description, c.Name)
		assert.GreaterOrEqual(t, len(c.Aspects), 3, c.Name)
		assert.LessOrEqual(t, len(c.Aspects), 4, c.Name)
	}
}

func TestDefaultReturnsCopy(t *testing.T) {
	first := Default()
	first[0].Name = "changed"
	first[0].Aspects[0] = "changed"

	second := Default()
	assert.Equal(t, "Problem-Solution Fit", second[0].Name)
	assert.NotEqual(t, "changed", second[0].Aspects[0])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		catalog Catalog
		wantErr string
	}{
		{"empty", Catalog{}, "empty"},
		{"blank name", Catalog{{Name: ""}}, "no name"},
		{"duplicate", Catalog{{Name: "A"}, {Name: "A"}}, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.catalog.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFingerprint(t *testing.T) {
	base := Default().Fingerprint()
	assert.Equal(t, base, Default().Fingerprint())

	tests := []struct {
		name   string
		change func(Catalog) Catalog
	}{
		{"description", func(c Catalog) Catalog { c[0].Description += "!"; return c }},
		{"aspect", func(c Catalog) Catalog { c[1].Aspects[0] = "Team"; return c }},
		{"extra aspect", func(c Catalog) Catalog { c[2].Aspects = append(c[2].Aspects, "Demo"); return c }},
		{"order", func(c Catalog) Catalog { c[0], c[1] = c[1], c[0]; return c }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.change(Default()).Fingerprint())
		})
	}
}
