package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseScore(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"plain", "SCORE: 8", 8},
		{"clamped low", "SCORE: 0", 1},
		{"clamped high", "SCORE: 15", 10},
		{"with denominator", "SCORE: 7/10", 7},
		{"no space", "SCORE:9", 9},
		{"text before integer", "SCORE: about 6", 6},
		{"missing", "STRENGTHS:\n- good", 5},
		{"no integer on line", "SCORE: N/A\nSTRENGTHS:\n- 3 customers", 5},
		{"marker mid-line", "Final SCORE: 4 overall", 4},
		{"huge number", "SCORE: 99999999999999999999999", 10},
		{"lowercase marker ignored", "score: 9", 5},
		{"negative", "SCORE: -3", 1},
		{"negative large", "SCORE: -12", 1},
		{"negative huge", "SCORE: -99999999999999999999999", 1},
		{"number on next line", "SCORE:\n8", 5},
		{"detached dash", "SCORE: - 7", 7},
	}

	p := NewSectionParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Parse(tt.raw).Score)
		})
	}
}

func TestParseBulletSections(t *testing.T) {
	p := NewSectionParser()

	t.Run("strengths stop at improvements", func(t *testing.T) {
		got := p.Parse("STRENGTHS:\n- A\n- B\n- C\nIMPROVEMENTS:\n- D")
		assert.Equal(t, []string{"A", "B", "C"}, got.Strengths)
		assert.Equal(t, []string{"D"}, got.Improvements)
	})

	t.Run("non-bullet and empty bullets dropped", func(t *testing.T) {
		got := p.Parse("STRENGTHS:\nSome intro\n-   Clear problem  \n-\n  - Indented\n* star\nIMPROVEMENTS:\n")
		assert.Equal(t, []string{"Clear problem", "Indented"}, got.Strengths)
		assert.Empty(t, got.Improvements)
	})

	t.Run("improvements stop at analysis", func(t *testing.T) {
		got := p.Parse("IMPROVEMENTS:\n- Add numbers\nANALYSIS:\n- not an improvement")
		assert.Equal(t, []string{"Add numbers"}, got.Improvements)
	})

	t.Run("missing sections are empty not nil", func(t *testing.T) {
		got := p.Parse("just prose")
		assert.NotNil(t, got.Strengths)
		assert.NotNil(t, got.Improvements)
		assert.Empty(t, got.Strengths)
		assert.Empty(t, got.Improvements)
	})
}

func TestParseComment(t *testing.T) {
	p := NewSectionParser()

	assert.Equal(t, "Solid pitch overall.", p.Parse("SCORE: 7\nANALYSIS:\n  Solid pitch overall.  \n").Comment)
	assert.Equal(t, "SCORE: 7\nno analysis here", p.Parse("  SCORE: 7\nno analysis here\n").Comment)
	assert.Equal(t, "SCORE: 7\nANALYSIS:", p.Parse("SCORE: 7\nANALYSIS:   ").Comment)
}

func TestParseFullTemplate(t *testing.T) {
	raw := `SCORE: 8

STRENGTHS:
- Clear problem statement
- Large market
- Experienced founders

IMPROVEMENTS:
- Quantify traction
- Explain pricing

ANALYSIS:
The pitch is compelling but needs harder numbers.`

	got := NewSectionParser().Parse(raw)
	assert.Equal(t, Parsed{
		Score:        8,
		Strengths:    []string{"Clear problem statement", "Large market", "Experienced founders"},
		Improvements: []string{"Quantify traction", "Explain pricing"},
		Comment:      "The pitch is compelling but needs harder numbers.",
	}, got)
}
