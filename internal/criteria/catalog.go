// Package criteria holds the evaluation dimensions a pitch is scored against.
package criteria

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pitch-perfect/backend/pkg/utils"
)

type Criterion struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Aspects     []string `json:"aspects"`
}

// Catalog is an ordered list of criteria. Evaluation output follows this order.
type Catalog []Criterion

var defaultCatalog = Catalog{
	{
		Name:        "Problem-Solution Fit",
		Description: "How well the pitch identifies a real, painful problem and presents a solution that credibly solves it for a clearly defined customer.",
		Aspects: []string{
			"Problem clarity and significance",
			"Solution effectiveness and uniqueness",
			"Target customer definition",
			"Evidence of demand or validation",
		},
	},
	{
		Name:        "Business Potential",
		Description: "The size of the opportunity and the soundness of the plan to capture it, including revenue model and competitive position.",
		Aspects: []string{
			"Market size and growth",
			"Business model and revenue strategy",
			"Competitive advantage",
			"Scalability",
		},
	},
	{
		Name:        "Presentation Quality",
		Description: "How clearly, persuasively and memorably the pitch is delivered, independent of the underlying business.",
		Aspects: []string{
			"Structure and flow",
			"Clarity and conciseness",
			"Persuasiveness and storytelling",
			"Call to action",
		},
	},
}

// Default returns a copy of the built-in catalog.
func Default() Catalog {
	out := make(Catalog, len(defaultCatalog))
	for i, c := range defaultCatalog {
		out[i] = Criterion{
			Name:        c.Name,
			Description: c.Description,
			Aspects:     append([]string(nil), c.Aspects...),
		}
	}
	return out
}

func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, criterion := range c {
		names[i] = criterion.Name
	}
	return names
}

// Fingerprint identifies the full catalog content: order, names,
// descriptions and aspects. Any edit yields a new value.
func (c Catalog) Fingerprint() string {
	data, err := json.Marshal(c)
	if err != nil {
		// a slice of plain structs always marshals
		panic(fmt.Sprintf("marshal criteria catalog: %v", err))
	}
	return utils.HashString(string(data))
}

// Validate rejects an empty catalog, blank names and duplicates.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return errors.New("criteria catalog is empty")
	}

	seen := make(map[string]struct{}, len(c))
	for i, criterion := range c {
		if criterion.Name == "" {
			return fmt.Errorf("criterion %d has no name", i)
		}
		if _, dup := seen[criterion.Name]; dup {
			return fmt.Errorf("duplicate criterion %q", criterion.Name)
		}
		seen[criterion.Name] = struct{}{}
	}
	return nil
}
