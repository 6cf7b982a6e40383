package evaluation

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	markerScore        = "SCORE:"
	markerStrengths    = "STRENGTHS:"
	markerImprovements = "IMPROVEMENTS:"
	markerAnalysis     = "ANALYSIS:"

	defaultScore = 5
	minScore     = 1
	maxScore     = 10
)

var scorePattern = regexp.MustCompile(`SCORE:[^\d\n]*?(-?\d+)`)

// Parsed is the structured content of one model response.
type Parsed struct {
	Score        int
	Strengths    []string
	Improvements []string
	Comment      string
}

// Parser turns a raw model response into a Parsed value. It never fails:
// anything it cannot find falls back to a default.
type Parser interface {
	Parse(raw string) Parsed
}

// SectionParser reads the four-section template the evaluation prompt asks for.
//
//	SCORE: <integer>          first signed integer on the same line, clamped to [1,10];
//	                          default 5, also when the number sits on the next line
//	STRENGTHS:                "-" bullet lines up to the next section marker
//	IMPROVEMENTS:             "-" bullet lines up to the next section marker
//	ANALYSIS: <free text>     everything after the marker; raw response when absent
type SectionParser struct{}

func NewSectionParser() *SectionParser {
	return &SectionParser{}
}

func (p *SectionParser) Parse(raw string) Parsed {
	return Parsed{
		Score:        parseScore(raw),
		Strengths:    bulletLines(section(raw, markerStrengths)),
		Improvements: bulletLines(section(raw, markerImprovements)),
		Comment:      parseComment(raw),
	}
}

func parseScore(raw string) int {
	m := scorePattern.FindStringSubmatch(raw)
	if m == nil {
		return defaultScore
	}

	score, err := strconv.Atoi(m[1])
	if err != nil {
		// overflow: the digits were there, so the sign decides the bound
		if strings.HasPrefix(m[1], "-") {
			return minScore
		}
		return maxScore
	}
	return clampScore(score)
}

func clampScore(score int) int {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

// section returns the text after marker up to the nearest following section
// marker, or "" if marker is absent.
func section(raw, marker string) string {
	start := strings.Index(raw, marker)
	if start < 0 {
		return ""
	}
	body := raw[start+len(marker):]

	end := len(body)
	for _, next := range []string{markerScore, markerStrengths, markerImprovements, markerAnalysis} {
		if next == marker {
			continue
		}
		if i := strings.Index(body, next); i >= 0 && i < end {
			end = i
		}
	}
	return body[:end]
}

func bulletLines(text string) []string {
	items := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		item := strings.TrimSpace(strings.TrimPrefix(line, "-"))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseComment(raw string) string {
	if i := strings.Index(raw, markerAnalysis); i >= 0 {
		if comment := strings.TrimSpace(raw[i+len(markerAnalysis):]); comment != "" {
			return comment
		}
	}
	return strings.TrimSpace(raw)
}
