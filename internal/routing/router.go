// Package routing scores user input against weighted pattern tables and
// picks the agent best suited to handle it. Patterns are data: new agents
// or languages extend the table, never the router.
package routing

import (
	"regexp"
	"sort"
	"strings"

	"github.com/cinder-ai/cinder/pkg/models"
)

// WeightedPattern pairs a compiled regex with the confidence it confers.
type WeightedPattern struct {
	Pattern *regexp.Regexp
	Weight  float64
}

// AgentPatterns is one agent's routing table entry.
type AgentPatterns struct {
	Agent    string
	Patterns []WeightedPattern
}

// Config tunes acceptance thresholds.
type Config struct {
	// MinConfidence accepts a route (default 0.70).
	MinConfidence float64

	// AmbiguityThreshold admits near-misses into suggestions (default 0.60).
	AmbiguityThreshold float64

	// MinLength skips inputs shorter than this after trimming (default 5).
	MinLength int
}

// Router is a deterministic scorer over the pattern table.
type Router struct {
	table    []AgentPatterns
	negative []*regexp.Regexp
	config   Config
}

// New builds a router over the given table. A nil table uses the default.
func New(table []AgentPatterns, negative []*regexp.Regexp, config Config) *Router {
	if table == nil {
		table = DefaultTable()
	}
	if negative == nil {
		negative = DefaultNegative()
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = 0.70
	}
	if config.AmbiguityThreshold <= 0 {
		config.AmbiguityThreshold = 0.60
	}
	if config.MinLength <= 0 {
		config.MinLength = 5
	}
	return &Router{table: table, negative: negative, config: config}
}

// Route returns the best agent if its score meets the acceptance
// threshold, nil otherwise.
func (r *Router) Route(input string) *models.RouteDecision {
	scores := r.scores(input)
	if len(scores) == 0 {
		return nil
	}
	best := scores[0]
	if best.Confidence < r.config.MinConfidence {
		return nil
	}
	return &models.RouteDecision{Agent: best.Agent, Confidence: best.Confidence}
}

// Suggestions lists up to three agents scoring at or above the ambiguity
// threshold, best first.
func (r *Router) Suggestions(input string) []models.RouteSuggestion {
	scores := r.scores(input)
	var out []models.RouteSuggestion
	for _, s := range scores {
		if s.Confidence >= r.config.AmbiguityThreshold {
			out = append(out, s)
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}

// scores evaluates every agent; an agent's score is the max weight of any
// matching pattern. Ties break by table order for determinism.
func (r *Router) scores(input string) []models.RouteSuggestion {
	text := strings.ToLower(strings.TrimSpace(input))
	if len(text) < r.config.MinLength {
		return nil
	}
	for _, neg := range r.negative {
		if neg.MatchString(text) {
			return nil
		}
	}

	out := make([]models.RouteSuggestion, 0, len(r.table))
	for _, entry := range r.table {
		score := 0.0
		for _, wp := range entry.Patterns {
			if wp.Weight > score && wp.Pattern.MatchString(text) {
				score = wp.Weight
			}
		}
		if score > 0 {
			out = append(out, models.RouteSuggestion{Agent: entry.Agent, Confidence: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}
