// Package memory adapts the MCP-based knowledge-graph tool into the
// operations the router needs: classify-then-record episodes, multi-group
// search, confidence scoring, and identity preload. The
// knowledge-graph backend itself is an external collaborator; this package
// only speaks its tool contract.
package memory

import "time"

// Type partitions episodes into the 8 memory categories.
type Type string

const (
	TypeEpisodic         Type = "episodic"
	TypeSemantic         Type = "semantic"
	TypeProcedural       Type = "procedural"
	TypePriming          Type = "priming"
	TypeEmotional        Type = "emotional"
	TypeProspective      Type = "prospective"
	TypeAutobiographical Type = "autobiographical"
	TypeSpatial          Type = "spatial"
)

// groupPrefix namespaces this application's episodes inside the shared
// knowledge graph.
const groupPrefix = "llm_council"

// typeDescriptions feed the classification prompt.
var typeDescriptions = map[Type]string{
	TypeEpisodic:         "specific events and experiences tied to a time and place",
	TypeSemantic:         "facts, concepts, and general knowledge",
	TypeProcedural:       "how to do things, steps, and instructions",
	TypePriming:          "cues and associations that shape later responses",
	TypeEmotional:        "feelings, moods, and emotional reactions",
	TypeProspective:      "intentions and things to do in the future",
	TypeAutobiographical: "personal history, identity, names, and relationships",
	TypeSpatial:          "places, locations, and spatial relationships",
}

// AllTypes lists every memory type in a stable order.
func AllTypes() []Type {
	return []Type{
		TypeEpisodic, TypeSemantic, TypeProcedural, TypePriming,
		TypeEmotional, TypeProspective, TypeAutobiographical, TypeSpatial,
	}
}

// GroupID returns the knowledge-graph group id for a memory type
// (llm_council_<type>).
func GroupID(t Type) string {
	return groupPrefix + "_" + string(t)
}

// AllGroupIDs returns the base group plus every per-type group, for search.
func AllGroupIDs(baseGroup string) []string {
	groups := []string{baseGroup}
	for _, t := range AllTypes() {
		groups = append(groups, GroupID(t))
	}
	return groups
}

// Episode is one unit written to the knowledge graph.
type Episode struct {
	Name              string         `json:"name"`
	Body              string         `json:"episode_body"`
	SourceDescription string         `json:"source_description"`
	ReferenceTime     time.Time      `json:"reference_time"`
	GroupID           string         `json:"group_id"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// SearchHit is one deduplicated node- or fact-search result.
type SearchHit struct {
	UUID       string
	Kind       string // "node" | "fact"
	Content    string
	MemoryType string
	CreatedAt  time.Time
	GroupID    string
}

// Response is a memory-backed answer the router may return directly when
// confidence clears the threshold.
type Response struct {
	Response   string  `json:"response"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}
