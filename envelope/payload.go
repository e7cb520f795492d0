package envelope

// Stage payload variants. Each stage tag selects exactly one of these fixed
// field sets; the raw payload bytes travel untouched so fields added by newer
// peers are preserved in flight and ignored on decode.

// RootRequest is the client's request payload (stage root-request). The core
// copies it verbatim into fan-out assignments; beyond the fan-out limits it is
// opaque to the pipeline.
type RootRequest struct {
	Area          string   `json:"area"`
	Style         string   `json:"style,omitempty"`
	Sources       []string `json:"sources,omitempty"`
	ResearchNotes string   `json:"research_notes,omitempty"`
	MaxTopics     int      `json:"max_topics"`
	MaxSections   int      `json:"max_sections"`
}

// PlanAnnouncement publishes fan-out width to the aggregator (stage plan).
//
// The chief announces the topic census once topics are proposed; the section
// editor announces the section census per topic. Together they give the
// aggregator the authoritative expected-result count, which is only knowable
// after fan-out has actually happened.
type PlanAnnouncement struct {
	Origin     string   `json:"origin"` // "chief" or "section"
	Topics     []string `json:"topics,omitempty"`
	Topic      string   `json:"topic,omitempty"`
	SectionIDs []string `json:"section_ids,omitempty"`
}

// TopicAssignment hands one proposed topic to the section editor (stage topic).
type TopicAssignment struct {
	Topic         string   `json:"topic"`
	Style         string   `json:"style,omitempty"`
	Sources       []string `json:"sources,omitempty"`
	ResearchNotes string   `json:"research_notes,omitempty"`
	MaxSections   int      `json:"max_sections"`
}

// SectionTask hands one section of one topic to the writer (stage
// section-task). SectionID is stable across the whole revision loop and is
// what the aggregator diffs against on timeout.
type SectionTask struct {
	SectionID     string   `json:"section_id"`
	Topic         string   `json:"topic"`
	Section       string   `json:"section"`
	Style         string   `json:"style,omitempty"`
	Sources       []string `json:"sources,omitempty"`
	ResearchNotes string   `json:"research_notes,omitempty"`
}

// DraftSubmission carries a written draft to the verifier (stage draft).
type DraftSubmission struct {
	SectionID     string   `json:"section_id"`
	Topic         string   `json:"topic"`
	Section       string   `json:"section"`
	Draft         string   `json:"draft"`
	Style         string   `json:"style,omitempty"`
	Sources       []string `json:"sources,omitempty"`
	ResearchNotes string   `json:"research_notes,omitempty"`
}

// RevisionRequest sends a rejected draft back to the writer with the
// verifier's feedback (stage revision-request).
type RevisionRequest struct {
	SectionID     string   `json:"section_id"`
	Topic         string   `json:"topic"`
	Section       string   `json:"section"`
	Draft         string   `json:"draft"`
	Feedback      string   `json:"feedback"`
	Score         float64  `json:"score"`
	Style         string   `json:"style,omitempty"`
	Sources       []string `json:"sources,omitempty"`
	ResearchNotes string   `json:"research_notes,omitempty"`
}

// FinalResult is the terminal payload for one section (stage final-result).
// Forced marks a draft accepted without meeting the threshold because the
// revision budget ran out.
type FinalResult struct {
	SectionID     string   `json:"section_id"`
	Topic         string   `json:"topic"`
	Section       string   `json:"section"`
	Draft         string   `json:"draft"`
	Score         float64  `json:"score"`
	Feedback      string   `json:"feedback,omitempty"`
	ScoringMethod string   `json:"scoring_method"` // "model" or "heuristic"
	Forced        bool     `json:"forced"`
	Attempts      int      `json:"attempts"`
	Sources       []string `json:"sources,omitempty"`
}
