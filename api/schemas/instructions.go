// api/schemas/instructions.go
package schemas

// InstructionSet is a snapshot of the learned behavioral rules folded into
// the system instructions of future runs. General rules apply everywhere;
// PerSite rules are keyed by bare lowercase hostname.
type InstructionSet struct {
	General []string            `json:"general"`
	PerSite map[string][]string `json:"per_site"`
}

// Empty reports whether the set carries no rules at all.
func (s InstructionSet) Empty() bool {
	return len(s.General) == 0 && len(s.PerSite) == 0
}

// RunTranscript is the text-only digest of a finished run handed to the
// self-improvement learner. It never contains image data.
type RunTranscript struct {
	RunID         string           `json:"run_id"`
	UserPrompt    string           `json:"user_prompt"`
	HistoryTail   []string         `json:"history_tail"`
	NavigationLog string           `json:"navigation_log"`
	Actions       []ExecutedAction `json:"actions"`
	FinalText     string           `json:"final_text"`
}
