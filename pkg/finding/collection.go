package finding

// Collection is the in-memory container for a set of findings plus the
// operations stages perform over them. It replaces passing bare slices
// or maps between stages.
type Collection struct {
	Items []Finding `json:"items"`
}

// NewCollection wraps a slice of findings without copying.
func NewCollection(items []Finding) *Collection {
	return &Collection{Items: items}
}

// ByLocationKey indexes the collection by its exact-tier location key.
// When multiple findings share a key, the first one wins (callers that
// care about all of them should scan Items directly).
func (c *Collection) ByLocationKey() map[string]Finding {
	out := make(map[string]Finding, len(c.Items))
	for _, f := range c.Items {
		key := LocationKey(f.File, f.Line)
		if _, exists := out[key]; !exists {
			out[key] = f
		}
	}
	return out
}

// ByBroadKey indexes the collection by normalized file path. Each bucket
// preserves encounter order.
func (c *Collection) ByBroadKey() map[string][]Finding {
	out := make(map[string][]Finding)
	for _, f := range c.Items {
		key := BroadKey(f.File)
		out[key] = append(out[key], f)
	}
	return out
}

// HighSeverity returns the subset whose severity is HIGH, MEDIUM, or
// CRITICAL — the set the hint generator is allowed to project from.
func (c *Collection) HighSeverity() []Finding {
	out := make([]Finding, 0, len(c.Items))
	for _, f := range c.Items {
		switch f.Severity {
		case SeverityCritical, SeverityHigh, SeverityMedium:
			out = append(out, f)
		}
	}
	return out
}

// Len reports the number of findings in the collection.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Items)
}
