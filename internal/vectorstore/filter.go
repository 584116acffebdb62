package vectorstore

import "sort"

// filter is the Qdrant REST filter shape: a conjunction of payload equality
// conditions.
type filter struct {
	Must []condition `json:"must"`
}

type condition struct {
	Key   string `json:"key"`
	Match match  `json:"match"`
}

type match struct {
	Value string `json:"value"`
}

// matchFilter builds a conjunction from payload equality constraints.
// Conditions are emitted in key order so request bodies are stable.
func matchFilter(constraints map[string]string) filter {
	keys := make([]string, 0, len(constraints))
	for k := range constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]condition, 0, len(keys))
	for _, k := range keys {
		conditions = append(conditions, condition{
			Key:   k,
			Match: match{Value: constraints[k]},
		})
	}
	return filter{Must: conditions}
}
