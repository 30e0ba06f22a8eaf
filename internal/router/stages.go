package router

import (
	"encoding/json"
	"fmt"
	"strings"
)

// factEntry is one fact_finding result row.
type factEntry struct {
	Key   string   `json:"key"`
	Value string   `json:"value"`
	Scope string   `json:"scope"`
	Tags  []string `json:"tags"`
}

// decision is the what_to_do contract: a skill id plus free-form
// parameters.
type decision struct {
	Skill                  string
	Params                 map[string]any
	PersonalityInstruction string
}

// stripFences removes markdown code fences some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// parseFacts decodes the fact_finding array, dropping malformed rows.
func parseFacts(raw string) []factEntry {
	var entries []factEntry
	if err := json.Unmarshal([]byte(stripFences(raw)), &entries); err != nil {
		return nil
	}
	var out []factEntry
	for _, e := range entries {
		if e.Key != "" && e.Value != "" {
			out = append(out, e)
		}
	}
	return out
}

// parseDecision decodes the what_to_do object. Total parsing: any
// malformed or skill-less output is an error the caller turns into an
// excuse.
func parseDecision(raw string) (*decision, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(stripFences(raw)), &doc); err != nil {
		return nil, fmt.Errorf("router: parse what_to_do: %w", err)
	}
	skill, _ := doc["skill"].(string)
	if skill == "" {
		return nil, fmt.Errorf("router: what_to_do returned no skill")
	}
	d := &decision{Skill: skill, Params: make(map[string]any)}
	for k, v := range doc {
		switch k {
		case "skill":
		case "personality_instruction":
			d.PersonalityInstruction, _ = v.(string)
		default:
			d.Params[k] = v
		}
	}
	return d, nil
}

// stringParam reads a string field out of skill params.
func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}
