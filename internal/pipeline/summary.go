package pipeline

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/ent0n29/ember/internal/conversation"
)

// summaryTemperature is deliberately low: the summary prompt demands strict
// JSON and creativity only hurts parseability.
const summaryTemperature = 0.1

const summaryPromptHeader = `You are a JSON API. Return ONLY valid JSON, no other text.

Analyze this conversation and return exactly this JSON structure:
{"summary": "brief session summary", "struggles": ["struggle1", "struggle2"], "observations": ["obs1", "obs2"], "tips": ["tip1", "tip2"]}

Conversation:
`

// fallbackSummary is substituted when the model's output cannot be parsed.
func fallbackSummary() conversation.Summary {
	return conversation.Summary{
		Summary:      "Session completed successfully.",
		Struggles:    []string{"Unable to generate detailed analysis"},
		Observations: []string{"User engaged in conversation"},
		Tips:         []string{"Continue regular sessions", "Practice self-care"},
	}
}

// errorSummary is substituted when the generative call itself failed.
func errorSummary() conversation.Summary {
	return conversation.Summary{
		Summary:      "Session completed successfully. Summary generation encountered an error.",
		Struggles:    []string{"Unable to analyze at this time"},
		Observations: []string{"User participated actively in the session"},
		Tips:         []string{"Consider scheduling follow-up sessions", "Practice self-care techniques discussed"},
	}
}

// GenerateSummary asks the generative service for a structured analysis of
// the transcript. It never fails: any parse or provider error degrades to a
// fixed fallback summary.
func (o *Orchestrator) GenerateSummary(ctx context.Context, sessionID string, history []string) conversation.Summary {
	prompt := summaryPromptHeader + strings.Join(history, "\n") + "\n\nJSON Response:"

	raw, err := o.generator.Generate(ctx, prompt, summaryTemperature)
	if err != nil {
		log.Printf("summary generation failed for session %s: %v", sessionID, err)
		o.metrics.ProviderErrors.WithLabelValues("generator").Inc()
		return errorSummary()
	}

	jsonStr := ExtractJSONObject(raw)
	var parsed struct {
		Summary      string   `json:"summary"`
		Struggles    []string `json:"struggles"`
		Observations []string `json:"observations"`
		Tips         []string `json:"tips"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		log.Printf("summary JSON parse failed for session %s: %v (raw: %q, cleaned: %q)", sessionID, err, raw, jsonStr)
		return fallbackSummary()
	}

	out := conversation.Summary{
		Summary:      parsed.Summary,
		Struggles:    parsed.Struggles,
		Observations: parsed.Observations,
		Tips:         parsed.Tips,
	}
	if strings.TrimSpace(out.Summary) == "" {
		out.Summary = "Session completed successfully."
	}
	if len(out.Struggles) == 0 {
		out.Struggles = []string{"No specific struggles identified"}
	}
	if len(out.Observations) == 0 {
		out.Observations = []string{"User participated actively in the session"}
	}
	if len(out.Tips) == 0 {
		out.Tips = []string{"Continue with regular sessions", "Practice self-care"}
	}
	return out
}

// ExtractJSONObject returns the first balanced top-level {...} span in s,
// tolerating conversational wrapper text around it. If no complete object
// is found, s is returned unchanged and left to the JSON parser to reject.
func ExtractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s
}
