package pipeline

import (
	"log"
	"os"
	"strings"
)

// promptWindow bounds how many transcript entries are included in a prompt,
// keeping prompt size independent of session age.
const promptWindow = 10

// DefaultSystemPrompt is used when no prompt file is available.
const DefaultSystemPrompt = "You are a helpful assistant. Keep responses very short (1-2 sentences maximum)."

// LoadSystemPrompt reads the system prompt from disk, falling back to the
// built-in prompt when the file is missing or unreadable.
func LoadSystemPrompt(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("system prompt file %s unavailable, using built-in prompt: %v", path, err)
		return DefaultSystemPrompt
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		log.Printf("system prompt file %s is empty, using built-in prompt", path)
		return DefaultSystemPrompt
	}
	return prompt
}

// BuildPrompt assembles the generation prompt from the system prompt, the
// last promptWindow transcript entries in original order, and an explicit
// assistant turn marker.
func BuildPrompt(systemPrompt string, history []string) string {
	window := history
	if len(window) > promptWindow {
		window = window[len(window)-promptWindow:]
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nConversation:\n")
	b.WriteString(strings.Join(window, "\n"))
	b.WriteString("\nAssistant:")
	return b.String()
}
