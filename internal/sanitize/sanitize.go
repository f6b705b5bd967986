// Package sanitize normalizes raw generative-model output before it is
// shown to the user or fed into speech synthesis.
package sanitize

import (
	"regexp"
	"strings"
)

// FallbackReply is returned whenever cleaning leaves nothing meaningful.
const FallbackReply = "I'm here to help. Could you tell me more about what's on your mind?"

const minMeaningfulLen = 3

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// noisePhrases are diagnostic strings known to leak from upstream tooling.
var noisePhrases = []string{
	"failed to get console mode for stdout: The handle is invalid.",
	"failed to get console mode for stderr: The handle is invalid.",
	"The handle is invalid.",
}

// Clean strips reasoning blocks and known noise from raw model output,
// collapses whitespace, and guarantees a non-empty reply.
func Clean(raw string) string {
	if raw == "" {
		return FallbackReply
	}

	out := thinkBlockRe.ReplaceAllString(raw, "")
	for _, phrase := range noisePhrases {
		out = strings.ReplaceAll(out, phrase, "")
	}
	out = strings.Join(strings.Fields(out), " ")

	if len(strings.TrimSpace(out)) < minMeaningfulLen {
		return FallbackReply
	}
	return out
}
