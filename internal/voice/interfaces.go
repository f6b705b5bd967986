// Package voice turns reply text into audio via a hosted TTS provider.
package voice

import "context"

// Synthesizer converts text into encoded audio bytes (mp3).
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
