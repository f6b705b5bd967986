// Package pipeline drives one conversational turn through transcription,
// history assembly, generation, sanitization, and speech synthesis. Every
// stage is fault-isolated: provider failures degrade the turn instead of
// aborting it.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/ember/internal/artifact"
	"github.com/ent0n29/ember/internal/conversation"
	"github.com/ent0n29/ember/internal/llm"
	"github.com/ent0n29/ember/internal/observability"
	"github.com/ent0n29/ember/internal/sanitize"
	"github.com/ent0n29/ember/internal/transcribe"
	"github.com/ent0n29/ember/internal/voice"
)

// Request errors: the only failures surfaced to the caller. Everything
// provider-side degrades instead.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyUpload     = errors.New("no audio data received")
	ErrAudioSave       = errors.New("could not save audio")
)

const (
	turnTemperature float32 = 0.7

	// checkpointEvery is the text-chat transcript length interval at which
	// the full history is re-persisted with a refreshed preview.
	checkpointEvery = 4

	degradedHearingReply    = "I couldn't hear anything. Please try speaking again."
	degradedGenerationReply = "I'm having trouble generating a response right now."
)

// Transcriber converts raw audio bytes into a tagged transcription result.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) transcribe.Result
}

// Orchestrator sequences the stages of a conversational turn.
type Orchestrator struct {
	store        conversation.Store
	transcriber  Transcriber
	generator    llm.Generator
	synthesizer  voice.Synthesizer
	artifacts    *artifact.Manager
	metrics      *observability.Metrics
	systemPrompt string
}

func NewOrchestrator(
	store conversation.Store,
	transcriber Transcriber,
	generator llm.Generator,
	synthesizer voice.Synthesizer,
	artifacts *artifact.Manager,
	metrics *observability.Metrics,
	systemPrompt string,
) *Orchestrator {
	return &Orchestrator{
		store:        store,
		transcriber:  transcriber,
		generator:    generator,
		synthesizer:  synthesizer,
		artifacts:    artifacts,
		metrics:      metrics,
		systemPrompt: systemPrompt,
	}
}

// VoiceResult is the outcome of one voice turn. AudioFile is empty when
// synthesis was skipped or failed; the caller still gets text.
type VoiceResult struct {
	ResponseText string `json:"response_text"`
	AudioFile    string `json:"audio_file,omitempty"`
}

// VoiceTurn runs the full voice pipeline for one uploaded clip. The only
// errors returned are request errors (unknown session, empty upload, save
// failure); provider failures degrade per stage. The input artifact is
// deleted before returning no matter how the turn ended.
func (o *Orchestrator) VoiceTurn(ctx context.Context, sessionID string, audio []byte, contentType string) (VoiceResult, error) {
	started := time.Now()

	exists, err := o.store.Exists(ctx, sessionID)
	if err != nil {
		return VoiceResult{}, fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return VoiceResult{}, ErrSessionNotFound
	}

	if len(audio) == 0 {
		return VoiceResult{}, ErrEmptyUpload
	}

	inputName := artifact.InputName(sessionID)
	if _, err := o.artifacts.Save(inputName, bytes.NewReader(audio)); err != nil {
		log.Printf("voice turn %s: saving input failed: %v", sessionID, err)
		return VoiceResult{}, ErrAudioSave
	}
	// The uploaded clip must never outlive its request.
	defer func() {
		if err := o.artifacts.Remove(inputName); err != nil {
			log.Printf("voice turn %s: input cleanup failed: %v", sessionID, err)
		}
	}()

	userText := o.transcribeStage(ctx, sessionID, audio, contentType)
	responseText, history := o.respondStage(ctx, sessionID, userText)

	result := VoiceResult{ResponseText: responseText}
	o.persistStage(ctx, sessionID, history, false)

	if audioFile, ok := o.synthesizeStage(ctx, sessionID, responseText); ok {
		result.AudioFile = audioFile
	}

	o.metrics.Turns.WithLabelValues("voice", "ok").Inc()
	o.metrics.ObserveTurnLatency(time.Since(started))
	return result, nil
}

// TextTurn runs the text-only variant: no audio save, transcription, or
// synthesis. Every fourth transcript entry triggers a full checkpoint.
func (o *Orchestrator) TextTurn(ctx context.Context, sessionID, message string) (string, error) {
	started := time.Now()

	exists, err := o.store.Exists(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return "", ErrSessionNotFound
	}

	responseText, history := o.respondStage(ctx, sessionID, message)
	o.persistStage(ctx, sessionID, history, len(history) >= checkpointEvery && len(history)%checkpointEvery == 0)

	o.metrics.Turns.WithLabelValues("text", "ok").Inc()
	o.metrics.ObserveTurnLatency(time.Since(started))
	return responseText, nil
}

// EndResult reports how session termination went.
type EndResult struct {
	Message          string `json:"message"`
	SummaryGenerated bool   `json:"summary_generated"`
}

// EndSession checkpoints the transcript, marks the session ended, and, when
// the transcript holds at least one full exchange, generates and stores a
// structured summary. Summary failure never fails termination.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) (EndResult, error) {
	history, err := o.store.History(ctx, sessionID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return EndResult{}, ErrSessionNotFound
		}
		return EndResult{}, fmt.Errorf("load history: %w", err)
	}

	if err := o.store.Checkpoint(ctx, sessionID, history); err != nil {
		log.Printf("end session %s: checkpoint failed: %v", sessionID, err)
	}
	if err := o.store.End(ctx, sessionID); err != nil {
		return EndResult{}, fmt.Errorf("mark session ended: %w", err)
	}
	o.metrics.SessionEvents.WithLabelValues("ended").Inc()

	if len(history) < 2 {
		log.Printf("session %s too short for summary generation", sessionID)
		return EndResult{Message: "Session ended (too short for summary)"}, nil
	}

	summary := o.GenerateSummary(ctx, sessionID, history)
	if err := o.store.SaveSummary(ctx, sessionID, summary); err != nil {
		log.Printf("end session %s: saving summary failed: %v", sessionID, err)
		return EndResult{Message: "Session ended (summary generation failed)"}, nil
	}
	return EndResult{Message: "Session ended and summary generated", SummaryGenerated: true}, nil
}

// DebugTranscribe runs the transcription stage in isolation against a
// uniquely named diagnostic artifact, which is removed before returning.
func (o *Orchestrator) DebugTranscribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyUpload
	}

	name := artifact.DebugInputName(uuid.NewString())
	if _, err := o.artifacts.Save(name, bytes.NewReader(audio)); err != nil {
		return "", ErrAudioSave
	}
	defer func() {
		if err := o.artifacts.Remove(name); err != nil {
			log.Printf("debug transcribe: cleanup of %s failed: %v", name, err)
		}
	}()

	res := o.transcriber.Transcribe(ctx, audio, contentType)
	return res.Text, nil
}

// transcribeStage converts audio to user text, degrading to a fixed line
// when the service heard nothing usable.
func (o *Orchestrator) transcribeStage(ctx context.Context, sessionID string, audio []byte, contentType string) string {
	res := o.transcriber.Transcribe(ctx, audio, contentType)
	if res.Outcome != transcribe.OutcomeTranscribed || res.Text == "" {
		log.Printf("voice turn %s: transcription degraded (%s)", sessionID, res.Outcome)
		o.stage("transcribe", false)
		o.metrics.ProviderErrors.WithLabelValues("transcriber").Inc()
		return degradedHearingReply
	}
	o.stage("transcribe", true)
	return res.Text
}

// respondStage folds the user text into history, builds the bounded prompt,
// generates, and sanitizes. It returns the reply and the updated history
// (user and assistant entries appended).
func (o *Orchestrator) respondStage(ctx context.Context, sessionID, userText string) (string, []string) {
	history, err := o.store.History(ctx, sessionID)
	if err != nil {
		log.Printf("turn %s: history load degraded: %v", sessionID, err)
		o.stage("history", false)
		history = nil
	} else {
		o.stage("history", true)
	}
	history = append(history, "User: "+userText)

	prompt := BuildPrompt(o.systemPrompt, history)

	responseText, err := o.generator.Generate(ctx, prompt, turnTemperature)
	if err != nil {
		log.Printf("turn %s: generation degraded: %v", sessionID, err)
		o.stage("generate", false)
		o.metrics.ProviderErrors.WithLabelValues("generator").Inc()
		responseText = degradedGenerationReply
	} else {
		o.stage("generate", true)
	}
	responseText = sanitize.Clean(responseText)

	history = append(history, "Assistant: "+responseText)
	return responseText, history
}

// persistStage saves the updated transcript; failure is logged and the turn
// continues so the user still gets a reply.
func (o *Orchestrator) persistStage(ctx context.Context, sessionID string, history []string, checkpoint bool) {
	if err := o.store.SetHistory(ctx, sessionID, history); err != nil {
		log.Printf("turn %s: persist degraded: %v", sessionID, err)
		o.stage("persist", false)
		return
	}
	o.stage("persist", true)

	if !checkpoint {
		return
	}
	if err := o.store.Checkpoint(ctx, sessionID, history); err != nil {
		log.Printf("turn %s: checkpoint failed: %v", sessionID, err)
	}
}

// synthesizeStage produces and schedules the output artifact. On any
// failure the turn completes text-only.
func (o *Orchestrator) synthesizeStage(ctx context.Context, sessionID, text string) (string, bool) {
	audio, err := o.synthesizer.Synthesize(ctx, text)
	if err != nil {
		log.Printf("voice turn %s: synthesis degraded: %v", sessionID, err)
		o.stage("synthesize", false)
		o.metrics.ProviderErrors.WithLabelValues("synthesizer").Inc()
		return "", false
	}

	outputName := artifact.OutputName(sessionID)
	if _, err := o.artifacts.Save(outputName, bytes.NewReader(audio)); err != nil {
		log.Printf("voice turn %s: saving output degraded: %v", sessionID, err)
		o.stage("synthesize", false)
		return "", false
	}
	o.stage("synthesize", true)

	o.artifacts.ScheduleRemoval(outputName)
	return outputName, true
}

func (o *Orchestrator) stage(name string, ok bool) {
	result := "ok"
	if !ok {
		result = "degraded"
	}
	o.metrics.TurnStages.WithLabelValues(name, result).Inc()
}
