package types

// Job status constants. A job never reports a failed state; collaborator
// failures end in StatusCompleted with a warning.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// Step labels reported while a job runs
const (
	StepInitializing  = "Initializing..."
	StepPreprocessing = "Audio preprocessing..."
	StepTranscription = "Speech transcription..."
	StepDiarization   = "Speaker diarization..."
	StepFinalizing    = "Final processing..."
	StepGenerating    = "Generating output..."
	StepComplete      = "Complete!"
	StepFallback      = "Complete (fallback)"
)

// Device constants
const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// DefaultSpeaker labels segments the collaborator emitted without a speaker.
const DefaultSpeaker = "SPEAKER_00"

// Options is the caller-supplied processing configuration. It is stored on
// the job as-is and written into the transcript header.
type Options map[string]any

// String returns the option value for key, or "" when absent or not a string.
func (o Options) String(key string) string {
	if o == nil {
		return ""
	}
	v, ok := o[key].(string)
	if !ok {
		return ""
	}
	return v
}

// Redacted returns a copy with credential values masked, for display and
// persisted artifacts.
func (o Options) Redacted() Options {
	if o == nil {
		return nil
	}
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	if s, ok := out[OptionHFToken].(string); ok && s != "" {
		out[OptionHFToken] = "***"
	}
	return out
}

// Option keys accepted from the upload form
const (
	OptionWhisperModel = "whisper_model"
	OptionDevice       = "device"
	OptionLanguage     = "language"
	OptionHFToken      = "hf_token"
)

// Segment is one transcript entry as exposed by the API
type Segment struct {
	Speaker   string `json:"speaker"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Text      string `json:"text"`
}

// RawSegment matches one record of the collaborator's JSON artifact
type RawSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}
