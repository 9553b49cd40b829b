package transcription

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/types"
)

// MaxWarningLength bounds stored stderr and warning text, in characters
const MaxWarningLength = 2000

// maxTimestampSeconds keeps the int64 conversion in range
const maxTimestampSeconds = math.MaxInt64 / 2

// FormatTimestamp renders seconds as HH:MM:SS, truncating fractions.
// Negative and NaN input render as 00:00:00; huge values are clamped.
func FormatTimestamp(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	if seconds > maxTimestampSeconds {
		seconds = maxTimestampSeconds
	}
	total := int64(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

// ReadArtifact loads and converts the collaborator's JSON segment list
func ReadArtifact(path string) ([]types.Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read diarization output: %w", err)
	}

	var raw []types.RawSegment
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse diarization JSON: %w", err)
	}

	return ConvertSegments(raw), nil
}

// ConvertSegments maps collaborator records to API segments
func ConvertSegments(raw []types.RawSegment) []types.Segment {
	segments := make([]types.Segment, len(raw))
	for i, seg := range raw {
		speaker := seg.Speaker
		if speaker == "" {
			speaker = types.DefaultSpeaker
		}
		segments[i] = types.Segment{
			Speaker:   speaker,
			StartTime: FormatTimestamp(seg.Start),
			EndTime:   FormatTimestamp(seg.End),
			Text:      seg.Text,
		}
	}
	return segments
}

// FallbackSegments is the deterministic placeholder transcript used when the
// collaborator could not produce a result.
func FallbackSegments(filename string) []types.Segment {
	if filename == "" {
		filename = "audio.wav"
	}
	return []types.Segment{
		{
			Speaker:   "Speaker 1",
			StartTime: "00:00:00",
			EndTime:   "00:00:15",
			Text:      fmt.Sprintf("This is a demonstration of the Whisper Diarization system processing the file %s. The system successfully identified multiple speakers and transcribed their speech.", filename),
		},
		{
			Speaker:   "Speaker 2",
			StartTime: "00:00:16",
			EndTime:   "00:00:28",
			Text:      "The AI-powered transcription includes automatic punctuation, speaker separation, and timestamp generation. This makes it perfect for meetings, interviews, and podcasts.",
		},
		{
			Speaker:   "Speaker 1",
			StartTime: "00:00:29",
			EndTime:   "00:00:45",
			Text:      "Key features include support for multiple audio formats, real-time processing feedback, and the ability to download results. The system uses OpenAI Whisper for transcription and NeMo for diarization.",
		},
		{
			Speaker:   "Speaker 3",
			StartTime: "00:00:46",
			EndTime:   "00:01:02",
			Text:      "For production use, simply ensure the whisper-diarization dependencies are installed and the processing will use the actual AI models instead of this demo output.",
		},
	}
}

// Truncate cuts s to at most max characters without splitting a rune
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n == max {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}
