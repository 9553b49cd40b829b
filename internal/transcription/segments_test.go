package transcription

import (
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{15, "00:00:15"},
		{59.999, "00:00:59"},
		{61.5, "00:01:01"},
		{3599.9, "00:59:59"},
		{3600, "01:00:00"},
		{36000 + 62, "10:01:02"},
		{-3, "00:00:00"},
	}
	for _, tt := range tests {
		if got := FormatTimestamp(tt.seconds); got != tt.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

var timestampPattern = regexp.MustCompile(`^\d{2,}:[0-5]\d:[0-5]\d$`)

// TestFormatTimestampOutOfRange checks absurd artifact times stay well formed.
func TestFormatTimestampOutOfRange(t *testing.T) {
	for _, seconds := range []float64{1e19, 1e300, math.Inf(1), math.Inf(-1), math.NaN(), math.MaxFloat64} {
		got := FormatTimestamp(seconds)
		if !timestampPattern.MatchString(got) {
			t.Errorf("FormatTimestamp(%v) = %q, want HH:MM:SS", seconds, got)
		}
	}
	if got := FormatTimestamp(math.NaN()); got != "00:00:00" {
		t.Errorf("FormatTimestamp(NaN) = %q, want 00:00:00", got)
	}
	if FormatTimestamp(1e19) != FormatTimestamp(1e300) {
		t.Error("values past the clamp should render identically")
	}
}

// TestReadArtifactMapsSegments checks field mapping and the default speaker.
func TestReadArtifactMapsSegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talk.json")
	mustWriteFile(t, path, `[
		{"start": 0, "end": 15, "text": "hi", "speaker": "A"},
		{"start": 15.7, "end": 75.2, "text": "there"}
	]`)

	segments, err := ReadArtifact(path)
	if err != nil {
		t.Fatalf("ReadArtifact() error = %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("len = %d, want 2", len(segments))
	}

	first := segments[0]
	if first.Speaker != "A" || first.StartTime != "00:00:00" || first.EndTime != "00:00:15" || first.Text != "hi" {
		t.Fatalf("first segment = %+v", first)
	}
	second := segments[1]
	if second.Speaker != "SPEAKER_00" || second.StartTime != "00:00:15" || second.EndTime != "00:01:15" {
		t.Fatalf("second segment = %+v", second)
	}
}

func TestReadArtifactErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadArtifact(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("expected read error")
	}

	corrupt := filepath.Join(dir, "corrupt.json")
	mustWriteFile(t, corrupt, `{"segments": [`)
	if _, err := ReadArtifact(corrupt); err == nil {
		t.Fatal("expected parse error")
	}
}

// TestFallbackSegmentsDeterministic checks the placeholder shape.
func TestFallbackSegmentsDeterministic(t *testing.T) {
	a := FallbackSegments("meeting.wav")
	b := FallbackSegments("meeting.wav")
	if len(a) != 4 {
		t.Fatalf("len = %d, want 4", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("segment %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
	if !strings.Contains(a[0].Text, "meeting.wav") {
		t.Fatalf("first segment should reference the filename: %q", a[0].Text)
	}
	if !strings.Contains(FallbackSegments("")[0].Text, "audio.wav") {
		t.Fatal("empty filename should fall back to audio.wav")
	}
	want := "The system uses OpenAI Whisper for transcription and NeMo for diarization."
	if !strings.HasSuffix(a[2].Text, want) {
		t.Fatalf("third segment = %q", a[2].Text)
	}
	if a[2].Speaker != "Speaker 1" || a[2].StartTime != "00:00:29" || a[2].EndTime != "00:00:45" {
		t.Fatalf("third segment timing = %+v", a[2])
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("Truncate short = %q", got)
	}
	if got := Truncate("héllo wörld", 4); got != "héll" {
		t.Fatalf("Truncate multibyte = %q", got)
	}
}

func TestValidateAudioFormat(t *testing.T) {
	for _, name := range []string{"a.wav", "b.MP3", "c.m4a", "d.flac", "e.ogg"} {
		if !ValidateAudioFormat(name) {
			t.Errorf("ValidateAudioFormat(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"notes.txt", "video.webm", "noext", "", ".wav.exe"} {
		if ValidateAudioFormat(name) {
			t.Errorf("ValidateAudioFormat(%q) = true, want false", name)
		}
	}
}
