package transcription

import (
	"path/filepath"
	"strings"
)

// SupportedFormats lists the upload extensions the collaborator accepts
var SupportedFormats = []string{".wav", ".mp3", ".m4a", ".flac", ".ogg"}

// ValidateAudioFormat checks if the file format is supported
func ValidateAudioFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}

	for _, format := range SupportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// ArtifactPath returns where the collaborator writes its JSON segment list
// for audioPath: <outputDir>/<audio base name without extension>.json
func ArtifactPath(outputDir, audioPath string) string {
	base := filepath.Base(audioPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outputDir, stem+".json")
}
