package transcription

import (
	"sort"
	"strings"

	"github.com/skypro1111/chunkrec/internal/chunk"
)

// MergeTranscripts joins the non-empty per-chunk transcripts in index order with one space
func MergeTranscripts(chunks []chunk.AudioChunk) string {
	ordered := make([]chunk.AudioChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Transcript != nil && strings.TrimSpace(*c.Transcript) != "" {
			ordered = append(ordered, c)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	parts := make([]string, len(ordered))
	for i, c := range ordered {
		parts[i] = strings.TrimSpace(*c.Transcript)
	}
	return strings.Join(parts, " ")
}
