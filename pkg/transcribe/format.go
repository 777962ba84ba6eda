package transcribe

import (
	"fmt"
	"sort"
	"strings"
)

// TranscriptionResult is the per-file transcript JSON the service stores
// at the transcription URL.
type TranscriptionResult struct {
	Transcripts []Transcript `json:"transcripts"`
}

// Transcript is one audio channel's recognized content.
type Transcript struct {
	ChannelID int        `json:"channel_id"`
	Text      string     `json:"text"`
	Sentences []Sentence `json:"sentences"`
}

// Sentence is one recognized utterance with speaker attribution.
type Sentence struct {
	BeginTime int64  `json:"begin_time"`
	EndTime   int64  `json:"end_time"`
	SpeakerID int    `json:"speaker_id"`
	Text      string `json:"text"`
}

// FormatTranscript renders a result as one line per sentence in begin-time
// order, each prefixed with the 1-based speaker id:
//
//	1: hello everyone
//	2: thanks for joining
func FormatTranscript(result *TranscriptionResult) string {
	if result == nil {
		return ""
	}

	var sentences []Sentence
	for _, tr := range result.Transcripts {
		sentences = append(sentences, tr.Sentences...)
	}
	sort.SliceStable(sentences, func(i, j int) bool {
		return sentences[i].BeginTime < sentences[j].BeginTime
	})

	var b strings.Builder
	for _, s := range sentences {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%d: %s\n", s.SpeakerID+1, text)
	}
	return b.String()
}
