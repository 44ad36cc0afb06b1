package shaping

import (
	"errors"
	"testing"
)

func TestDefaultProfiles(t *testing.T) {
	profiles := DefaultProfiles()
	tests := []struct {
		kind      Kind
		maxTokens int
		limit     int
		drift     bool
	}{
		{KindAsk, 200, 250, false},
		{KindMentionShort, 200, ChatMessageLimit, false},
		{KindMentionLong, 100, 400, true},
		{KindGenShort, 150, ChatMessageLimit, false},
		{KindGenLong, 100, 400, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			p, err := profiles.Lookup(tt.kind)
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if p.MaxTokens != tt.maxTokens {
				t.Errorf("MaxTokens = %d, want %d", p.MaxTokens, tt.maxTokens)
			}
			if p.HardLimit != tt.limit {
				t.Errorf("HardLimit = %d, want %d", p.HardLimit, tt.limit)
			}
			if (len(p.DriftPhrases) > 0) != tt.drift {
				t.Errorf("drift phrases present = %v, want %v", len(p.DriftPhrases) > 0, tt.drift)
			}
			if p.HardLimit > ChatMessageLimit {
				t.Errorf("HardLimit %d exceeds chat limit", p.HardLimit)
			}
			if len(p.Stop) == 0 {
				t.Error("expected stop sequences")
			}
		})
	}
}

func TestProfilesLookupUnknown(t *testing.T) {
	_, err := DefaultProfiles().Lookup("weather")
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Lookup() error = %v, want ErrUnknownKind", err)
	}
}

func TestNewProfilesCopiesSlices(t *testing.T) {
	stop := []string{"\n"}
	profiles := NewProfiles(Profile{Kind: KindAsk, Stop: stop, HardLimit: 10})
	stop[0] = "changed"
	p, _ := profiles.Lookup(KindAsk)
	if p.Stop[0] != "\n" {
		t.Errorf("profile table shares caller slice: %q", p.Stop[0])
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		context string
		long    bool
		want    Kind
	}{
		{"ask", false, KindAsk},
		{"ask", true, KindAsk},
		{"mention", false, KindMentionShort},
		{"Mention", true, KindMentionLong},
		{"general", false, KindGenShort},
		{"general", true, KindGenLong},
	}
	for _, tt := range tests {
		if got := Classify(tt.context, tt.long); got != tt.want {
			t.Errorf("Classify(%q, %v) = %s, want %s", tt.context, tt.long, got, tt.want)
		}
	}
}
