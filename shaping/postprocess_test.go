package shaping

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

func TestStripSelfIntroduction(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"greeting with name", "Bonjour ! Je suis KissBot, ton assistant. La réponse est 42.", "La réponse est 42"},
		{"plain intro", "Je suis KissBot. Le ciel est bleu à cause de la diffusion.", "Le ciel est bleu à cause de la diffusion"},
		{"name prefix", "kissbot, le bot du chat. Voici une blague rigolote", "Voici une blague rigolote"},
		{"no intro", "Le ciel est bleu.", "Le ciel est bleu."},
		{"too short after strip falls back", "Je suis KissBot. Oui.", "Je suis KissBot. Oui."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripSelfIntroduction(tt.input, "KissBot"); got != tt.want {
				t.Errorf("StripSelfIntroduction() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMarkLengthStop(t *testing.T) {
	p := Profile{HardLimit: 12}
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"Déjà fini...", "Déjà fini..."},
		{"Bonjour,", "Bonjour..."},
		{"Une phrase trop longue", "Une phras..."},
	}
	for _, tt := range tests {
		got := MarkLengthStop(tt.input, p)
		if got != tt.want {
			t.Errorf("MarkLengthStop(%q) = %q, want %q", tt.input, got, tt.want)
		}
		if n := utf8.RuneCountInString(got); n > p.HardLimit {
			t.Errorf("MarkLengthStop(%q) length %d exceeds %d", tt.input, n, p.HardLimit)
		}
	}
}

func TestShaperObserverAndUnknownKind(t *testing.T) {
	var mu sync.Mutex
	seen := map[Kind]Outcome{}
	s := NewShaper(DefaultProfiles(), func(k Kind, oc Outcome) {
		mu.Lock()
		defer mu.Unlock()
		seen[k] = oc
	})

	out, oc, err := s.Shape(KindGenLong, "Réponse courte. Par ailleurs voici une digression.")
	if err != nil {
		t.Fatalf("Shape() error = %v", err)
	}
	if out != "Réponse courte." {
		t.Errorf("Shape() = %q, want %q", out, "Réponse courte.")
	}
	if !oc.DriftCut || !seen[KindGenLong].DriftCut {
		t.Errorf("expected drift cut to be observed, got %+v / %+v", oc, seen[KindGenLong])
	}

	if _, _, err := s.Shape(Kind("nope"), "x"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Shape(unknown) error = %v, want ErrUnknownKind", err)
	}
}

func TestShaperConcurrentUse(t *testing.T) {
	s := NewShaper(DefaultProfiles(), nil)
	in := strings.Repeat("Bla bla. ", 100)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _, err := s.Shape(KindAsk, in)
			if err != nil || utf8.RuneCountInString(out) > 250 {
				t.Errorf("concurrent Shape() = %d chars, err %v", utf8.RuneCountInString(out), err)
			}
		}()
	}
	wg.Wait()
}
