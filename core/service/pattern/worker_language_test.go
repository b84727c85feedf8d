package pattern

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"english", "Thanks for your message, we will send the invoice to you this week.", LangEnglish},
		{"spanish", "Gracias por su mensaje, la reunión es el lunes.", LangSpanish},
		{"french", "Merci pour votre message, nous avons reçu la facture.", LangFrench},
		{"german", "Danke für Ihre Nachricht, wir sind bereit.", LangGerman},
		{"empty", "", LangMixed},
		{"tie broken by diacritic", "la niña", LangSpanish},
		{"tie without cue", "la casa", LangMixed},
		{"no language dominates", "thanks gracias merci danke", LangMixed},
		{"cue only", "Ñandú", LangSpanish},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLanguage(tt.text); got != tt.want {
				t.Errorf("DetectLanguage(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestFoldDiacritics(t *testing.T) {
	if got := FoldDiacritics("está für reçu"); got != "esta fur recu" {
		t.Errorf("FoldDiacritics() = %q", got)
	}
}

func TestSplitChunksShortBodyUntouched(t *testing.T) {
	body := "Short body.\n\nSecond paragraph."
	got := SplitChunks(body, DefaultChunkOptions())
	if len(got) != 1 || got[0] != body {
		t.Errorf("SplitChunks() = %v, want single chunk", got)
	}
	if SplitChunks("   ", DefaultChunkOptions()) != nil {
		t.Error("blank body should produce no chunks")
	}
}

func TestSplitChunksParagraphBoundaries(t *testing.T) {
	opts := ChunkOptions{Threshold: 50, MaxSize: 40, MaxChunks: 5}
	paras := []string{
		strings.Repeat("a", 30),
		strings.Repeat("b", 30),
		strings.Repeat("c", 5),
	}
	got := SplitChunks(strings.Join(paras, "\n\n"), opts)
	want := []string{paras[0], paras[1] + "\n\n" + paras[2]}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitChunksSentenceFallbackAndCap(t *testing.T) {
	opts := ChunkOptions{Threshold: 20, MaxSize: 25, MaxChunks: 2}
	long := "First sentence is here. Second sentence is here. Third sentence is here."
	got := SplitChunks(long, opts)
	if len(got) != 2 {
		t.Fatalf("expected cap of 2 chunks, got %d: %q", len(got), got)
	}
	if got[0] != "First sentence is here." {
		t.Errorf("chunk 0 = %q", got[0])
	}
	for _, c := range got {
		if utf8.RuneCountInString(c) > opts.MaxSize {
			t.Errorf("chunk exceeds max size: %q", c)
		}
	}
}

func TestSplitChunksHardSplitsRunes(t *testing.T) {
	opts := ChunkOptions{Threshold: 5, MaxSize: 4, MaxChunks: 10}
	got := SplitChunks("ñññññññññ", opts)
	if len(got) != 3 || got[0] != "ññññ" || got[2] != "ñ" {
		t.Errorf("SplitChunks() = %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("héllo wörld", 5); got != "héllo..." {
		t.Errorf("TruncateRunes() = %q", got)
	}
	if got := TruncateRunes("short", 10); got != "short" {
		t.Errorf("TruncateRunes() = %q", got)
	}
}
