package pattern

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Language buckets used to keep prompts in one working language.
const (
	LangEnglish    = "en"
	LangSpanish    = "es"
	LangFrench     = "fr"
	LangGerman     = "de"
	LangPortuguese = "pt"
	LangItalian    = "it"
	LangMixed      = "mixed"
)

// minLanguageShare is the fraction of stop-word hits the leader needs to dominate.
const minLanguageShare = 0.4

var languageOrder = []string{LangEnglish, LangSpanish, LangFrench, LangGerman, LangPortuguese, LangItalian}

// Stop words are stored diacritic-folded.
var stopWords = map[string][]string{
	LangEnglish: {
		"the", "and", "is", "are", "you", "your", "to", "of", "for", "with",
		"this", "that", "have", "will", "please", "thanks", "we", "it", "be", "on",
	},
	LangSpanish: {
		"el", "la", "los", "las", "de", "que", "y", "es", "en", "por",
		"para", "con", "usted", "gracias", "una", "un", "su", "esta", "del", "se",
	},
	LangFrench: {
		"le", "la", "les", "de", "et", "est", "vous", "pour", "avec", "merci",
		"une", "un", "des", "du", "que", "pas", "nous", "votre", "sur", "dans",
	},
	LangGerman: {
		"der", "die", "das", "und", "ist", "sie", "nicht", "mit", "fur", "ein",
		"eine", "ich", "wir", "danke", "zu", "den", "bitte", "auf", "ihre", "sind",
	},
	LangPortuguese: {
		"o", "a", "os", "as", "de", "que", "e", "em", "para", "com",
		"voce", "obrigado", "uma", "um", "nao", "por", "seu", "sua", "do", "da",
	},
	LangItalian: {
		"il", "lo", "la", "di", "che", "e", "per", "con", "grazie", "una",
		"un", "sono", "non", "del", "della", "questo", "mi", "ti", "ci", "gli",
	},
}

// Diacritic cues only break ties between stop-word leaders.
var diacriticCues = map[rune]string{
	'ñ': LangSpanish, '¿': LangSpanish, '¡': LangSpanish,
	'ç': LangFrench, 'œ': LangFrench, 'è': LangFrench, 'ê': LangFrench, 'ë': LangFrench, 'ù': LangFrench,
	'ß': LangGerman, 'ä': LangGerman, 'ö': LangGerman, 'ü': LangGerman,
	'ã': LangPortuguese, 'õ': LangPortuguese,
	'ì': LangItalian, 'ò': LangItalian,
}

var stopWordIndex = buildStopWordIndex()

func buildStopWordIndex() map[string][]string {
	idx := make(map[string][]string)
	for _, lang := range languageOrder {
		for _, w := range stopWords[lang] {
			idx[w] = append(idx[w], lang)
		}
	}
	return idx
}

// FoldDiacritics decomposes text and drops combining marks ("está" -> "esta").
func FoldDiacritics(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return folded
}

// DetectLanguage classifies text by stop-word hits, using diacritic cues to
// break ties. It returns LangMixed when no language dominates.
func DetectLanguage(text string) string {
	hits := make(map[string]int, len(languageOrder))
	total := 0
	for _, w := range Words(FoldDiacritics(text)) {
		for _, lang := range stopWordIndex[w] {
			hits[lang]++
			total++
		}
	}

	cues := make(map[string]int)
	for _, r := range strings.ToLower(text) {
		if lang, ok := diacriticCues[r]; ok {
			cues[lang]++
		}
	}

	if total == 0 {
		return leader(cues, languageOrder)
	}

	top := 0
	for _, lang := range languageOrder {
		if hits[lang] > top {
			top = hits[lang]
		}
	}
	var leaders []string
	for _, lang := range languageOrder {
		if hits[lang] == top {
			leaders = append(leaders, lang)
		}
	}

	if len(leaders) > 1 {
		return leader(cues, leaders)
	}
	chosen := leaders[0]
	if float64(hits[chosen])/float64(total) < minLanguageShare {
		return LangMixed
	}
	return chosen
}

// leader picks the candidate with strictly the most cues, or LangMixed.
func leader(counts map[string]int, candidates []string) string {
	best, bestN, tied := LangMixed, 0, false
	for _, lang := range candidates {
		n := counts[lang]
		switch {
		case n > bestN:
			best, bestN, tied = lang, n, false
		case n == bestN && n > 0:
			tied = true
		}
	}
	if bestN == 0 || tied {
		return LangMixed
	}
	return best
}
