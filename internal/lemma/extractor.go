// Package lemma turns text into lemma statistics.
//
// A lemma here is the snowball stem of a content word. The stemming language
// is chosen per word: Cyrillic words go to the Russian stemmer, Latin words to
// the language detected for the whole text. Surface forms seen for every lemma
// are kept in a bounded vocabulary so that snippets can highlight inflected
// words.
package lemma

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kljensen/snowball"
	"github.com/pemistahl/lingua-go"

	"github.com/deidaraiorek/sitesearch/internal/apperr"
	"github.com/deidaraiorek/sitesearch/internal/config"
	"github.com/deidaraiorek/sitesearch/internal/tokenizer"
)

const DefaultVocabularySize = 100000

var latinLanguages = map[string]lingua.Language{
	"english":   lingua.English,
	"french":    lingua.French,
	"spanish":   lingua.Spanish,
	"swedish":   lingua.Swedish,
	"hungarian": lingua.Hungarian,
	"norwegian": lingua.Bokmal,
}

// Extractor is safe for concurrent use.
type Extractor struct {
	tokenizer *tokenizer.Tokenizer

	latin    []string
	cyrillic string
	detector lingua.LanguageDetector
	byLingua map[lingua.Language]string

	mu    sync.Mutex
	vocab *lru.Cache[string, map[string]struct{}]
}

// New builds an extractor for the configured languages. The language
// detector is only built when more than one Latin-script language is
// configured.
func New(cfg config.LemmaConfig) (*Extractor, error) {
	size := cfg.VocabularySize
	if size <= 0 {
		size = DefaultVocabularySize
	}
	vocab, err := lru.New[string, map[string]struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create vocabulary: %w", err)
	}

	e := &Extractor{
		tokenizer: tokenizer.NewTokenizer(),
		byLingua:  make(map[lingua.Language]string),
		vocab:     vocab,
	}

	var detectable []lingua.Language
	for _, name := range cfg.Languages {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "russian" {
			e.cyrillic = name
			continue
		}
		lang, ok := latinLanguages[name]
		if !ok {
			return nil, fmt.Errorf("unsupported language %q", name)
		}
		e.latin = append(e.latin, name)
		e.byLingua[lang] = name
		detectable = append(detectable, lang)
	}
	if len(e.latin) == 0 {
		e.latin = []string{"english"}
	}
	if len(detectable) > 1 {
		e.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(detectable...).
			WithLowAccuracyMode().
			Build()
	}
	return e, nil
}

// CollectLemmas returns every content-word lemma of text with its number of
// occurrences.
func (e *Extractor) CollectLemmas(text string) map[string]int {
	counts := make(map[string]int)
	forms := e.lemmatize(text, func(lemma string) { counts[lemma]++ })
	e.remember(forms)
	return counts
}

// LemmaSet returns the distinct lemmas of a query, sorted.
func (e *Extractor) LemmaSet(text string) ([]string, error) {
	set := make(map[string]struct{})
	forms := e.lemmatize(text, func(lemma string) { set[lemma] = struct{}{} })
	if len(set) == 0 {
		return nil, apperr.ErrInvalidQuery
	}
	e.remember(forms)

	lemmas := make([]string, 0, len(set))
	for l := range set {
		lemmas = append(lemmas, l)
	}
	sort.Strings(lemmas)
	return lemmas, nil
}

// FormsIn returns the surface forms in text of any of lemmas. The shared
// vocabulary is left untouched.
func (e *Extractor) FormsIn(text string, lemmas []string) []string {
	wanted := make(map[string]bool, len(lemmas))
	for _, l := range lemmas {
		wanted[strings.ToLower(l)] = true
	}

	var forms []string
	for lemma, fs := range e.lemmatize(text, func(string) {}) {
		if !wanted[lemma] {
			continue
		}
		for f := range fs {
			forms = append(forms, f)
		}
	}
	sort.Strings(forms)
	return forms
}

// WordForms returns every surface form seen for lemma, the lemma included.
func (e *Extractor) WordForms(lemma string) []string {
	lemma = strings.ToLower(lemma)

	e.mu.Lock()
	known, _ := e.vocab.Peek(lemma)
	forms := make([]string, 0, len(known)+1)
	for f := range known {
		forms = append(forms, f)
	}
	_, seen := known[lemma]
	e.mu.Unlock()

	if !seen {
		forms = append(forms, lemma)
	}
	sort.Strings(forms)
	return forms
}

func (e *Extractor) lemmatize(text string, emit func(lemma string)) map[string]map[string]struct{} {
	tokens := e.tokenizer.Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	latin := e.latinLanguage(text)
	forms := make(map[string]map[string]struct{})
	for _, tok := range tokens {
		lang := latin
		if tokenizer.IsCyrillic(tok) {
			if e.cyrillic == "" {
				continue
			}
			lang = e.cyrillic
		}

		lemma := stem(tok, lang)
		if lemma == "" {
			continue
		}
		emit(lemma)

		if forms[lemma] == nil {
			forms[lemma] = make(map[string]struct{})
		}
		forms[lemma][tok] = struct{}{}
	}
	return forms
}

func (e *Extractor) latinLanguage(text string) string {
	if e.detector == nil {
		return e.latin[0]
	}
	lang, ok := e.detector.DetectLanguageOf(text)
	if !ok {
		return e.latin[0]
	}
	if name, ok := e.byLingua[lang]; ok {
		return name
	}
	return e.latin[0]
}

func (e *Extractor) remember(forms map[string]map[string]struct{}) {
	if len(forms) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for lemma, fs := range forms {
		known, ok := e.vocab.Get(lemma)
		if !ok {
			known = make(map[string]struct{}, len(fs))
			e.vocab.Add(lemma, known)
		}
		for f := range fs {
			known[f] = struct{}{}
		}
	}
}

func stem(word, language string) string {
	stemmed, err := snowball.Stem(word, language, true)
	if err != nil {
		return word
	}
	return stemmed
}
