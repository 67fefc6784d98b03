// Package snippet cuts a highlighted excerpt around the first query match of
// a page.
package snippet

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/deidaraiorek/sitesearch/internal/lemma"
	"github.com/deidaraiorek/sitesearch/internal/parser"
)

const (
	before = 30
	after  = 150
)

type Generator struct {
	lemmas *lemma.Extractor
}

func New(lemmas *lemma.Extractor) *Generator {
	return &Generator{lemmas: lemmas}
}

// Generate returns the excerpt of the page's visible text starting 30 runes
// before the earliest occurrence of any form of lemmas, with every whole-word
// occurrence wrapped in <b></b>. It returns "" when no form occurs.
func (g *Generator) Generate(content string, lemmas []string) string {
	text := parser.HTMLText(content)
	if text == "" {
		return ""
	}

	forms := make(map[string]bool)
	for _, l := range lemmas {
		for _, form := range g.lemmas.WordForms(l) {
			forms[form] = true
		}
	}
	// Pages indexed by an earlier process are unknown to the vocabulary.
	for _, form := range g.lemmas.FormsIn(text, lemmas) {
		forms[form] = true
	}

	runes := []rune(text)
	folded := fold(runes)

	offset := -1
	for form := range forms {
		idx := strings.Index(folded, form)
		if idx < 0 {
			continue
		}
		if pos := utf8.RuneCountInString(folded[:idx]); offset < 0 || pos < offset {
			offset = pos
		}
	}
	if offset < 0 {
		return ""
	}

	start := max(0, offset-before)
	end := min(len(runes), offset+after)
	return highlight(string(runes[start:end]), forms)
}

// fold lowercases rune by rune so offsets in the result match offsets in
// runes, and folds ё into е like the tokenizer does.
func fold(runes []rune) string {
	var b strings.Builder
	b.Grow(len(runes))
	for _, r := range runes {
		r = unicode.ToLower(r)
		if r == 'ё' {
			r = 'е'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// highlight HTML-escapes text, so the emphasis tags are the only markup left,
// and wraps each word that is one of forms in <b></b>.
func highlight(text string, forms map[string]bool) string {
	runes := []rune(text)
	var b strings.Builder

	for i := 0; i < len(runes); {
		if !isWordRune(runes[i]) {
			j := i
			for j < len(runes) && !isWordRune(runes[j]) {
				j++
			}
			b.WriteString(html.EscapeString(string(runes[i:j])))
			i = j
			continue
		}

		j := i
		for j < len(runes) && isWordRune(runes[j]) {
			j++
		}
		word := string(runes[i:j])
		if forms[fold(runes[i:j])] {
			b.WriteString("<b>")
			b.WriteString(html.EscapeString(word))
			b.WriteString("</b>")
		} else {
			b.WriteString(html.EscapeString(word))
		}
		i = j
	}

	return b.String()
}
