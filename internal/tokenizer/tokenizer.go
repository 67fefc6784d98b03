package tokenizer

import (
	"regexp"
	"strings"
	"unicode"
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

type Tokenizer struct {
	StopWords map[string]bool
	minLength int
	maxLength int
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{
		StopWords: defaultStopWords(),
		minLength: 2,
		maxLength: 50,
	}
}

// Tokenize returns the lowercased content words of text in order of
// appearance. Function words, one-letter words and digit-heavy tokens are
// dropped.
func (t *Tokenizer) Tokenize(text string) []string {
	normalized := t.normalize(text)
	words := t.split(normalized)

	tokens := make([]string, 0, len(words))

	for _, word := range words {
		if t.StopWords[word] {
			continue
		}

		n := len([]rune(word))
		if n < t.minLength || n > t.maxLength {
			continue
		}

		if !t.IsValidToken(word) {
			continue
		}

		tokens = append(tokens, word)
	}
	return tokens
}

func (t *Tokenizer) normalize(text string) string {
	text = strings.ToLower(text)

	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", " ")
	text = strings.ReplaceAll(text, "ё", "е")

	text = strings.ReplaceAll(text, "-", " ")
	text = strings.ReplaceAll(text, "_", " ")

	return text
}

func (t *Tokenizer) split(text string) []string {
	return wordPattern.FindAllString(text, -1)
}

func (t *Tokenizer) IsValidToken(word string) bool {
	alphaCount := 0
	digitCount := 0

	for _, r := range word {
		if unicode.IsLetter(r) {
			alphaCount++
		} else if unicode.IsDigit(r) {
			digitCount++
		}
	}
	if alphaCount == 0 {
		return false
	}
	if digitCount > alphaCount {
		return false
	}
	return true
}

// IsCyrillic reports whether word is written mostly in Cyrillic script.
func IsCyrillic(word string) bool {
	cyr, other := 0, 0
	for _, r := range word {
		if unicode.Is(unicode.Cyrillic, r) {
			cyr++
		} else if unicode.IsLetter(r) {
			other++
		}
	}
	return cyr > other
}

func defaultStopWords() map[string]bool {
	words := []string{
		// Articles
		"a", "an", "the",

		// Pronouns
		"i", "me", "my", "myself", "we", "our", "ours", "ourselves",
		"you", "your", "yours", "yourself", "yourselves",
		"he", "him", "his", "himself", "she", "her", "hers", "herself",
		"it", "its", "itself", "they", "them", "their", "theirs", "themselves",

		// Prepositions
		"of", "at", "by", "for", "with", "about", "against", "between",
		"into", "through", "during", "before", "after", "above", "below",
		"to", "from", "up", "down", "in", "out", "on", "off", "over", "under",

		// Conjunctions
		"and", "or", "but", "if", "while", "because", "as", "until",
		"than", "so", "nor", "yet",

		// Common verbs
		"is", "am", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "having",
		"do", "does", "did", "doing",
		"will", "would", "should", "could", "can", "may", "might", "must",

		// Other common words
		"this", "that", "these", "those",
		"what", "which", "who", "whom", "whose", "when", "where", "why", "how",
		"all", "each", "every", "both", "few", "more", "most", "other", "some", "such",
		"no", "not", "only", "own", "same", "then", "there", "too", "very",

		// Russian prepositions
		"в", "во", "на", "с", "со", "к", "ко", "по", "за", "из", "от", "до", "о", "об", "обо",
		"у", "при", "про", "для", "без", "над", "под", "перед", "через", "между", "около",

		// Russian conjunctions
		"и", "а", "но", "или", "либо", "да", "что", "чтобы", "как", "когда", "если", "потому",
		"тоже", "также", "зато", "однако",

		// Russian particles and interjections
		"не", "ни", "ли", "же", "бы", "вот", "вон", "даже", "уже", "лишь", "только", "ведь",
		"разве", "неужели", "ах", "ох", "эх", "ой",

		// Russian pronouns
		"я", "ты", "он", "она", "оно", "мы", "вы", "они", "его", "ее", "их", "мне", "меня",
		"тебя", "тебе", "нас", "вас", "им", "ему", "ей", "это", "этот", "эта", "эти", "тот",
		"та", "те", "то", "свой", "своя", "свое", "свои",
	}

	stopWords := make(map[string]bool, len(words))
	for _, word := range words {
		stopWords[word] = true
	}
	return stopWords
}
