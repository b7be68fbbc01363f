package correlation

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TextSimilarity scores two texts in [0,1]
type TextSimilarity interface {
	Similarity(a, b string) float64
}

// SimilarityFactory builds a backend over the texts of one run
type SimilarityFactory func(corpus []string) TextSimilarity

// minTokenRunes drops fragments like "a", "of", "js"
const minTokenRunes = 3

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {}, "all": {},
	"any": {}, "can": {}, "had": {}, "her": {}, "was": {}, "one": {}, "our": {}, "out": {},
	"has": {}, "have": {}, "his": {}, "how": {}, "its": {}, "may": {}, "new": {}, "now": {},
	"see": {}, "two": {}, "who": {}, "did": {}, "get": {}, "him": {}, "she": {}, "too": {},
	"use": {}, "that": {}, "with": {}, "this": {}, "from": {}, "they": {}, "will": {},
	"would": {}, "there": {}, "their": {}, "what": {}, "about": {}, "which": {}, "when": {},
	"were": {}, "been": {}, "into": {}, "than": {}, "then": {}, "them": {}, "these": {},
	"some": {}, "could": {}, "other": {}, "after": {}, "also": {}, "just": {}, "over": {},
	"only": {}, "very": {}, "your": {}, "more": {}, "most": {}, "such": {}, "where": {},
	"while": {}, "being": {}, "does": {}, "here": {}, "http": {}, "https": {}, "www": {},
}

// Tokenize lowercases text, splits on anything that is not a letter or digit
// and drops stop words and short fragments.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minTokenRunes {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// termVector keeps terms sorted so float sums are order-stable across runs
type termVector struct {
	terms   []string
	weights map[string]float64
	norm    float64
}

// TFIDF is a cosine similarity over tf-idf vectors with smoothed idf
// ln((1+N)/(1+df)) + 1. It is read-only after construction.
type TFIDF struct {
	docs  int
	df    map[string]int
	cache map[string]termVector
}

// NewTFIDF computes document frequencies over corpus
func NewTFIDF(corpus []string) *TFIDF {
	t := &TFIDF{
		docs:  len(corpus),
		df:    make(map[string]int),
		cache: make(map[string]termVector, len(corpus)),
	}
	for _, doc := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range Tokenize(doc) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			t.df[tok]++
		}
	}
	for _, doc := range corpus {
		if _, ok := t.cache[doc]; !ok {
			t.cache[doc] = t.vectorize(doc)
		}
	}
	return t
}

// NewTFIDFSimilarity is the default SimilarityFactory
func NewTFIDFSimilarity(corpus []string) TextSimilarity {
	return NewTFIDF(corpus)
}

// IDF returns the smoothed inverse document frequency of a term
func (t *TFIDF) IDF(term string) float64 {
	return math.Log(float64(1+t.docs)/float64(1+t.df[term])) + 1
}

func (t *TFIDF) vector(text string) termVector {
	if v, ok := t.cache[text]; ok {
		return v
	}
	return t.vectorize(text)
}

func (t *TFIDF) vectorize(text string) termVector {
	tf := make(map[string]float64)
	for _, tok := range Tokenize(text) {
		tf[tok]++
	}
	terms := make([]string, 0, len(tf))
	for term := range tf {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	var sum float64
	for _, term := range terms {
		w := tf[term] * t.IDF(term)
		tf[term] = w
		sum += w * w
	}
	return termVector{terms: terms, weights: tf, norm: math.Sqrt(sum)}
}

// Similarity is the cosine of the two tf-idf vectors
func (t *TFIDF) Similarity(a, b string) float64 {
	va, vb := t.vector(a), t.vector(b)
	if va.norm == 0 || vb.norm == 0 {
		return 0
	}
	var dot float64
	for _, term := range va.terms {
		dot += va.weights[term] * vb.weights[term]
	}
	return clamp01(dot / (va.norm * vb.norm))
}
