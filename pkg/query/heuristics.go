package query

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/lorekeeper/recall/pkg/memory"
)

var (
	spaceRun     = regexp.MustCompile(`\s+`)
	quotedPhrase = regexp.MustCompile(`"([^"]{2,})"|“([^”]{2,})”`)
)

// Capitalized words that are not entities: sentence starters, pronouns,
// weekdays and months.
var notEntity = toSet(`a an the i i'm i've me my we our you your he she him her his they them their it its
this that these those what when where who whom whose why how which did do does is are was were will would
can could should shall may might must have has had tell remind show find list any some all last next
yesterday today tonight tomorrow recently lately also and or but so if then
monday tuesday wednesday thursday friday saturday sunday
january february march april june july august september october november december`)

var pronouns = toSet("he she him her his hers they them their theirs")

// Words after "her" that mark it as an object rather than a possessive.
var objectFollowers = toSet(`about after again around at back before by for from in into of off on
out over than through to up with without`)

var recentMarkers = []string{
	"recent", "recently", "lately", "latest", "yesterday", "today", "tonight", "this morning",
	"last night", "last week", "last month", "this week", "this month", "past few days",
	"few days ago", "days ago", "just now", "the other day",
}

var factualStarters = toSet("who what when where which whom whose did does do is are was were how")

// Normalize collapses whitespace and trims trailing punctuation.
func Normalize(q string) string {
	q = strings.TrimSpace(spaceRun.ReplaceAllString(q, " "))
	return strings.TrimRightFunc(q, func(r rune) bool {
		return r == '?' || r == '!' || r == '.' || r == ',' || r == ';'
	})
}

// ExtractEntities returns quoted phrases and runs of capitalized words,
// in order of first appearance, without duplicates. A lone capitalized word
// opening a sentence is only kept when possessive, since sentence case
// capitalizes ordinary words too.
func ExtractEntities(text string) []string {
	return extractEntities(text, false)
}

func extractEntities(text string, keepLeading bool) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(e string) {
		e = strings.TrimSpace(e)
		key := strings.ToLower(e)
		if e == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}

	for _, m := range quotedPhrase.FindAllStringSubmatch(text, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}
	text = quotedPhrase.ReplaceAllString(text, " , ")

	var run []string
	leading := false
	flush := func() {
		if len(run) > 0 && !(leading && len(run) == 1) {
			add(strings.Join(run, " "))
		}
		run = run[:0]
		leading = false
	}
	sentenceStart := true
	for _, raw := range strings.Fields(text) {
		word := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		bare := strings.TrimSuffix(strings.TrimSuffix(word, "'s"), "’s")
		if isEntityWord(bare) {
			if len(run) == 0 {
				leading = sentenceStart && !keepLeading && bare == word
			}
			run = append(run, bare)
		} else {
			flush()
		}
		if endsClause(raw) {
			flush()
		}
		if word != "" {
			sentenceStart = endsSentence(raw)
		}
	}
	flush()
	return out
}

func endsSentence(raw string) bool {
	return strings.ContainsAny(raw[len(raw)-1:], ".;:!?")
}

func endsClause(raw string) bool {
	return strings.ContainsAny(raw[len(raw)-1:], ",.;:!?)")
}

func isEntityWord(w string) bool {
	if w == "" {
		return false
	}
	r := []rune(w)
	if !unicode.IsUpper(r[0]) {
		return false
	}
	_, skip := notEntity[strings.ToLower(w)]
	return !skip
}

// HasPronoun reports whether the text refers to someone by pronoun.
func HasPronoun(text string) bool {
	for _, w := range words(text) {
		if _, ok := pronouns[w]; ok {
			return true
		}
	}
	return false
}

// ReplaceFirstPronoun substitutes the first third-person pronoun with name.
// "her" becomes possessive only when a noun candidate follows it in the
// same clause.
func ReplaceFirstPronoun(text, name string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		core := strings.ToLower(strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) }))
		if _, ok := pronouns[core]; !ok {
			continue
		}
		replacement := name
		switch core {
		case "his", "their", "hers", "theirs":
			replacement = name + "'s"
		case "her":
			if i+1 < len(fields) && !endsClause(f) && nounCandidate(fields[i+1]) {
				replacement = name + "'s"
			}
		}
		fields[i] = strings.Replace(f, strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) }), replacement, 1)
		return strings.Join(fields, " ")
	}
	return text
}

func nounCandidate(raw string) bool {
	w := strings.ToLower(strings.TrimFunc(raw, func(r rune) bool { return !unicode.IsLetter(r) }))
	if w == "" {
		return false
	}
	if _, ok := objectFollowers[w]; ok {
		return false
	}
	_, skip := notEntity[w]
	return !skip
}

// Classify assigns a query type: recent markers win, then named entities,
// then question forms. Everything else is exploratory.
func Classify(q string) memory.QueryType {
	q = Normalize(q)
	if q == "" {
		return memory.QueryDefault
	}
	lower := " " + strings.Join(words(q), " ") + " "
	for _, m := range recentMarkers {
		if strings.Contains(lower, " "+m+" ") {
			return memory.QueryRecent
		}
	}
	if len(ExtractEntities(q)) > 0 {
		return memory.QueryEntity
	}
	ws := words(q)
	if len(ws) == 0 {
		return memory.QueryDefault
	}
	if _, ok := factualStarters[ws[0]]; ok {
		return memory.QueryFactual
	}
	return memory.QueryExploratory
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func toSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}
