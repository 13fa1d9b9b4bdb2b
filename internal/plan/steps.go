package plan

import (
	"regexp"
	"strings"
)

// StepStrategy counts discrete steps in a "how" text one way.
type StepStrategy struct {
	Name  string
	Count func(how string) int
}

const (
	// strategyMinMatches is how many matches a strategy needs to be trusted.
	strategyMinMatches = 4
	maxSentenceSteps   = 15
)

var (
	reNumbered  = regexp.MustCompile(`(?m)(?:^|[\s;:(])(?:passo\s+|step\s+|etapa\s+)?\d{1,2}\s*[.)\-:]\s+\S`)
	reDelimiter = regexp.MustCompile(`;|,\s+|\.\s+|\n+`)
	reBullet    = regexp.MustCompile(`(?m)^\s*(?:[-*•–]|\(?[a-z]\))\s+\S`)
	reSentence  = regexp.MustCompile(`[.!?]+(?:\s+|$)|\n+`)
)

// StepStrategies are tried in order; the first yielding at least four matches wins.
var StepStrategies = []StepStrategy{
	{Name: "numbered", Count: func(s string) int { return len(reNumbered.FindAllStringIndex(s, -1)) }},
	{Name: "delimited", Count: countDelimited},
	{Name: "bullets", Count: func(s string) int { return len(reBullet.FindAllStringIndex(s, -1)) }},
}

// countDelimited counts clauses of at least two words between commas,
// semicolons, sentence ends and line breaks.
func countDelimited(s string) int {
	n := 0
	for _, part := range reDelimiter.Split(s, -1) {
		part = strings.TrimLeft(strings.TrimSpace(part), "-*•– ")
		if len(strings.Fields(part)) >= 2 {
			n++
		}
	}
	return n
}

func countSentences(s string) int {
	n := 0
	for _, part := range reSentence.Split(s, -1) {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return min(n, maxSentenceSteps)
}

// CountSteps returns the number of steps in how and the strategy that counted them.
func CountSteps(how string) (int, string) {
	how = strings.TrimSpace(how)
	if how == "" {
		return 0, "empty"
	}
	for _, st := range StepStrategies {
		if n := st.Count(how); n >= strategyMinMatches {
			return n, st.Name
		}
	}
	return countSentences(how), "sentences"
}
