package research

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

const (
	titleMatchChars  = 30
	referencesHeader = "## References"
	noReferences     = "No sources were collected."
)

// CitationAgent assigns citation ids by quality rank and attaches inline
// markers to the synthesized report.
type CitationAgent struct{}

// NewCitationAgent returns a CitationAgent.
func NewCitationAgent() *CitationAgent {
	return &CitationAgent{}
}

// Rank returns the session Sources ordered by quality score, highest first.
// Equal scores keep merge order.
func Rank(sources []*Source) []*Source {
	ranked := append([]*Source(nil), sources...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].QualityScore > ranked[j].QualityScore
	})
	return ranked
}

// Assign numbers the session Sources 1..N in rank order and returns them.
func (c *CitationAgent) Assign(s *Session) []*Source {
	ranked := Rank(s.Sources)
	for i, src := range ranked {
		src.CitationID = i + 1
	}
	return ranked
}

// Process assigns ids, inserts at most one marker per sentence and appends
// the references section.
func (c *CitationAgent) Process(s *Session, report string) string {
	ranked := c.Assign(s)

	var b strings.Builder
	for _, sentence := range splitSentences(report) {
		b.WriteString(cite(sentence, ranked))
	}
	cited := strings.TrimRight(b.String(), " \t\n")

	b.Reset()
	b.WriteString(cited)
	b.WriteString("\n\n")
	b.WriteString(referencesHeader)
	b.WriteString("\n\n")
	if len(ranked) == 0 {
		b.WriteString(noReferences)
		b.WriteString("\n")
		return b.String()
	}
	for _, src := range ranked {
		b.WriteString(Reference(src))
		b.WriteString("\n")
	}
	return b.String()
}

// Reference formats one entry of the references section.
func Reference(src *Source) string {
	return fmt.Sprintf("[%d] %s. %s (%s)", src.CitationID, strings.TrimRight(src.Title, "."), src.URL, src.Tier)
}

// cite attaches the first matching source's marker to sentence.
func cite(sentence string, ranked []*Source) string {
	body := strings.TrimRightFunc(sentence, unicode.IsSpace)
	if strings.TrimSpace(body) == "" {
		return sentence
	}
	trailing := sentence[len(body):]
	lower := strings.ToLower(body)

	for _, src := range ranked {
		marker := fmt.Sprintf("[%d]", src.CitationID)
		if strings.Contains(body, marker) || !mentions(lower, src) {
			continue
		}
		cut := len(strings.TrimRight(body, ".!?:;"))
		return body[:cut] + marker + body[cut:] + trailing
	}
	return sentence
}

func mentions(lowerSentence string, src *Source) bool {
	if d := strings.ToLower(src.Domain); d != "" && strings.Contains(lowerSentence, d) {
		return true
	}
	prefix := strings.ToLower(strings.TrimSpace(truncateRunes(src.Title, titleMatchChars)))
	return prefix != "" && strings.Contains(lowerSentence, prefix)
}

// splitSentences cuts text after each newline and after sentence punctuation
// followed by whitespace. Whitespace after a boundary stays with the
// preceding sentence, so joining the pieces restores text.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		boundary := ch == '\n'
		if !boundary && (ch == '.' || ch == '!' || ch == '?') {
			boundary = i+1 == len(text) || isSpace(text[i+1])
		}
		if !boundary {
			continue
		}
		end := i + 1
		for end < len(text) && isSpace(text[end]) && text[end-1] != '\n' {
			end++
		}
		out = append(out, text[start:end])
		start = end
		i = end - 1
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
