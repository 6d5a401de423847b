package research

import "strings"

// aspectSuffixes is ordered so that every depth's plan is a prefix of the
// next deeper one.
var aspectSuffixes = []string{
	// basic
	"overview definition",
	"current state developments",
	// moderate
	"key technical concepts",
	"practical applications use cases",
	"challenges limitations",
	// comprehensive
	"historical background evolution",
	"expert opinions analysis",
	"future trends predictions",
	"comparative alternatives analysis",
	"implementation best practices",
	"research papers academic studies",
}

// Plan splits topic into the ordered aspect labels researched at depth.
func Plan(topic string, depth Depth) []string {
	topic = strings.Join(strings.Fields(topic), " ")
	n := depth.Profile().AspectCount
	if n > len(aspectSuffixes) {
		n = len(aspectSuffixes)
	}

	aspects := make([]string, 0, n)
	for _, suffix := range aspectSuffixes[:n] {
		if topic == "" {
			aspects = append(aspects, suffix)
			continue
		}
		aspects = append(aspects, topic+" "+suffix)
	}
	return aspects
}
