package policy

// DecisionQuery is the rego query evaluated for every admission.
const DecisionQuery = "data.research.admission.decision"

// MaxTopicLength is the longest topic the built-in policy admits.
const MaxTopicLength = 500

const defaultPolicy = `package research.admission

default decision = {"allow": true, "reason": "allowed"}

valid_depths := {"basic", "moderate", "comprehensive"}

deny[msg] {
	trim_space(input.topic) == ""
	msg := "topic must not be empty"
}

deny[msg] {
	not valid_depths[lower(input.depth)]
	msg := sprintf("unknown depth %v", [input.depth])
}

deny[msg] {
	count(input.topic) > 500
	msg := "topic exceeds 500 characters"
}

decision = {"allow": false, "reason": reason} {
	count(deny) > 0
	reason := concat("; ", sort(deny))
}
`
