package safety

import (
	"regexp"
	"strings"
)

// Category names a disallowed topic family.
type Category string

const (
	Violence  Category = "violence"
	Weapons   Category = "weapons"
	Cyber     Category = "cyber"
	Minors    Category = "minors"
	Jailbreak Category = "jailbreak"
)

// Verdict is the allow/block decision for one text.
type Verdict struct {
	OK       bool
	Category Category
	Reason   string
}

type rule struct {
	category Category
	reason   string
	patterns []*regexp.Regexp
}

// Shared by both directions of the minors rule.
const (
	minorTerms  = `(child|children|minor|minors|underage|kid|kids|teen|teens|teenager|teenagers|preteen|preteens|\d{1,2}[\s-]?(year|yr)s?[\s-]?old)`
	sexualTerms = `(sex|sexual|sexy|nude|nudes|naked|porn|erotic)`
)

// Patterns match whole words only (\b on both ends), so "killer whale" or "skills"
// never trip the violence rule while "kill myself" does. Rules are checked in order;
// the first match wins.
var rules = []rule{
	{
		category: Violence,
		reason:   "I can't help with violence or self-harm. If you are in danger, please contact local emergency services or a crisis line.",
		patterns: compile(
			`\b(kill|murder|stab|shoot|strangle|poison)\s+(myself|yourself|himself|herself|themselves|him|her|them|someone|somebody|people|(my|his|her|their|the|a)\s+\w+)\b`,
			`\b(suicide|suicidal)\b`,
			`\bself[\s-]?harm\b`,
			`\b(hurt|harm|cut)\s+myself\b`,
			`\bend\s+my\s+life\b`,
		),
	},
	{
		category: Weapons,
		reason:   "I can't give instructions for making weapons or explosives.",
		patterns: compile(
			`\b(build|make|making|assemble|construct|create|manufacture|3d[\s-]?print)\b.{0,40}\b(bombs?|explosives?|detonators?|grenades?|guns?|firearms?|silencers?|napalm|molotov)\b`,
			`\b(pipe\s+bomb|nerve\s+agent|ghost\s+gun)\b`,
		),
	},
	{
		category: Cyber,
		reason:   "I can't help with hacking, malware, or breaking into systems.",
		patterns: compile(
			`\b(malware|ransomware|keylogger|botnet|rootkit|spyware)\b`,
			`\bhack(ing)?\s+into\b`,
			`\b(ddos|sql\s+injection|phishing\s+kit)\b`,
			`\b(steal|crack|dump)\s+(passwords?|credentials)\b`,
		),
	},
	{
		category: Minors,
		reason:   "I can't produce sexual content involving minors.",
		patterns: compile(
			`\b`+minorTerms+`\b.{0,40}\b`+sexualTerms+`\b`,
			`\b`+sexualTerms+`\b.{0,40}\b`+minorTerms+`\b`,
		),
	},
	{
		category: Jailbreak,
		reason:   "I can't ignore or disable my guidelines.",
		patterns: compile(
			`\b(ignore|disregard|forget)\s+(\w+\s+){0,4}(instructions|rules|guidelines|directives|system\s+prompt)\b`,
			`\b(disable|bypass|turn\s+off|override)\s+(your\s+|the\s+|all\s+)?(safety|filters?|guardrails?|content\s+polic(y|ies)|restrictions)\b`,
			`\bjailbreak\b`,
			`\bdan\s+mode\b`,
			`\bdeveloper\s+mode\b`,
		),
	},
}

func compile(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?is)`+p))
	}
	return compiled
}

// Classify returns a verdict for text. It is pure and never fails.
func Classify(text string) Verdict {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return Verdict{OK: true}
	}

	for _, r := range rules {
		for _, p := range r.patterns {
			if p.MatchString(normalized) {
				return Verdict{OK: false, Category: r.category, Reason: r.reason}
			}
		}
	}
	return Verdict{OK: true}
}
