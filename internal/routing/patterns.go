package routing

import "regexp"

// DefaultNegative matches small talk that should never route to an
// agent: greetings, thanks, acknowledgments, in English and Portuguese.
func DefaultNegative() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`^(hi|hello|hey|yo|good (morning|afternoon|evening))\b`),
		regexp.MustCompile(`^(oi|ol[áa]|bom dia|boa tarde|boa noite)\b`),
		regexp.MustCompile(`^(thanks|thank you|thx|ty|valeu|obrigad[oa])\b`),
		regexp.MustCompile(`^(ok|okay|sure|got it|sounds good|entendi|beleza)\b`),
		regexp.MustCompile(`^(yes|no|yep|nope|sim|n[ãa]o)\.?$`),
	}
}

// DefaultTable is the stock routing table for the built-in agents.
// Weights order by specificity; each agent carries English and
// Portuguese variants.
func DefaultTable() []AgentPatterns {
	return []AgentPatterns{
		{
			Agent: "reviewer",
			Patterns: []WeightedPattern{
				{regexp.MustCompile(`\breview\b.*\b(code|file|pr|pull request|auth\w*|module|function)`), 0.95},
				{regexp.MustCompile(`\b(code review|revis[ãa]o de c[óo]digo)\b`), 0.95},
				{regexp.MustCompile(`\brevis(e|ar)\b.*\b(c[óo]digo|arquivo|fun[çc][ãa]o)`), 0.90},
				{regexp.MustCompile(`\b(audit|inspect|critique)\b.*\bcode\b`), 0.85},
				{regexp.MustCompile(`\breview\b`), 0.75},
				{regexp.MustCompile(`\b(find|look for|check for)\b.*\b(bug|issue|smell|vulnerabilit)`), 0.70},
			},
		},
		{
			Agent: "executor",
			Patterns: []WeightedPattern{
				{regexp.MustCompile(`\b(create|write|add|make)\b.*\bfile\b`), 0.95},
				{regexp.MustCompile(`\b(crie|criar|escreva|escrever)\b.*\barquivo\b`), 0.95},
				{regexp.MustCompile(`\b(run|execute|rode|execute?)\b.*\b(command|script|test|build|comando)`), 0.90},
				{regexp.MustCompile(`\b(edit|modify|update|change|fix)\b.*\b(file|code|function|bug)`), 0.85},
				{regexp.MustCompile(`\b(implement|implemente|refactor|refatore)\b`), 0.80},
				{regexp.MustCompile(`\b(commit|install|deploy)\b`), 0.75},
				{regexp.MustCompile(`\b(delete|remove|rename|move)\b.*\bfile`), 0.75},
			},
		},
		{
			Agent: "architect",
			Patterns: []WeightedPattern{
				{regexp.MustCompile(`\b(design|architecture|arquitetura)\b.*\b(system|service|api|schema|sistema)`), 0.95},
				{regexp.MustCompile(`\b(how should i structure|como estruturar)\b`), 0.90},
				{regexp.MustCompile(`\b(design|desenhe|projete)\b.*\b(database|data model|interface)`), 0.85},
				{regexp.MustCompile(`\b(trade[- ]?offs?|scalab\w+|escalabilidade)\b`), 0.75},
				{regexp.MustCompile(`\barchitect\w*\b`), 0.70},
			},
		},
		{
			Agent: "researcher",
			Patterns: []WeightedPattern{
				{regexp.MustCompile(`\b(search|look up|research|pesquis\w+)\b.*\b(web|online|docs|documentation|internet)`), 0.95},
				{regexp.MustCompile(`\b(what is|what's|o que [ée])\b.*\b(library|framework|package|biblioteca)`), 0.85},
				{regexp.MustCompile(`\b(compare|comparar)\b.*\b(librar|framework|tool)`), 0.80},
				{regexp.MustCompile(`\b(fetch|download)\b.*\burl\b`), 0.75},
				{regexp.MustCompile(`\b(latest|current)\b.*\b(version|release)`), 0.70},
			},
		},
	}
}
