package services

import "strings"

// Keyword-driven paraphrase generation. The question sets are deterministic
// so re-running a pipeline yields identical searchable text, which in turn
// lets the embedding cache dedupe across runs.
type questionRule struct {
	keywords  []string
	questions []string
}

var questionRules = []questionRule{
	{
		keywords: []string{"tendency", "personality"},
		questions: []string{
			"What kind of personality do I have?",
			"What are my dominant personality tendencies?",
			"How would you describe my character?",
		},
	},
	{
		keywords: []string{"thinking", "cognitive"},
		questions: []string{
			"What are my strongest thinking skills?",
			"How do I approach problem solving?",
			"Which cognitive abilities stand out for me?",
		},
	},
	{
		keywords: []string{"career", "recommendation"},
		questions: []string{
			"Which careers suit me best?",
			"What jobs should I consider?",
			"What kind of work would fit my strengths?",
		},
	},
	{
		keywords: []string{"learning"},
		questions: []string{
			"How do I learn most effectively?",
			"What is my learning style?",
			"What study methods work best for me?",
		},
	},
	{
		keywords: []string{"competency", "strength"},
		questions: []string{
			"What are my key competencies?",
			"Where are my professional strengths?",
			"Which skills should I develop further?",
		},
	},
	{
		keywords: []string{"preference", "interest"},
		questions: []string{
			"What are my interests and preferences?",
			"What activities do I naturally gravitate toward?",
			"What motivates me?",
		},
	},
}

var genericQuestions = []string{
	"What does my assessment say about me?",
	"Can you summarize my results?",
	"What should I know about myself?",
}

// hypotheticalQuestions returns the paraphrase sets whose keywords appear in
// the text, in catalogue order, or the generic set when nothing matches.
func hypotheticalQuestions(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, rule := range questionRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				out = append(out, rule.questions...)
				break
			}
		}
	}
	if len(out) == 0 {
		out = append(out, genericQuestions...)
	}
	return out
}

func searchableText(summary string, questions []string) string {
	return summary + "\n" + strings.Join(questions, "\n")
}
