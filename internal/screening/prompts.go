package screening

import (
	_ "embed"
	"strings"
)

var (
	//go:embed prompts/greeting.md
	greetingTemplate string
	//go:embed prompts/resume_fields.md
	resumeFieldsTemplate string
	//go:embed prompts/tech_questions.md
	techQuestionsTemplate string
	//go:embed prompts/evaluation.md
	evaluationTemplate string
	//go:embed prompts/sendoff.md
	sendoffTemplate string
	//go:embed prompts/resume_fields.schema.json
	resumeFieldsSchema string
)

const (
	resumeParserSystem = "You are a professional resume parser. You answer with JSON only."
	questionerSystem   = "You are an AI assistant that writes short technical screening questions for shortlisting candidates. You answer with JSON only."
	evaluatorSystem    = "You are an expert evaluator and a demanding CTO assessing technical answers from job candidates."
)

// render replaces {{KEY}} placeholders in a single pass, so values are never expanded again.
func render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.TrimSpace(strings.NewReplacer(pairs...).Replace(template))
}
