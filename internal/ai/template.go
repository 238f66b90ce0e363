package ai

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// TranslationTemplate 翻译提示词模板，变量: source, targets, text
func TranslationTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage("You are a professional simultaneous interpreter. "+
			"Translate the user's utterance from {source} into each of these languages: {targets}. "+
			"Reply with a single JSON object only. Use the language tags exactly as given as keys "+
			"and the translated text as values. Keep the meaning and tone, do not add explanations."),
		schema.UserMessage("{text}"),
	)
}
