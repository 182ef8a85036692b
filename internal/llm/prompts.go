package llm

import (
	_ "embed"
	"fmt"
	"strings"
)

var (
	//go:embed prompts/translate_v1.txt
	translateSystemV1 string
)

// SystemPrompt returns the translation instructions for a job.
func SystemPrompt(sourceLanguage, targetLanguage, style string) string {
	if strings.TrimSpace(style) == "" {
		style = "faithful to the original tone"
	}
	source := strings.TrimSpace(sourceLanguage)
	if source == "" || strings.EqualFold(source, "auto") {
		source = "the source language (detect it)"
	}
	replacer := strings.NewReplacer(
		"{{SOURCE_LANGUAGE}}", source,
		"{{TARGET_LANGUAGE}}", targetLanguage,
		"{{STYLE}}", style,
	)
	return strings.TrimSpace(replacer.Replace(translateSystemV1))
}

// UserPrompt wraps the unit content for the model.
func UserPrompt(input TranslateInput) string {
	if strings.TrimSpace(input.Title) == "" {
		return input.Content
	}
	return fmt.Sprintf("Section: %s\n\n%s", input.Title, input.Content)
}
