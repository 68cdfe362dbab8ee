package llm

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/openctemio/vulncatalog/internal/app/dedup"
)

// injectionPatterns are phrases in scanner-supplied text that try to steer the
// model away from the title task.
var injectionPatterns = compilePatterns(
	// Direct instruction override
	`(?i)(ignore|disregard|forget|override|bypass) (previous|above|all|prior|system) instructions?`,
	`(?i)(new|updated|revised|actual|real) instructions?:`,
	// System prompt access
	`(?i)system (prompt|message):`,
	`(?i)(output|reveal|show|print) (the|your) (system|initial) (prompt|instructions?)`,
	// Role manipulation
	`(?i)you('| a)re now`,
	`(?i)from now on,? you`,
	`(?i)(act as if|pretend (that|to be|you)|roleplay as)`,
	// Model-specific markers
	`(?i)\[/?(SYSTEM|INST)\]`,
	`(?i)<\|(im_start|im_end|system|user|assistant|tool_use)\|>`,
	`(?i)<</?SYS>>`,
	`(?i)### (System|Instruction|Human|Assistant):?`,
	// Output manipulation
	`(?i)(always|never|only) (respond|answer|output|say|reply)`,
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// PromptSanitizer sanitizes scanner-supplied data before it is placed in a prompt.
type PromptSanitizer struct {
	maxFieldLength int
}

// NewPromptSanitizer creates a sanitizer that truncates fields to maxFieldLength runes.
func NewPromptSanitizer(maxFieldLength int) *PromptSanitizer {
	if maxFieldLength <= 0 {
		maxFieldLength = 2000
	}
	return &PromptSanitizer{maxFieldLength: maxFieldLength}
}

// SanitizeForPrompt folds homoglyphs, drops invisible characters, truncates
// and filters injection phrases.
func (s *PromptSanitizer) SanitizeForPrompt(text string) string {
	if text == "" {
		return ""
	}

	text = dedup.NormalizeUnicode(text)

	if utf8.RuneCountInString(text) > s.maxFieldLength {
		text = string([]rune(text)[:s.maxFieldLength]) + " [TRUNCATED]"
	}

	for _, re := range injectionPatterns {
		text = re.ReplaceAllString(text, "[FILTERED]")
	}

	return strings.TrimSpace(text)
}
