package translation

import (
	"strings"

	"golang.org/x/text/language"
)

// Config 会话配置
type Config struct {
	SourceLanguage string
	// TargetLanguages 有序且不重复的 BCP-47 目标语言
	TargetLanguages []string
	// OutputVoice 合成音色，空字符串表示不合成
	OutputVoice string
}

// Validate 校验配置，失败时返回 *ConfigurationError
func (c Config) Validate() error {
	if strings.TrimSpace(c.SourceLanguage) == "" {
		return &ConfigurationError{Field: "source_language", Reason: "must not be empty"}
	}
	if _, err := language.Parse(c.SourceLanguage); err != nil {
		return &ConfigurationError{Field: "source_language", Reason: "not a BCP-47 tag: " + c.SourceLanguage, Err: err}
	}

	if len(c.TargetLanguages) == 0 {
		return &ConfigurationError{Field: "target_languages", Reason: "must not be empty"}
	}
	seen := make(map[string]struct{}, len(c.TargetLanguages))
	for _, target := range c.TargetLanguages {
		if strings.TrimSpace(target) == "" {
			return &ConfigurationError{Field: "target_languages", Reason: "contains an empty tag"}
		}
		tag, err := language.Parse(target)
		if err != nil {
			return &ConfigurationError{Field: "target_languages", Reason: "not a BCP-47 tag: " + target, Err: err}
		}
		key := tag.String()
		if _, dup := seen[key]; dup {
			return &ConfigurationError{Field: "target_languages", Reason: "duplicate tag: " + target}
		}
		seen[key] = struct{}{}
	}

	if c.OutputVoice != "" && strings.TrimSpace(c.OutputVoice) == "" {
		return &ConfigurationError{Field: "output_voice", Reason: "must not be blank"}
	}
	return nil
}

func (c Config) clone() Config {
	out := c
	out.TargetLanguages = append([]string(nil), c.TargetLanguages...)
	return out
}
