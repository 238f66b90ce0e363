package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/liuscraft/orion-translate/internal/logging"
	"github.com/liuscraft/orion-translate/internal/text"
)

var (
	ErrAPIKeyRequired = errors.New("llm api key is required")
	// ErrIncomplete 模型回复缺少部分目标语言
	ErrIncomplete = errors.New("translation incomplete")
)

type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// Translator 用大模型把识别文本翻译为多个目标语言
type Translator struct {
	runnable compose.Runnable[map[string]any, map[string]string]
	log      *zap.SugaredLogger
}

// NewTranslator 使用 OpenAI 兼容接口创建翻译器
func NewTranslator(ctx context.Context, cfg Config) (*Translator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyRequired
	}
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	return NewTranslatorWithModel(ctx, chatModel)
}

// NewTranslatorWithModel 模板 -> 模型 -> 解析 组成链
func NewTranslatorWithModel(ctx context.Context, chatModel model.BaseChatModel) (*Translator, error) {
	chain := compose.NewChain[map[string]any, map[string]string]()
	chain.
		AppendChatTemplate(TranslationTemplate()).
		AppendChatModel(chatModel).
		AppendLambda(compose.InvokableLambda(parseReply))

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile translation chain: %w", err)
	}
	return &Translator{runnable: runnable, log: logging.Named("translator")}, nil
}

// Translate 返回按请求的语言标签索引的译文；缺少的语言返回 ErrIncomplete，已有译文仍然返回
func (t *Translator) Translate(ctx context.Context, input, source string, targets []string) (map[string]string, error) {
	if strings.TrimSpace(input) == "" || len(targets) == 0 {
		return map[string]string{}, nil
	}

	began := time.Now()
	reply, err := t.runnable.Invoke(ctx, map[string]any{
		"source":  source,
		"targets": strings.Join(targets, ", "),
		"text":    input,
	})
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}

	out, missing := matchTargets(reply, targets)
	t.log.Debugw("llm translation",
		"targets", targets,
		"missing", missing,
		"latency", time.Since(began))
	if len(missing) > 0 {
		return out, fmt.Errorf("%w: no translation for %v", ErrIncomplete, missing)
	}
	return out, nil
}

func parseReply(_ context.Context, msg *schema.Message) (map[string]string, error) {
	if msg == nil {
		return nil, errors.New("empty model reply")
	}
	body, ok := text.ExtractJSON(msg.Content)
	if !ok {
		return nil, fmt.Errorf("model reply is not a JSON object: %q", msg.Content)
	}
	var raw map[string]string
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}
	for k, v := range raw {
		raw[k] = text.StripMarkdown(v)
	}
	return raw, nil
}

// matchTargets 按语言标签取译文，找不到时退回基础语言
func matchTargets(reply map[string]string, targets []string) (map[string]string, []string) {
	out := make(map[string]string, len(targets))
	var missing []string
	for _, target := range targets {
		if v, ok := lookup(reply, target); ok && v != "" {
			out[target] = v
			continue
		}
		missing = append(missing, target)
	}
	return out, missing
}

func lookup(reply map[string]string, target string) (string, bool) {
	if v, ok := reply[target]; ok {
		return v, true
	}
	base := baseTag(target)
	for k, v := range reply {
		if strings.EqualFold(k, target) {
			return v, true
		}
	}
	for k, v := range reply {
		if strings.EqualFold(baseTag(k), base) {
			return v, true
		}
	}
	return "", false
}

func baseTag(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return tag[:i]
	}
	return tag
}
