package translator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/code-100-precent/LingMeet/pkg/logger"
)

const (
	// WAV header plus a quarter second at 16kHz; shorter blobs are not
	// worth a recognition round-trip.
	minASRBytes = 44 + 8000

	asrPrompt = "This is a real-time meeting transcription. " +
		"Only transcribe actual human speech. " +
		"Ignore background noise and advertisements. " +
		"If no clear speech, return empty."

	asrDetectPrompt = "Transcribe only clear human speech. " +
		"Output ONLY the exact words spoken. " +
		"If silent or unclear, return empty. " +
		"Do NOT add comments or explanations."
)

// Options configures the OpenAI-backed provider.
type Options struct {
	APIKey    string
	BaseURL   string
	ASRModel  string
	ChatModel string
	TTSModel  string
	TTSVoice  string
}

// openaiProvider implements Provider on the OpenAI audio/chat APIs.
type openaiProvider struct {
	client *openai.Client
	opts   Options
	filter *NoiseFilter
}

// NewOpenAIProvider builds the provider, failing fast on a missing key.
func NewOpenAIProvider(opts Options) (Provider, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.ASRModel == "" {
		opts.ASRModel = "gpt-4o-transcribe"
	}
	if opts.ChatModel == "" {
		opts.ChatModel = "gpt-4o-mini"
	}
	if opts.TTSModel == "" {
		opts.TTSModel = "gpt-4o-mini-tts"
	}
	if opts.TTSVoice == "" {
		opts.TTSVoice = "alloy"
	}
	return &openaiProvider{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
		filter: NewNoiseFilter(),
	}, nil
}

func (p *openaiProvider) Transcribe(ctx context.Context, wavData []byte, language string) (string, error) {
	if len(wavData) < minASRBytes {
		return "", nil
	}

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.opts.ASRModel,
		Reader:   bytes.NewReader(wavData),
		FilePath: "audio.wav",
		Language: language,
		Prompt:   asrPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text != "" && p.filter.IsNoise(text) {
		logger.Debug("asr noise dropped", zap.String("text", text))
		return "", nil
	}
	return text, nil
}

// TranscribeWithDetection omits the language parameter on purpose: the
// model skips detection whenever one is supplied, which would pin every
// speaker to their hint language.
func (p *openaiProvider) TranscribeWithDetection(ctx context.Context, wavData []byte, hint string) (string, string, error) {
	if len(wavData) < minASRBytes {
		if hint == "multi" {
			hint = ""
		}
		return "", hint, nil
	}

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.opts.ASRModel,
		Reader:   bytes.NewReader(wavData),
		FilePath: "audio.wav",
		Prompt:   asrDetectPrompt,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		// 回退到普通ASR
		text, terr := p.Transcribe(ctx, wavData, hint)
		if terr != nil {
			return "", hint, fmt.Errorf("transcription with detection: %w", err)
		}
		return text, hint, nil
	}

	detected := hint
	if resp.Language != "" {
		detected = NormalizeLanguageCode(resp.Language)
	}

	text := strings.TrimSpace(resp.Text)
	if text != "" && p.filter.IsNoise(text) {
		logger.Debug("asr noise dropped", zap.String("text", text))
		return "", detected, nil
	}
	return text, detected, nil
}

func (p *openaiProvider) TranslateText(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if sourceLang == targetLang || strings.TrimSpace(text) == "" {
		return text, nil
	}

	srcName := languageName(sourceLang)
	tgtName := languageName(targetLang)

	systemPrompt := fmt.Sprintf(
		"【警告】あなたは翻訳機です。翻訳以外は絶対禁止です。\n\n"+
			"[CRITICAL] You are a TRANSLATION MACHINE for multilingual meetings.\n"+
			"Translate the following %s text into %s.\n\n"+
			"ABSOLUTE RULES:\n"+
			"- Output ONLY the direct translation of the input text\n"+
			"- NEVER add comments, greetings, or acknowledgments\n"+
			"- NEVER say 'I understand', 'OK', 'Sure', or similar phrases\n"+
			"- NEVER engage in conversation or respond to the content\n"+
			"- Preserve the speaker's intent and tone accurately\n"+
			"- Keep technical terms and proper nouns intact\n\n"+
			"FORBIDDEN: Any output that is not a direct translation of the input.",
		srcName, tgtName)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.opts.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		MaxTokens:   500,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("translation: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("translation: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (p *openaiProvider) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(p.opts.TTSModel),
		Input:          text,
		Voice:          openai.SpeechVoice(p.opts.TTSVoice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("speech synthesis read: %w", err)
	}
	return audio, nil
}

func languageName(code string) string {
	if name, ok := LanguageNames[code]; ok {
		return name
	}
	return code
}
