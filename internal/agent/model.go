package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	openai "github.com/sashabaranov/go-openai"

	"github.com/spachava753/deskbench/internal/models"
)

const systemPrompt = `You are an agent operating a desktop computer to complete a task.
You will be given the task instruction and a screenshot of the current screen.
Respond with exactly one of:
- a python code block using pyautogui to perform the next GUI action
- the word WAIT if the screen is still loading
- the word DONE if the task is complete
- the word FAIL if the task is impossible to complete`

// maxHistory bounds the prior exchanges kept in the conversation. Older
// turns are dropped so long tasks stay inside the model's context.
const maxHistory = 3

var codeBlockRe = regexp.MustCompile("(?s)```(?:python)?\\s*(.*?)```")

// Model is an agent backed by a vision chat model over the OpenAI API.
type Model struct {
	client  *openai.Client
	cfg     models.AgentConfig
	history []openai.ChatCompletionMessage
}

// NewModel creates a model agent. The API key comes from OPENAI_API_KEY.
func NewModel(cfg models.AgentConfig) (*Model, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Model{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

func (m *Model) Reset() {
	m.history = nil
}

func (m *Model) Predict(ctx context.Context, goal string, obs *models.Observation) (models.Action, error) {
	shot, err := m.prepareScreenshot(obs.Screenshot)
	if err != nil {
		return models.Action{}, fmt.Errorf("preparing screenshot: %w", err)
	}

	userMsg := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeText,
				Text: "Task: " + goal,
			},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(shot),
					Detail: openai.ImageURLDetailHigh,
				},
			},
		},
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	messages = append(messages, m.history...)
	messages = append(messages, userMsg)

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.cfg.Model,
		Messages:    messages,
		Temperature: float32(m.cfg.Temperature),
		MaxTokens:   m.cfg.MaxTokens,
	})
	if err != nil {
		return models.Action{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.Action{}, fmt.Errorf("chat completion returned no choices")
	}

	reply := resp.Choices[0].Message.Content
	action := ParseAction(reply)

	slog.Debug("model prediction",
		"action", action.Type,
		"tokens", resp.Usage.TotalTokens)

	// Keep a text-only record of the exchange; re-sending images would blow
	// up the context.
	m.history = append(m.history,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "Task: " + goal + " (screenshot omitted)"},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
	)
	if len(m.history) > maxHistory*2 {
		m.history = m.history[len(m.history)-maxHistory*2:]
	}

	return action, nil
}

// prepareScreenshot downscales the observation to the configured width.
func (m *Model) prepareScreenshot(png []byte) ([]byte, error) {
	if m.cfg.ScreenshotWidth <= 0 {
		return png, nil
	}
	img, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() <= m.cfg.ScreenshotWidth {
		return png, nil
	}
	resized := imaging.Resize(img, m.cfg.ScreenshotWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseAction turns a model reply into an action. Replies containing a code
// block become opaque command payloads; bare signal words map to their
// signals; anything else is treated as a failure signal so a confused model
// cannot loop forever.
func ParseAction(reply string) models.Action {
	if match := codeBlockRe.FindStringSubmatch(reply); match != nil {
		code := strings.TrimSpace(match[1])
		switch strings.ToUpper(code) {
		case "DONE":
			return models.Action{Type: models.ActionDone}
		case "FAIL":
			return models.Action{Type: models.ActionFail}
		case "WAIT":
			return models.Action{Type: models.ActionWait}
		}
		return models.Action{Type: models.ActionCommand, Payload: code}
	}

	switch strings.ToUpper(strings.TrimSpace(reply)) {
	case "DONE":
		return models.Action{Type: models.ActionDone}
	case "FAIL":
		return models.Action{Type: models.ActionFail}
	case "WAIT":
		return models.Action{Type: models.ActionWait}
	}
	return models.Action{Type: models.ActionFail}
}
