package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/config"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const systemPrompt = `You are an expert Agile and Scrum coach helping teams and students learn Agile practices.
Be helpful, concise, and provide actionable advice.`

// FallbackReply is stored as the assistant answer when the upstream model
// call fails. The send itself still succeeds.
const FallbackReply = "I'm having trouble connecting to my knowledge base. Please try again in a moment."

const titlePrompt = "You are a conversation title generator. " +
	"Summarize the exchange between the user and the coach in a short title of at most ten words. " +
	"Output only the title, nothing else."

// Coach produces assistant replies for a session transcript. The mock
// implementation in this package and the test doubles in other packages
// both satisfy it.
type Coach interface {
	Reply(ctx context.Context, history []*models.Message, userMessage string) (string, error)
	Title(ctx context.Context, history []*models.Message) (string, error)
	ModelName() string
}

type coachService struct {
	chatModel model.ToolCallingChatModel
	modelName string
}

// NewService builds a Coach from the configured provider. An empty
// ai_provider yields a development mock that answers without any network.
func NewService(cfg *config.Config) (Coach, error) {
	provider := cfg.BasicConfig.AIProvider
	if provider == "" {
		return &mockCoach{}, nil
	}
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(context.Background(), &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(context.Background(), &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	return &coachService{chatModel: chatModel, modelName: provCfg.Model}, nil
}

func (s *coachService) ModelName() string { return s.modelName }

func (s *coachService) Reply(ctx context.Context, history []*models.Message, userMessage string) (string, error) {
	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, &schema.Message{Role: schema.System, Content: systemPrompt})
	for _, msg := range history {
		if msg == nil {
			continue
		}
		role := schema.User
		if msg.Role == models.RoleAssistant {
			role = schema.Assistant
		}
		messages = append(messages, &schema.Message{Role: role, Content: msg.Content})
	}
	messages = append(messages, &schema.Message{Role: schema.User, Content: userMessage})

	out, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate coach reply: %w", err)
	}
	return out.Content, nil
}

// Title asks the model for a conversation title covering the given
// exchange.
func (s *coachService) Title(ctx context.Context, history []*models.Message) (string, error) {
	if len(history) == 0 {
		return "", errors.New("no messages to title")
	}
	var conversation strings.Builder
	for _, msg := range history {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case models.RoleUser:
			fmt.Fprintf(&conversation, "User: %s\n", msg.Content)
		case models.RoleAssistant:
			fmt.Fprintf(&conversation, "Coach: %s\n", msg.Content)
		}
	}

	out, err := s.chatModel.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: titlePrompt},
		{Role: schema.User, Content: fmt.Sprintf("Generate a title for this conversation:\n\n%s", conversation.String())},
	})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	title := strings.TrimSpace(out.Content)
	if title == "" {
		return "", errors.New("model returned an empty title")
	}
	return title, nil
}

// mockCoach answers locally so the server runs end to end without an API key.
type mockCoach struct{}

func (m *mockCoach) ModelName() string { return "mock" }

func (m *mockCoach) Reply(_ context.Context, _ []*models.Message, userMessage string) (string, error) {
	return fmt.Sprintf(`I'd be happy to help you with that! As your Agile Coach, I can guide you through creating a strong approach to: %q.

Here's what I recommend:

1. **Start with clarity** - Ensure everyone understands the goal
2. **Break it down** - Divide into manageable user stories
3. **Set clear acceptance criteria** - Know when you're done
4. **Plan incrementally** - Focus on delivering value early

Would you like me to elaborate on any of these points?`, userMessage), nil
}

func (m *mockCoach) Title(context.Context, []*models.Message) (string, error) {
	return "", errors.New("mock coach does not generate titles")
}
