package flow

import (
	"encoding/json"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/openai/openai-go"
)

// Temperatures used per call site.
const (
	routerTemperature    = 0
	ordersTemperature    = 0.2
	marketingTemperature = 0.2
	salesTemperature     = 0.3
	supportTemperature   = 0.3
)

// chatMessages builds system prompt, prior turns and the user turn.
func chatMessages(system string, history []models.Message, user string) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	msgs = append(msgs, openai.SystemMessage(system))
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case models.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(user))
	return msgs
}

// contextJSON renders model context. Marshal errors yield "{}".
func contextJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// previousUserMessage returns the last user message in history.
func previousUserMessage(history []models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Content
		}
	}
	return ""
}
