package chat

import (
	"strings"

	"github.com/kaiwa-app/kaiwa/internal/ai"
)

// Category is the fixed conversation topic a room is created with. Immutable
// after room creation.
type Category string

const (
	CategoryTravel     Category = "TRAVEL"
	CategoryRestaurant Category = "RESTAURANT"
	CategoryShopping   Category = "SHOPPING"
	CategorySchool     Category = "SCHOOL"
	CategoryDailyLife  Category = "DAILY_LIFE"
	CategoryBusiness   Category = "BUSINESS"
)

var categoryTopics = map[Category]string{
	CategoryTravel:     "traveling in Japan: airports, stations, hotels and asking for directions",
	CategoryRestaurant: "visiting a restaurant: ordering food, asking about dishes and paying the bill",
	CategoryShopping:   "shopping: asking about products, sizes, prices and making a purchase",
	CategorySchool:     "school life: classes, classmates, clubs and talking with teachers",
	CategoryDailyLife:  "everyday small talk: weather, hobbies, weekend plans and daily routines",
	CategoryBusiness:   "business situations: meetings, phone calls and polite workplace conversation",
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := categoryTopics[c]; !ok {
		return "", ErrInvalidCategory
	}
	return c, nil
}

// Setup is the per-room conversation priming: system instructions plus the
// model parameters every completion for the room uses. Cached in the session
// store with an inactivity TTL.
type Setup struct {
	Model        string       `json:"model"`
	Messages     []ai.Message `json:"messages"`
	MaxTokens    int          `json:"max_tokens"`
	Temperature  float32      `json:"temperature"`
	JSONResponse bool         `json:"json_response"`
}

const (
	setupMaxTokens = 300
	turnMaxTokens  = 500
)

// replyFormat is the JSON envelope the model is instructed to answer with on
// every turn. The parser in parse.go is the strict counterpart of this shape.
const replyFormat = `{
  "conversation": {
    "bot_reply": "<your reply in Japanese>",
    "bot_reply_translated": "<English translation of your reply>",
    "suggested_reply": "<a model answer the learner could respond with, in Japanese>",
    "suggested_reply_translated": "<English translation of the suggested answer>"
  }
}`

// NewSetup builds the deterministic setup for a category. Pure: no I/O, same
// category and model always yield the same instructions.
func NewSetup(category Category, model string) Setup {
	topic := categoryTopics[category]

	var b strings.Builder
	b.WriteString("You are a Japanese conversation tutor. ")
	b.WriteString("Hold a natural conversation with the learner, always answering in Japanese first. ")
	b.WriteString("Stay on topic and keep the dialogue going based on everything said so far.\n")
	b.WriteString("The topic is: ")
	b.WriteString(topic)
	b.WriteString(".\n")
	b.WriteString("Every reply must contain your answer and a model answer the learner could give back to you.\n")
	b.WriteString("Always answer with exactly this JSON format and nothing else:\n")
	b.WriteString(replyFormat)

	return Setup{
		Model: model,
		Messages: []ai.Message{
			{Role: "system", Content: b.String()},
		},
		MaxTokens:    setupMaxTokens,
		Temperature:  0.7,
		JSONResponse: true,
	}
}
