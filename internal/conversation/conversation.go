// Package conversation rebuilds a role-tagged transcript from a chain of
// replied-to chat messages.
package conversation

import (
	"fmt"
	"slices"

	"github.com/efebarandurmaz/chatrelay/internal/llm"
)

// MaxChainDepth bounds how many parents ExtractChain will follow.
const MaxChainDepth = 100

// Actor is the author of a message.
type Actor struct {
	ID    int64
	IsBot bool
}

// Message is the slice of a chat message the extractor needs. ReplyTo is nil
// for thread roots; From is nil when the platform did not deliver author
// information (deleted or malformed messages).
type Message struct {
	ID      int
	ReplyTo *Message
	From    *Actor
	Text    string
	Caption string
}

// CaptionPlaceholder renders non-text content as descriptive text.
func CaptionPlaceholder(caption string) string {
	return fmt.Sprintf("представь картинку с комментарием %s", caption)
}

// ExtractChain walks the reply chain from last back to its root and returns
// the conversation oldest-first, ending with last's own text as a user turn.
// A parent without author information ends the walk early.
func ExtractChain(last *Message, botID int64) []llm.Message {
	var chain []llm.Message

	cur := last
	for depth := 0; cur != nil && depth < MaxChainDepth; depth++ {
		parent := cur.ReplyTo
		if parent == nil || parent.From == nil {
			break
		}

		role := llm.RoleUser
		if parent.From.ID == botID {
			role = llm.RoleAssistant
		}
		switch {
		case parent.Text != "":
			chain = append(chain, llm.Message{Role: role, Content: parent.Text})
		case parent.Caption != "":
			chain = append(chain, llm.Message{Role: role, Content: CaptionPlaceholder(parent.Caption)})
		}
		cur = parent
	}

	slices.Reverse(chain)
	return append(chain, llm.Message{Role: llm.RoleUser, Content: last.Text})
}
