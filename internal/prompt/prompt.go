// Package prompt builds the conversation turns that ask a model to write or
// revise a process model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/kalambet/promoai/internal/conversation"
)

const systemPrompt = `You are an expert in business process modeling. You translate process descriptions into process trees written in YAML.

Grammar (every node is a mapping with exactly one key):
- activity: <label>        a single step, labeled with a short verb phrase
- skip: true               a silent step that does nothing
- sequence: [<node>, ...]  children run one after another (at least one child)
- choice: [<node>, ...]    exactly one child runs (at least two children)
- parallel: [<node>, ...]  all children run concurrently (at least two children)
- loop: {do: <node>, redo: <node>}  do runs, then optionally redo followed by do again; redo may be omitted

Rules:
- Every activity label may appear only once in the whole model. If a step repeats, model it with a loop; if it is optional, put it in a choice with a skip.
- Use choice with skip for optional behavior instead of inventing activities.
- Nest at most 64 levels deep.
- Answer with the complete model inside a single fenced code block labeled yaml. Do not include more than one code block.

Example:
` + "```yaml" + `
sequence:
  - activity: Receive order
  - parallel:
      - activity: Process payment
      - activity: Check inventory
  - choice:
      - activity: Ship order
      - skip: true
` + "```"

// ErrorTemplate is inserted into the corrective turn after a failed
// extraction, before the error description.
const ErrorTemplate = "Please update the model to fix the error. Make sure to follow the grammar and rules from the first message, and return the complete corrected model inside a single ```yaml block."

// System returns the system turn that opens every session.
func System() conversation.Turn {
	return conversation.Turn{Role: conversation.RoleSystem, Content: systemPrompt}
}

// Describe returns the user turn asking for a model of description.
func Describe(description string) conversation.Turn {
	var sb strings.Builder
	sb.WriteString("Create a process model for the following process description.\n\n[Process Description]\n")
	sb.WriteString(strings.TrimSpace(description))
	return conversation.Turn{Role: conversation.RoleUser, Content: sb.String()}
}

// CurrentModel returns an assistant turn presenting existing model code, used
// to seed a session from an imported model.
func CurrentModel(code string) conversation.Turn {
	return conversation.Turn{
		Role:    conversation.RoleAssistant,
		Content: fmt.Sprintf("This is the current process model:\n```yaml\n%s\n```", strings.TrimSpace(code)),
	}
}

// Feedback returns the user turn asking the model to revise its last answer.
func Feedback(feedback string) conversation.Turn {
	var sb strings.Builder
	sb.WriteString("Please update the process model based on the following feedback. Keep everything the feedback does not mention unchanged and return the complete updated model.\n\n[Feedback]\n")
	sb.WriteString(strings.TrimSpace(feedback))
	return conversation.Turn{Role: conversation.RoleUser, Content: sb.String()}
}

// TextToModel starts a conversation for a new model.
func TextToModel(description string) *conversation.Conversation {
	return conversation.New(System(), Describe(description))
}

// FromModel starts a conversation around existing model code.
func FromModel(code string) *conversation.Conversation {
	return conversation.New(System(), CurrentModel(code))
}
