package prompts

import (
	"fmt"
	"strings"
)

// StepLimitFallback is returned when the loop exhausts its step budget
// without the model emitting a final answer.
const StepLimitFallback = "I'm sorry, I couldn't finish that request within my step limit. Please try breaking it into smaller pieces."

// ToolUseHint follows the user message and task context in every step
// prompt.
const ToolUseHint = "You have access to tools to manage todos. Use them as needed."

// DocumentIndexingReply is the fixed assistant reply while uploaded
// documents are still being indexed and chat must wait.
const DocumentIndexingReply = "Your uploaded document is still indexing. Please wait ~10–30 seconds and try again."

// responseFormat demands the single-JSON-object reply shape the loop's
// parser understands.
const responseFormat = `Respond with exactly one JSON object and no other text. Use one of these shapes:
{"thought": "<reasoning>", "action": "<tool name>", "action_input": {<arguments>}, "final": ""}
{"thought": "<reasoning>", "actions": [{"action": "<tool name>", "action_input": {<arguments>}}, ...], "final": ""}
When you are done, set "action" to "final", "action_input" to null, and put your answer to the user in "final".`

// StepPrompt assembles the request content for one loop step.
// systemPrompt is empty when the assistant already carries it remotely;
// scratchpad is empty on the first step.
func StepPrompt(systemPrompt, message, toolCatalogJSON, scratchpad string) string {
	var sb strings.Builder
	if systemPrompt != "" {
		sb.WriteString(systemPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString(message)
	sb.WriteString("\n\n")
	sb.WriteString(ToolUseHint)
	sb.WriteString("\n\nAvailable tools:\n")
	sb.WriteString(toolCatalogJSON)
	sb.WriteString("\n\n")
	sb.WriteString(responseFormat)
	if scratchpad != "" {
		sb.WriteString("\n\nPrevious steps:\n")
		sb.WriteString(scratchpad)
	}
	return sb.String()
}

// TaskContext renders the owner's current tasks for the prompt. The
// serialized list rides in verbatim; an empty list gets the fixed
// no-todos line.
func TaskContext(todosJSON string) string {
	if todosJSON == "" || todosJSON == "[]" || todosJSON == "null" {
		return "\n\nNo todos yet."
	}
	return fmt.Sprintf("\n\nCurrent todos: %s", todosJSON)
}

// DocumentsHeader precedes the attached-document lines in the context
// block.
const DocumentsHeader = "\n\nAttached documents:"

// DocumentLine renders one attached document for the context block.
func DocumentLine(filename, status, summary string) string {
	if summary == "" {
		return fmt.Sprintf("\n- %s (%s)", filename, status)
	}
	return fmt.Sprintf("\n- %s (%s): %s", filename, status, summary)
}
