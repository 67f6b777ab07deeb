// Package prompts contains all LLM-facing text used by Docket.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation, benefit from
// compile-time embedding, and can be validated by tests. User-facing
// configuration lives in config.yaml; this package holds the
// instructions the agent sends to the model and the fixed replies it
// falls back to.
//
// Convention: each prompt category gets its own file with exported
// constants or functions that accept the dynamic parts and return the
// fully interpolated string.
package prompts
