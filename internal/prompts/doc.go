// Package prompts contains the LLM prompt text Vika sends to the
// backend.
//
// Prompt text is Go code rather than config files because it is
// program logic: it benefits from compile-time embedding and can be
// validated by tests. Operators who need to adjust wording override
// tool descriptions through the prompt directory (see Overrides), not
// by patching the system prompt.
package prompts
