package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// contextSampleChars is how much of the context the root prompt reveals
// directly; the program reads the rest through slicing.
const contextSampleChars = 200

const rootSystemPrompt = `You are the root agent of a recursive language model runtime. The user's context is too large to read directly, so you must write a short program that processes it for you.

Respond with a single fenced code block containing the program and nothing else.

The program runs in a restricted sandbox with these bindings and no others:
- context: the full input as a string
- memory: a persistent dict of values carried across executions
- llm_query(prompt) -> str: ask a sub-agent; include everything it needs in the prompt, it cannot see the context
- FINAL(value): finish with the answer (required; the value is returned to the user)
- len, range, enumerate, min, max, sum, sorted, str, int, float, bool, list, dict

Strings support: split, join, strip, upper, lower, find, replace, startswith, endswith, slicing like context[0:1000]. Lists support append. Dicts support get, keys, values, items.

Allowed statements: assignment, if/elif/else, for, while, break, continue, def, return. List comprehensions and f-strings work. Imports, file access, network access, and any other names are forbidden and abort the program.

Strategy: slice the context into chunks, send each chunk to llm_query with a focused instruction, then combine the partial answers with one more llm_query. Always end by calling FINAL exactly once.

Example for "summarize this document":

` + "```" + `
chunk_size = 50000
partials = []
i = 0
while i < len(context):
    chunk = context[i:i + chunk_size]
    partials.append(llm_query(f"Summarize this text:\n\n{chunk}"))
    i += chunk_size
FINAL(llm_query("Combine these partial summaries into one:\n\n" + "\n---\n".join(partials)))
` + "```"

const childSystemPrompt = `You are a sub-agent inside a larger reasoning system. Answer the prompt directly and concisely. Your entire response is returned verbatim to the calling program, so do not add preamble or commentary.`

// buildRootUserMessage composes the root prompt: the query, context
// metadata (never the full content), chunking guidance, and current memory.
func buildRootUserMessage(query, context string, chunkSize int, memory map[string]any) string {
	sum := sha256.Sum256([]byte(context))
	sample := context
	if len(sample) > contextSampleChars {
		sample = sample[:contextSampleChars]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\n", query)
	fmt.Fprintf(&sb, "Context metadata:\n- size: %d characters\n- sha256: %s\n- sample (first %d chars): %q\n\n",
		len(context), hex.EncodeToString(sum[:]), len(sample), sample)
	fmt.Fprintf(&sb, "Use chunks of about %d characters when splitting the context.\n", chunkSize)

	if len(memory) > 0 {
		if blob, err := json.Marshal(memory); err == nil {
			fmt.Fprintf(&sb, "\nCurrent memory:\n%s\n", blob)
		}
	}
	sb.WriteString("\nWrite the program now.")
	return sb.String()
}
