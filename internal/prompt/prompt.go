// ABOUTME: Prompt enhancement contract for the enhance_prompt operation
// ABOUTME: Implementations rewrite a draft query, optionally considering attached files

package prompt

import "context"

// Enhancer rewrites a draft query into an improved prompt.
// Implementations live outside the gateway; the gateway only relays
// results and errors back to the client.
type Enhancer interface {
	Enhance(ctx context.Context, input string, files []string) (string, error)
}
