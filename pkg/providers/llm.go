package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// EchoLLM is the dry-run LLMProvider: it renders the prompt id and data
// into a deterministic string instead of calling a model. Real
// deployments wire a provider for their model of choice.
type EchoLLM struct{}

// Complete returns a stable textual rendering of the request.
func (EchoLLM) Complete(ctx context.Context, promptID string, data map[string]string, settings map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, data[k]))
	}
	return fmt.Sprintf("[%s] %s", promptID, strings.Join(parts, " ")), nil
}
