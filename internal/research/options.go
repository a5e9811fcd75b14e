package research

import (
	"fmt"

	"github.com/sparka-ai/deepresearch/internal/budget"
	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/llm"
)

// AgentOptions is the per-run context shared by every stage. Only the cost
// accumulator's ledger changes during a run. Cancellation travels separately
// as the context passed to Run.
type AgentOptions struct {
	RequestID  string
	MessageID  string
	ToolCallID string
	Config     config.RuntimeConfig
	Emitter    *Emitter
	Costs      *budget.Accumulator
}

func (o AgentOptions) metadata() llm.Metadata {
	return llm.Metadata{MessageID: o.MessageID, RequestID: o.RequestID}
}

// unitToolCallID correlates the updates of the unit at index.
func (o AgentOptions) unitToolCallID(index int) string {
	return fmt.Sprintf("%s-unit-%d", o.ToolCallID, index+1)
}
