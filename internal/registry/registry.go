package registry

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/workflows"
)

// ResearchRegistry registers the deep research workflow and its activity.
type ResearchRegistry struct {
	activities *workflows.Activities
	logger     *zap.Logger
}

func NewResearchRegistry(acts *workflows.Activities, logger *zap.Logger) *ResearchRegistry {
	return &ResearchRegistry{activities: acts, logger: logger}
}

// RegisterWorkflows registers all workflows
func (r *ResearchRegistry) RegisterWorkflows(w worker.Registry) error {
	w.RegisterWorkflow(workflows.DeepResearchWorkflow)
	r.logger.Info("Registered deep research workflow")
	return nil
}

// RegisterActivities registers all activities
func (r *ResearchRegistry) RegisterActivities(w worker.Registry) error {
	w.RegisterActivityWithOptions(r.activities.RunDeepResearch, activity.RegisterOptions{Name: workflows.RunDeepResearchActivity})
	r.logger.Info("Registered deep research activities")
	return nil
}

var _ Registry = (*ResearchRegistry)(nil)
