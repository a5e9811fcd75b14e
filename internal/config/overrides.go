package config

import "strings"

// ModelOverride replaces the non-zero fields of a model spec.
type ModelOverride struct {
	ID        string `json:"id,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

func (o *ModelOverride) apply(m *ModelSpec) {
	if o == nil {
		return
	}
	if id := strings.TrimSpace(o.ID); id != "" {
		m.ID = id
	}
	if o.MaxTokens > 0 {
		m.MaxTokens = o.MaxTokens
	}
}

// Overrides is a per-request partial RuntimeConfig. Nil fields keep the
// worker's value.
type Overrides struct {
	MaxStructuredOutputRetries *int    `json:"max_structured_output_retries,omitempty"`
	MaxConcurrentResearchUnits *int    `json:"max_concurrent_research_units,omitempty"`
	MaxResearcherIterations    *int    `json:"max_researcher_iterations,omitempty"`
	SearchAPIMaxQueries        *int    `json:"search_api_max_queries,omitempty"`
	MaxResearchUnits           *int    `json:"max_research_units,omitempty"`
	AllowClarification         *bool   `json:"allow_clarification,omitempty"`
	SearchAPI                  *string `json:"search_api,omitempty"`

	SummarizationModel *ModelOverride `json:"summarization_model,omitempty"`
	ResearchModel      *ModelOverride `json:"research_model,omitempty"`
	CompressionModel   *ModelOverride `json:"compression_model,omitempty"`
	FinalReportModel   *ModelOverride `json:"final_report_model,omitempty"`
	StatusUpdateModel  *ModelOverride `json:"status_update_model,omitempty"`
}

// Settings converts a resolved config back into settings.
func (c RuntimeConfig) Settings() Settings {
	var s Settings
	s.MaxStructuredOutputRetries = c.MaxStructuredOutputRetries
	s.MaxConcurrentResearchUnits = c.MaxConcurrentResearchUnits
	s.MaxResearcherIterations = c.MaxResearcherIterations
	s.SearchAPIMaxQueries = c.SearchAPIMaxQueries
	s.MaxResearchUnits = c.MaxResearchUnits
	s.AllowClarification = c.AllowClarification
	s.SearchAPI = string(c.SearchAPI)
	s.Models.Summarization = c.SummarizationModel
	s.Models.Research = c.ResearchModel
	s.Models.Compression = c.CompressionModel
	s.Models.FinalReport = c.FinalReportModel
	s.Models.StatusUpdate = c.StatusUpdateModel
	return s
}

// Apply merges o onto base and resolves the result, so the returned config
// keeps every RuntimeConfig guarantee. A nil o returns base re-resolved.
func (o *Overrides) Apply(base RuntimeConfig, avail Availability) RuntimeConfig {
	s := base.Settings()
	if o != nil {
		setInt(&s.MaxStructuredOutputRetries, o.MaxStructuredOutputRetries)
		setInt(&s.MaxConcurrentResearchUnits, o.MaxConcurrentResearchUnits)
		setInt(&s.MaxResearcherIterations, o.MaxResearcherIterations)
		setInt(&s.SearchAPIMaxQueries, o.SearchAPIMaxQueries)
		setInt(&s.MaxResearchUnits, o.MaxResearchUnits)
		if o.AllowClarification != nil {
			s.AllowClarification = *o.AllowClarification
		}
		if o.SearchAPI != nil {
			s.SearchAPI = *o.SearchAPI
		}
		o.SummarizationModel.apply(&s.Models.Summarization)
		o.ResearchModel.apply(&s.Models.Research)
		o.CompressionModel.apply(&s.Models.Compression)
		o.FinalReportModel.apply(&s.Models.FinalReport)
		o.StatusUpdateModel.apply(&s.Models.StatusUpdate)
	}
	return Resolve(s, avail)
}

// Invalid values are ignored rather than clamped.
func setInt(dst *int, v *int) {
	if v != nil && *v > 0 {
		*dst = *v
	}
}
