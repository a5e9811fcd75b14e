package config

import (
	"os"
	"strings"
)

// SearchAPI names the web search capability available to a run.
type SearchAPI string

const (
	SearchFirecrawl SearchAPI = "firecrawl"
	SearchTavily    SearchAPI = "tavily"
	SearchNone      SearchAPI = "none"
)

// Enabled reports whether a search tool may be offered to the model.
func (s SearchAPI) Enabled() bool {
	return s == SearchFirecrawl || s == SearchTavily
}

// ModelSpec is a model identifier plus its output token budget.
type ModelSpec struct {
	ID        string `json:"id" mapstructure:"id"`
	MaxTokens int    `json:"max_tokens" mapstructure:"max_tokens"`
}

// RuntimeConfig is the resolved, immutable configuration of one research run.
type RuntimeConfig struct {
	MaxStructuredOutputRetries int       `json:"max_structured_output_retries"`
	MaxConcurrentResearchUnits int       `json:"max_concurrent_research_units"`
	MaxResearcherIterations    int       `json:"max_researcher_iterations"`
	SearchAPIMaxQueries        int       `json:"search_api_max_queries"`
	MaxResearchUnits           int       `json:"max_research_units"`
	AllowClarification         bool      `json:"allow_clarification"`
	SearchAPI                  SearchAPI `json:"search_api"`

	SummarizationModel ModelSpec `json:"summarization_model"`
	ResearchModel      ModelSpec `json:"research_model"`
	CompressionModel   ModelSpec `json:"compression_model"`
	FinalReportModel   ModelSpec `json:"final_report_model"`
	StatusUpdateModel  ModelSpec `json:"status_update_model"`
}

// Settings are the static deep research knobs as read from configuration.
// Zero values mean "use the default".
type Settings struct {
	MaxStructuredOutputRetries int    `mapstructure:"max_structured_output_retries"`
	MaxConcurrentResearchUnits int    `mapstructure:"max_concurrent_research_units"`
	MaxResearcherIterations    int    `mapstructure:"max_researcher_iterations"`
	SearchAPIMaxQueries        int    `mapstructure:"search_api_max_queries"`
	MaxResearchUnits           int    `mapstructure:"max_research_units"`
	AllowClarification         bool   `mapstructure:"allow_clarification"`
	SearchAPI                  string `mapstructure:"search_api"`

	Models struct {
		Summarization ModelSpec `mapstructure:"summarization"`
		Research      ModelSpec `mapstructure:"research"`
		Compression   ModelSpec `mapstructure:"compression"`
		FinalReport   ModelSpec `mapstructure:"final_report"`
		StatusUpdate  ModelSpec `mapstructure:"status_update"`
	} `mapstructure:"models"`
}

// Availability records which search credentials are present.
type Availability struct {
	Firecrawl bool
	Tavily    bool
}

// AvailabilityFromEnv inspects the provider API key variables.
func AvailabilityFromEnv() Availability {
	return Availability{
		Firecrawl: strings.TrimSpace(os.Getenv("FIRECRAWL_API_KEY")) != "",
		Tavily:    strings.TrimSpace(os.Getenv("TAVILY_API_KEY")) != "",
	}
}

const (
	DefaultMaxStructuredOutputRetries = 3
	DefaultMaxConcurrentResearchUnits = 3
	DefaultMaxResearcherIterations    = 5
	DefaultSearchAPIMaxQueries        = 3
	DefaultMaxResearchUnits           = 10
)

var (
	DefaultSummarizationModel = ModelSpec{ID: "openai:gpt-4.1-nano", MaxTokens: 8192}
	DefaultResearchModel      = ModelSpec{ID: "openai:gpt-4.1", MaxTokens: 10000}
	DefaultCompressionModel   = ModelSpec{ID: "openai:gpt-4.1-mini", MaxTokens: 8192}
	DefaultFinalReportModel   = ModelSpec{ID: "openai:gpt-4.1", MaxTokens: 10000}
	DefaultStatusUpdateModel  = ModelSpec{ID: "openai:gpt-4.1-nano", MaxTokens: 2000}
)

// DefaultSettings mirrors the values registered with viper in Load.
func DefaultSettings() Settings {
	var s Settings
	s.MaxStructuredOutputRetries = DefaultMaxStructuredOutputRetries
	s.MaxConcurrentResearchUnits = DefaultMaxConcurrentResearchUnits
	s.MaxResearcherIterations = DefaultMaxResearcherIterations
	s.SearchAPIMaxQueries = DefaultSearchAPIMaxQueries
	s.MaxResearchUnits = DefaultMaxResearchUnits
	s.AllowClarification = true
	s.SearchAPI = "auto"
	s.Models.Summarization = DefaultSummarizationModel
	s.Models.Research = DefaultResearchModel
	s.Models.Compression = DefaultCompressionModel
	s.Models.FinalReport = DefaultFinalReportModel
	s.Models.StatusUpdate = DefaultStatusUpdateModel
	return s
}

// Resolve turns settings and credential availability into a RuntimeConfig.
// It never fails: invalid limits and empty model ids fall back to defaults,
// and a search provider without credentials is never selected.
func Resolve(s Settings, avail Availability) RuntimeConfig {
	return RuntimeConfig{
		MaxStructuredOutputRetries: positiveOr(s.MaxStructuredOutputRetries, DefaultMaxStructuredOutputRetries),
		MaxConcurrentResearchUnits: positiveOr(s.MaxConcurrentResearchUnits, DefaultMaxConcurrentResearchUnits),
		MaxResearcherIterations:    positiveOr(s.MaxResearcherIterations, DefaultMaxResearcherIterations),
		SearchAPIMaxQueries:        positiveOr(s.SearchAPIMaxQueries, DefaultSearchAPIMaxQueries),
		MaxResearchUnits:           positiveOr(s.MaxResearchUnits, DefaultMaxResearchUnits),
		AllowClarification:         s.AllowClarification,
		SearchAPI:                  resolveSearchAPI(s.SearchAPI, avail),

		SummarizationModel: modelOr(s.Models.Summarization, DefaultSummarizationModel),
		ResearchModel:      modelOr(s.Models.Research, DefaultResearchModel),
		CompressionModel:   modelOr(s.Models.Compression, DefaultCompressionModel),
		FinalReportModel:   modelOr(s.Models.FinalReport, DefaultFinalReportModel),
		StatusUpdateModel:  modelOr(s.Models.StatusUpdate, DefaultStatusUpdateModel),
	}
}

func resolveSearchAPI(preferred string, avail Availability) SearchAPI {
	switch SearchAPI(strings.ToLower(strings.TrimSpace(preferred))) {
	case SearchNone:
		return SearchNone
	case SearchFirecrawl:
		if avail.Firecrawl {
			return SearchFirecrawl
		}
	case SearchTavily:
		if avail.Tavily {
			return SearchTavily
		}
	}
	// firecrawl is the primary provider, tavily the secondary
	switch {
	case avail.Firecrawl:
		return SearchFirecrawl
	case avail.Tavily:
		return SearchTavily
	default:
		return SearchNone
	}
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func modelOr(m, def ModelSpec) ModelSpec {
	if strings.TrimSpace(m.ID) == "" {
		m.ID = def.ID
	}
	if m.MaxTokens <= 0 {
		m.MaxTokens = def.MaxTokens
	}
	return m
}
