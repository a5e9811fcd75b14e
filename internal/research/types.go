// Package research implements the deep research pipeline: clarification,
// brief writing, bounded parallel research units and report synthesis.
package research

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sparka-ai/deepresearch/internal/llm"
	"github.com/sparka-ai/deepresearch/internal/search"
)

var (
	// ErrCancelled is returned when the run's context is cancelled.
	ErrCancelled = errors.New("research: cancelled")
	// ErrRunFailed wraps every run-fatal failure.
	ErrRunFailed = errors.New("research: run failed")
)

// UpdateKind discriminates progress updates.
type UpdateKind string

const (
	KindStarted   UpdateKind = "started"
	KindWeb       UpdateKind = "web"
	KindThoughts  UpdateKind = "thoughts"
	KindWriting   UpdateKind = "writing"
	KindCompleted UpdateKind = "completed"
	KindProblem   UpdateKind = "problem"
)

// Update is one progress event. The set of implementations is closed:
// Started, Web, Thoughts, Writing, Completed and Problem.
type Update interface {
	Kind() UpdateKind
	Header() UpdateHeader
	isUpdate()
}

// UpdateHeader is carried by every update.
type UpdateHeader struct {
	ToolCallID string `json:"toolCallId"`
	Title      string `json:"title"`
}

func (h UpdateHeader) Header() UpdateHeader { return h }

type Started struct {
	UpdateHeader
}

// Web reports one search round of a research unit.
type Web struct {
	UpdateHeader
	Queries []string        `json:"queries"`
	Results []search.Result `json:"results"`
}

type Thoughts struct {
	UpdateHeader
	Text string `json:"text"`
}

// Writing carries one streamed chunk of the final report.
type Writing struct {
	UpdateHeader
	Text string `json:"text"`
}

type Completed struct {
	UpdateHeader
}

type Problem struct {
	UpdateHeader
	Error string `json:"error"`
}

func (Started) Kind() UpdateKind   { return KindStarted }
func (Web) Kind() UpdateKind       { return KindWeb }
func (Thoughts) Kind() UpdateKind  { return KindThoughts }
func (Writing) Kind() UpdateKind   { return KindWriting }
func (Completed) Kind() UpdateKind { return KindCompleted }
func (Problem) Kind() UpdateKind   { return KindProblem }

func (Started) isUpdate()   {}
func (Web) isUpdate()       {}
func (Thoughts) isUpdate()  {}
func (Writing) isUpdate()   {}
func (Completed) isUpdate() {}
func (Problem) isUpdate()   {}

// IsTerminal reports whether u closes the stream.
func IsTerminal(u Update) bool {
	k := u.Kind()
	return k == KindCompleted || k == KindProblem
}

// ClarificationDecision is the answer of the clarification gate.
type ClarificationDecision struct {
	NeedClarification bool   `json:"need_clarification"`
	Question          string `json:"question"`
	Verification      string `json:"verification"`
}

func (d *ClarificationDecision) Validate() error {
	if d.NeedClarification && strings.TrimSpace(d.Question) == "" {
		return errors.New("question is required when clarification is needed")
	}
	return nil
}

// ResearchBrief is the structured research plan derived from the conversation.
type ResearchBrief struct {
	Brief string `json:"research_brief"`
	Title string `json:"title"`
}

func (b *ResearchBrief) Validate() error {
	if strings.TrimSpace(b.Brief) == "" {
		return errors.New("research_brief is empty")
	}
	if strings.TrimSpace(b.Title) == "" {
		return errors.New("title is empty")
	}
	return nil
}

// UnitStatus is the terminal status of a research unit.
type UnitStatus string

const (
	UnitCompleted UnitStatus = "completed"
	UnitFailed    UnitStatus = "failed"
	UnitAborted   UnitStatus = "aborted"
)

// Findings is the compressed output of one research unit. Placeholder is set
// when the unit failed or found nothing; such blocks are flagged to the
// report writer and never presented as research.
type Findings struct {
	Index       int        `json:"index"`
	Question    string     `json:"question"`
	Status      UnitStatus `json:"status"`
	Text        string     `json:"text"`
	Placeholder bool       `json:"placeholder"`
	Iterations  int        `json:"iterations"`
	Err         string     `json:"error,omitempty"`
}

// DocumentToolResult describes the stored report document.
type DocumentToolResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// ResultType discriminates the pipeline output.
type ResultType string

const (
	ResultClarifyingQuestion ResultType = "clarifying_question"
	ResultReport             ResultType = "report"
)

// Result is the single output of a run: a clarifying question or a report.
// It encodes as {"type": ..., "data": ...}.
type Result struct {
	Type     ResultType
	Question string
	Report   *DocumentToolResult
}

// ClarifyingQuestion builds the early-exit result.
func ClarifyingQuestion(q string) *Result {
	return &Result{Type: ResultClarifyingQuestion, Question: q}
}

// ReportResult builds the success result.
func ReportResult(doc DocumentToolResult) *Result {
	return &Result{Type: ResultReport, Report: &doc}
}

type resultEnvelope struct {
	Type ResultType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch r.Type {
	case ResultClarifyingQuestion:
		data, err = json.Marshal(r.Question)
	case ResultReport:
		if r.Report == nil {
			return nil, errors.New("report result without document")
		}
		data, err = json.Marshal(r.Report)
	default:
		return nil, fmt.Errorf("unknown result type %q", r.Type)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(resultEnvelope{Type: r.Type, Data: data})
}

func (r *Result) UnmarshalJSON(b []byte) error {
	var env resultEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	switch env.Type {
	case ResultClarifyingQuestion:
		var q string
		if err := json.Unmarshal(env.Data, &q); err != nil {
			return err
		}
		*r = Result{Type: env.Type, Question: q}
	case ResultReport:
		var doc DocumentToolResult
		if err := json.Unmarshal(env.Data, &doc); err != nil {
			return err
		}
		*r = Result{Type: env.Type, Report: &doc}
	default:
		return fmt.Errorf("unknown result type %q", env.Type)
	}
	return nil
}

// Input is one deep research request.
type Input struct {
	MessageID  string        `json:"message_id"`
	RequestID  string        `json:"request_id"`
	ToolCallID string        `json:"tool_call_id"`
	Messages   []llm.Message `json:"messages"`
}
