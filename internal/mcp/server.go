// Package mcp exposes the pipeline's operator surface as MCP tools:
// status rollups, record inspection, injection, review promotion, and
// override flags. The server is read/write on the queue store only;
// it never runs pipeline stages itself.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"ratchet/internal/coordinator"
	"ratchet/internal/logging"
	"ratchet/internal/queue"
	"ratchet/internal/record"
)

// Server wraps the MCP SDK server around a queue store.
type Server struct {
	MCPServer *sdkmcp.Server
	store     queue.Store
}

// NewServer creates the operator MCP server over the given store.
func NewServer(store queue.Store, version string) *Server {
	s := &Server{store: store}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "ratchet", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves MCP over the transport until ctx is cancelled.
func (s *Server) Run(ctx context.Context, transport sdkmcp.Transport) error {
	return s.MCPServer.Run(ctx, transport)
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "pipeline_status",
		Description: "Per-stage record counts, terminal stages included, plus active override flags.",
	}, s.handlePipelineStatus)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_record",
		Description: "Fetch one record by ID with its full stage history, evaluation, validation, decision, and failure detail.",
	}, s.handleGetRecord)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "inject_record",
		Description: "Inject a new improvement record at the raw stage.",
	}, s.handleInjectRecord)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "promote_record",
		Description: "Promote a pending_review record to approved on reviewer authority.",
	}, s.handlePromoteRecord)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "set_override",
		Description: "Set or clear an approval override flag (approve_all or approve_none). Takes effect on the next policy decision.",
	}, s.handleSetOverride)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_stage",
		Description: "List the records currently in a stage, newest first.",
	}, s.handleListStage)
}

// --- Tool input/output types ---

type pipelineStatusInput struct{}

type stageCount struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

type pipelineStatusOutput struct {
	Stages    []stageCount    `json:"stages"`
	Overrides map[string]bool `json:"overrides,omitempty"`
}

type getRecordInput struct {
	ID string `json:"id" jsonschema:"record ID"`
}

type getRecordOutput struct {
	Record *record.Record `json:"record"`
}

type injectRecordInput struct {
	Source      string  `json:"source" jsonschema:"where the improvement came from (retro, incident review, bot)"`
	Title       string  `json:"title" jsonschema:"short imperative title"`
	Description string  `json:"description" jsonschema:"what should change and why"`
	Category    string  `json:"category" jsonschema:"architecture, integration, security, database, networking, monitoring, or capability"`
	Type        string  `json:"type" jsonschema:"pattern, technique, tool, capability, or integration"`
	Relevance   float64 `json:"relevance" jsonschema:"initial relevance score in [0,1]"`
}

type injectRecordOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type promoteRecordInput struct {
	ID       string `json:"id" jsonschema:"record ID in pending_review"`
	Reviewer string `json:"reviewer" jsonschema:"who reviewed and approved the record"`
}

type promoteRecordOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type setOverrideInput struct {
	Flag string `json:"flag" jsonschema:"approve_all or approve_none"`
	On   bool   `json:"on" jsonschema:"true to set, false to clear"`
}

type setOverrideOutput struct {
	Overrides map[string]bool `json:"overrides"`
}

type listStageInput struct {
	Stage string `json:"stage" jsonschema:"stage name (raw, categorized, validated, approved, pending_review, deployed, verified, failed, error)"`
}

type listStageOutput struct {
	Stage   string           `json:"stage"`
	Records []*record.Record `json:"records"`
}

// --- Tool handlers ---

func (s *Server) handlePipelineStatus(ctx context.Context, _ *sdkmcp.CallToolRequest, _ pipelineStatusInput) (*sdkmcp.CallToolResult, pipelineStatusOutput, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return nil, pipelineStatusOutput{}, fmt.Errorf("stage counts: %w", err)
	}
	flags, err := s.store.Flags(ctx)
	if err != nil {
		return nil, pipelineStatusOutput{}, fmt.Errorf("override flags: %w", err)
	}
	out := pipelineStatusOutput{Overrides: flags}
	for _, stage := range record.Stages {
		out.Stages = append(out.Stages, stageCount{Stage: string(stage), Count: counts[stage]})
	}
	return nil, out, nil
}

func (s *Server) handleGetRecord(ctx context.Context, _ *sdkmcp.CallToolRequest, input getRecordInput) (*sdkmcp.CallToolResult, getRecordOutput, error) {
	rec, err := s.store.GetRecord(ctx, input.ID)
	if errors.Is(err, queue.ErrNotFound) {
		return nil, getRecordOutput{}, fmt.Errorf("no record with id %q", input.ID)
	}
	if err != nil {
		return nil, getRecordOutput{}, fmt.Errorf("get record: %w", err)
	}
	return nil, getRecordOutput{Record: rec}, nil
}

func (s *Server) handleInjectRecord(ctx context.Context, _ *sdkmcp.CallToolRequest, input injectRecordInput) (*sdkmcp.CallToolResult, injectRecordOutput, error) {
	rec := record.New(input.Source, input.Title, input.Description,
		record.Category(input.Category), record.Type(input.Type), input.Relevance)
	if err := coordinator.Inject(ctx, s.store, rec); err != nil {
		return nil, injectRecordOutput{}, err
	}
	logging.New("mcp").Info("record injected", "record", rec.ID, "category", rec.Category)
	return nil, injectRecordOutput{ID: rec.ID, Status: string(rec.Status)}, nil
}

func (s *Server) handlePromoteRecord(ctx context.Context, _ *sdkmcp.CallToolRequest, input promoteRecordInput) (*sdkmcp.CallToolResult, promoteRecordOutput, error) {
	if input.Reviewer == "" {
		return nil, promoteRecordOutput{}, fmt.Errorf("reviewer is required for the audit trail")
	}
	rec, err := coordinator.Promote(ctx, s.store, input.ID, input.Reviewer)
	if err != nil {
		return nil, promoteRecordOutput{}, err
	}
	logging.New("mcp").Info("record promoted", "record", rec.ID, "reviewer", input.Reviewer)
	return nil, promoteRecordOutput{
		ID:     rec.ID,
		Status: string(rec.Status),
		Reason: rec.Decision.Reason,
	}, nil
}

func (s *Server) handleSetOverride(ctx context.Context, _ *sdkmcp.CallToolRequest, input setOverrideInput) (*sdkmcp.CallToolResult, setOverrideOutput, error) {
	if input.Flag != queue.FlagApproveAll && input.Flag != queue.FlagApproveNone {
		return nil, setOverrideOutput{}, fmt.Errorf("unknown flag %q, want %s or %s",
			input.Flag, queue.FlagApproveAll, queue.FlagApproveNone)
	}
	if err := s.store.SetFlag(ctx, input.Flag, input.On); err != nil {
		return nil, setOverrideOutput{}, fmt.Errorf("set flag: %w", err)
	}
	logging.New("mcp").Warn("override flag changed", "flag", input.Flag, "on", input.On)
	flags, err := s.store.Flags(ctx)
	if err != nil {
		return nil, setOverrideOutput{}, fmt.Errorf("read flags back: %w", err)
	}
	return nil, setOverrideOutput{Overrides: flags}, nil
}

func (s *Server) handleListStage(ctx context.Context, _ *sdkmcp.CallToolRequest, input listStageInput) (*sdkmcp.CallToolResult, listStageOutput, error) {
	stage := record.Stage(input.Stage)
	if !stage.Valid() {
		return nil, listStageOutput{}, fmt.Errorf("unknown stage %q", input.Stage)
	}
	recs, err := s.store.ListStage(ctx, stage)
	if err != nil {
		return nil, listStageOutput{}, fmt.Errorf("list %s: %w", stage, err)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return last(recs[i]).After(last(recs[j]))
	})
	return nil, listStageOutput{Stage: input.Stage, Records: recs}, nil
}

func last(rec *record.Record) time.Time {
	if n := len(rec.Timestamps); n > 0 {
		return rec.Timestamps[n-1].At
	}
	return time.Time{}
}
