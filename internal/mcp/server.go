// Package mcp exposes investigations and correlation runs as MCP tools so an
// assistant can load evidence, run the engine and read the results.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
	"github.com/yairfalse/sift/pkg/intelligence/service"
	"github.com/yairfalse/sift/pkg/intelligence/storage"
)

// topCorrelations is how many correlations correlate returns inline
const topCorrelations = 5

// Backend is the part of the investigation service the tools call
type Backend interface {
	CreateInvestigation(ctx context.Context, inv domain.Investigation) (*domain.Investigation, error)
	ListInvestigations(ctx context.Context) ([]domain.Investigation, error)
	AddEvents(ctx context.Context, id domain.InvestigationID, events []domain.ForensicEvent) (int, error)
	AddItems(ctx context.Context, id domain.InvestigationID, items []domain.OSINTItem) (int, error)
	Correlate(ctx context.Context, id domain.InvestigationID) (*correlation.Result, error)
	Correlations(ctx context.Context, id domain.InvestigationID, minStrength float64, limit int) ([]domain.Correlation, error)
	Report(ctx context.Context, id domain.InvestigationID) (*correlation.Report, error)
	Timeline(ctx context.Context, id domain.InvestigationID) ([]correlation.TimelineEntry, error)
	Patterns(ctx context.Context, id domain.InvestigationID) (*correlation.Patterns, error)
	Statistics(ctx context.Context, id domain.InvestigationID) (*storage.Statistics, error)
	Summarize(ctx context.Context, id domain.InvestigationID, notes string) (string, error)
	Insights(ctx context.Context, id domain.InvestigationID) (string, error)
}

var _ Backend = (*service.Service)(nil)

// Server wraps the MCP SDK server
type Server struct {
	MCPServer *sdkmcp.Server
	backend   Backend
	logger    *zap.Logger
}

// NewServer creates an MCP server with every investigation tool registered
func NewServer(backend Backend, logger *zap.Logger, version string) *Server {
	s := &Server{
		backend: backend,
		logger:  logger.With(zap.String("component", "mcp")),
	}
	s.MCPServer = sdkmcp.NewServer(&sdkmcp.Implementation{Name: "sift", Version: version}, nil)
	s.registerTools()
	return s
}

// Run serves over stdin/stdout until ctx is cancelled or the client leaves
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("MCP server starting (stdio)")
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "create_investigation",
		Description: "Create an investigation. The optional location (\"lat,lon\") is used for events that carry none.",
	}, s.createInvestigation)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_investigations",
		Description: "List investigations, newest first",
	}, s.listInvestigations)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "add_events",
		Description: "Store forensic filesystem events (timeline entries) for an investigation",
	}, s.addEvents)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "add_items",
		Description: "Store OSINT items (social posts, news, forum posts, public records) for an investigation",
	}, s.addItems)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "correlate",
		Description: "Score every stored event against every stored item, replace the previous results and return the run summary with the strongest correlations",
	}, s.correlate)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_correlations",
		Description: "List stored correlations, strongest first, optionally above a minimum strength",
	}, s.getCorrelations)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_report",
		Description: "Confidence buckets, source and event-type breakdowns and the top correlations",
	}, s.getReport)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_timeline",
		Description: "Chronological merge of correlated events and their items",
	}, s.getTimeline)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_patterns",
		Description: "Temporal clusters, event-type and file-extension patterns and common terms per source",
	}, s.getPatterns)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_statistics",
		Description: "Event, item and correlation counts with the average strength",
	}, s.getStatistics)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "summarize_investigation",
		Description: "Ask the configured language model for a written summary of the findings",
	}, s.summarize)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_insights",
		Description: "Ask the configured language model for priorities, possible incidents and follow-up actions across the strongest correlations. Run correlate first.",
	}, s.getInsights)
}

// --- Tool input types ---

type investigationInput struct {
	InvestigationID string `json:"investigation_id" jsonschema:"investigation ID"`
}

type summarizeInput struct {
	InvestigationID string `json:"investigation_id" jsonschema:"investigation ID"`
	Notes           string `json:"notes,omitempty" jsonschema:"optional analyst context to include in the summary"`
}

type createInvestigationInput struct {
	Name         string `json:"name" jsonschema:"investigation name"`
	Description  string `json:"description,omitempty" jsonschema:"optional description"`
	EvidencePath string `json:"evidence_path,omitempty" jsonschema:"path of the disk image or evidence folder"`
	Location     string `json:"location,omitempty" jsonschema:"investigation site as lat,lon in decimal degrees"`
	LocationName string `json:"location_name,omitempty" jsonschema:"human readable place name"`
	Timezone     string `json:"timezone,omitempty" jsonschema:"IANA timezone of the evidence"`
}

type eventInput struct {
	ID          string `json:"id" jsonschema:"unique event ID"`
	Timestamp   string `json:"timestamp,omitempty" jsonschema:"RFC 3339 time of the filesystem activity"`
	FilePath    string `json:"file_path" jsonschema:"full path of the file"`
	EventType   string `json:"event_type" jsonschema:"created, modified, accessed, changed, deleted or other"`
	FileSize    *int64 `json:"file_size,omitempty" jsonschema:"size in bytes"`
	Description string `json:"description,omitempty" jsonschema:"free text description"`
	FileType    string `json:"file_type,omitempty" jsonschema:"file type or MIME type"`
	Location    string `json:"location,omitempty" jsonschema:"where the activity happened as lat,lon"`
}

type addEventsInput struct {
	InvestigationID string       `json:"investigation_id" jsonschema:"investigation ID"`
	Events          []eventInput `json:"events" jsonschema:"forensic events to store"`
}

type itemInput struct {
	ID        string `json:"id" jsonschema:"unique item ID"`
	Source    string `json:"source" jsonschema:"social-post, news-article, web-page or other"`
	Timestamp string `json:"timestamp,omitempty" jsonschema:"RFC 3339 publication time"`
	Location  string `json:"location,omitempty" jsonschema:"geotag as lat,lon"`
	Title     string `json:"title,omitempty" jsonschema:"title or headline"`
	Content   string `json:"content,omitempty" jsonschema:"body text"`
	URL       string `json:"url,omitempty" jsonschema:"source URL"`
	Author    string `json:"author,omitempty" jsonschema:"author or account"`
}

type addItemsInput struct {
	InvestigationID string      `json:"investigation_id" jsonschema:"investigation ID"`
	Items           []itemInput `json:"items" jsonschema:"OSINT items to store"`
}

type getCorrelationsInput struct {
	InvestigationID string  `json:"investigation_id" jsonschema:"investigation ID"`
	MinStrength     float64 `json:"min_strength,omitempty" jsonschema:"only correlations at or above this strength (0 to 1)"`
	Limit           int     `json:"limit,omitempty" jsonschema:"maximum number of correlations (default 20)"`
}

type correlateOutput struct {
	Summary      correlation.Summary  `json:"summary"`
	Correlations []domain.Correlation `json:"top_correlations"`
}

// --- Handlers ---

func (s *Server) createInvestigation(ctx context.Context, _ *sdkmcp.CallToolRequest, in createInvestigationInput) (*sdkmcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.Name) == "" {
		return toolError("Investigation name is required"), nil, nil
	}
	inv := domain.Investigation{
		Name:         in.Name,
		Description:  in.Description,
		EvidencePath: in.EvidencePath,
		LocationName: in.LocationName,
		Timezone:     in.Timezone,
	}
	loc, err := parseLocation(in.Location)
	if err != nil {
		return toolError("Invalid location: %v", err), nil, nil
	}
	inv.Location = loc

	created, err := s.backend.CreateInvestigation(ctx, inv)
	if err != nil {
		return s.failed("create investigation", err), nil, nil
	}
	return toolJSON(created)
}

func (s *Server) listInvestigations(ctx context.Context, _ *sdkmcp.CallToolRequest, _ struct{}) (*sdkmcp.CallToolResult, any, error) {
	invs, err := s.backend.ListInvestigations(ctx)
	if err != nil {
		return s.failed("list investigations", err), nil, nil
	}
	if len(invs) == 0 {
		return toolText("No investigations yet. Use create_investigation to start one."), nil, nil
	}
	return toolJSON(invs)
}

func (s *Server) addEvents(ctx context.Context, _ *sdkmcp.CallToolRequest, in addEventsInput) (*sdkmcp.CallToolResult, any, error) {
	if in.InvestigationID == "" {
		return toolError("investigation_id is required"), nil, nil
	}
	events := make([]domain.ForensicEvent, 0, len(in.Events))
	for i, e := range in.Events {
		ev, err := e.toDomain(domain.InvestigationID(in.InvestigationID))
		if err != nil {
			return toolError("Event %d (%s): %v", i, e.ID, err), nil, nil
		}
		events = append(events, ev)
	}

	n, err := s.backend.AddEvents(ctx, domain.InvestigationID(in.InvestigationID), events)
	if err != nil {
		return s.failed("add events", err), nil, nil
	}
	return toolText(fmt.Sprintf("Stored %d events", n)), nil, nil
}

func (s *Server) addItems(ctx context.Context, _ *sdkmcp.CallToolRequest, in addItemsInput) (*sdkmcp.CallToolResult, any, error) {
	if in.InvestigationID == "" {
		return toolError("investigation_id is required"), nil, nil
	}
	items := make([]domain.OSINTItem, 0, len(in.Items))
	for i, it := range in.Items {
		item, err := it.toDomain(domain.InvestigationID(in.InvestigationID))
		if err != nil {
			return toolError("Item %d (%s): %v", i, it.ID, err), nil, nil
		}
		items = append(items, item)
	}

	n, err := s.backend.AddItems(ctx, domain.InvestigationID(in.InvestigationID), items)
	if err != nil {
		return s.failed("add items", err), nil, nil
	}
	return toolText(fmt.Sprintf("Stored %d items", n)), nil, nil
}

func (s *Server) correlate(ctx context.Context, _ *sdkmcp.CallToolRequest, in investigationInput) (*sdkmcp.CallToolResult, any, error) {
	result, err := s.backend.Correlate(ctx, domain.InvestigationID(in.InvestigationID))
	if err != nil {
		return s.failed("correlate", err), nil, nil
	}
	top := result.Correlations
	if len(top) > topCorrelations {
		top = top[:topCorrelations]
	}
	return toolJSON(correlateOutput{Summary: result.Summary, Correlations: top})
}

func (s *Server) getCorrelations(ctx context.Context, _ *sdkmcp.CallToolRequest, in getCorrelationsInput) (*sdkmcp.CallToolResult, any, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	corrs, err := s.backend.Correlations(ctx, domain.InvestigationID(in.InvestigationID), in.MinStrength, limit)
	if err != nil {
		return s.failed("list correlations", err), nil, nil
	}
	if len(corrs) == 0 {
		return toolText("No correlations stored at or above that strength. Run correlate first."), nil, nil
	}
	return toolJSON(corrs)
}

func (s *Server) getReport(ctx context.Context, _ *sdkmcp.CallToolRequest, in investigationInput) (*sdkmcp.CallToolResult, any, error) {
	report, err := s.backend.Report(ctx, domain.InvestigationID(in.InvestigationID))
	if err != nil {
		return s.failed("build report", err), nil, nil
	}
	return toolJSON(report)
}

func (s *Server) getTimeline(ctx context.Context, _ *sdkmcp.CallToolRequest, in investigationInput) (*sdkmcp.CallToolResult, any, error) {
	timeline, err := s.backend.Timeline(ctx, domain.InvestigationID(in.InvestigationID))
	if err != nil {
		return s.failed("build timeline", err), nil, nil
	}
	return toolJSON(timeline)
}

func (s *Server) getPatterns(ctx context.Context, _ *sdkmcp.CallToolRequest, in investigationInput) (*sdkmcp.CallToolResult, any, error) {
	patterns, err := s.backend.Patterns(ctx, domain.InvestigationID(in.InvestigationID))
	if err != nil {
		return s.failed("find patterns", err), nil, nil
	}
	return toolJSON(patterns)
}

func (s *Server) getStatistics(ctx context.Context, _ *sdkmcp.CallToolRequest, in investigationInput) (*sdkmcp.CallToolResult, any, error) {
	stats, err := s.backend.Statistics(ctx, domain.InvestigationID(in.InvestigationID))
	if err != nil {
		return s.failed("statistics", err), nil, nil
	}
	return toolJSON(stats)
}

func (s *Server) summarize(ctx context.Context, _ *sdkmcp.CallToolRequest, in summarizeInput) (*sdkmcp.CallToolResult, any, error) {
	text, err := s.backend.Summarize(ctx, domain.InvestigationID(in.InvestigationID), in.Notes)
	if err != nil {
		return s.failed("summarize", err), nil, nil
	}
	return toolText(text), nil, nil
}

func (s *Server) getInsights(ctx context.Context, _ *sdkmcp.CallToolRequest, in investigationInput) (*sdkmcp.CallToolResult, any, error) {
	text, err := s.backend.Insights(ctx, domain.InvestigationID(in.InvestigationID))
	if err != nil {
		return s.failed("get insights", err), nil, nil
	}
	return toolText(text), nil, nil
}

// failed turns a backend error into a tool error. Input and lookup problems
// are the caller's to fix; anything else is logged.
func (s *Server) failed(op string, err error) *sdkmcp.CallToolResult {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return toolError("Investigation not found. Use list_investigations to see existing IDs.")
	case errors.Is(err, storage.ErrAlreadyExists),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrSummaryUnavailable),
		errors.Is(err, service.ErrNoCorrelations):
		return toolError("Failed to %s: %v", op, err)
	}
	s.logger.Error("Tool failed", zap.String("operation", op), zap.Error(err))
	return toolError("Failed to %s: %v", op, err)
}

func (e eventInput) toDomain(id domain.InvestigationID) (domain.ForensicEvent, error) {
	ts, err := parseTimestamp(e.Timestamp)
	if err != nil {
		return domain.ForensicEvent{}, err
	}
	loc, err := parseLocation(e.Location)
	if err != nil {
		return domain.ForensicEvent{}, err
	}
	return domain.ForensicEvent{
		ID:              e.ID,
		InvestigationID: id,
		Timestamp:       ts,
		FilePath:        e.FilePath,
		Type:            domain.ParseEventType(e.EventType),
		Size:            e.FileSize,
		Description:     e.Description,
		FileType:        e.FileType,
		Location:        loc,
	}, nil
}

func (i itemInput) toDomain(id domain.InvestigationID) (domain.OSINTItem, error) {
	ts, err := parseTimestamp(i.Timestamp)
	if err != nil {
		return domain.OSINTItem{}, err
	}
	loc, err := parseLocation(i.Location)
	if err != nil {
		return domain.OSINTItem{}, err
	}
	return domain.OSINTItem{
		ID:              i.ID,
		InvestigationID: id,
		Source:          domain.ParseOSINTSource(i.Source),
		Timestamp:       ts,
		Location:        loc,
		Title:           i.Title,
		Content:         i.Content,
		URL:             i.URL,
		Author:          i.Author,
	}, nil
}

func parseTimestamp(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("timestamp must be RFC 3339: %w", err)
	}
	return &t, nil
}

func parseLocation(s string) (*domain.Coordinate, error) {
	if s == "" {
		return nil, nil
	}
	c, err := domain.ParseCoordinate(s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func toolText(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
	}
}

func toolError(format string, args ...any) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*sdkmcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return toolText(string(data)), nil, nil
}
