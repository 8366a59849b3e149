package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"fieldtrack/internal/core"
)

const toolCount = 6

// MCPServer exposes read-only supervisor views over the Model Context Protocol.
type MCPServer struct {
	assignments *core.AssignmentService
	analytics   *core.Analytics
	logger      *slog.Logger
	location    *time.Location
	server      *server.MCPServer
}

// NewMCPServer creates a new MCP server instance with every tool registered.
func NewMCPServer(assignments *core.AssignmentService, analytics *core.Analytics, logger *slog.Logger, location *time.Location) *MCPServer {
	s := &MCPServer{
		assignments: assignments,
		analytics:   analytics,
		logger:      logger,
		location:    location,
	}
	s.server = server.NewMCPServer(
		"fieldtrack",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(s.server)
	return s
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// Handler returns the streamable HTTP transport for mounting under /mcp.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

// registerTools registers all available MCP tools.
func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	// fieldtrack_list_assignments
	mcpServer.AddTool(mcp.NewTool("fieldtrack_list_assignments",
		mcp.WithDescription("List assignments with their computed status"),
		mcp.WithString("user_id",
			mcp.Description("Only assignments that include this worker"),
		),
		mcp.WithString("task_id",
			mcp.Description("Only assignments of this task"),
		),
		mcp.WithString("date",
			mcp.Description("Assignment date, YYYY-MM-DD"),
		),
		mcp.WithString("status",
			mcp.Description("Computed status filter"),
			mcp.Enum("pending", "inactive", "in_progress", "in progress", "completed"),
		),
		mcp.WithNumber("page",
			mcp.Description("Page number, default 1"),
			mcp.Min(1),
		),
	), s.handleListAssignments)

	// fieldtrack_get_assignment
	mcpServer.AddTool(mcp.NewTool("fieldtrack_get_assignment",
		mcp.WithDescription("Show one assignment with its task and workers"),
		mcp.WithString("assignment_id",
			mcp.Required(),
			mcp.Description("Assignment ID"),
		),
	), s.handleGetAssignment)

	// fieldtrack_current_locations
	mcpServer.AddTool(mcp.NewTool("fieldtrack_current_locations",
		mcp.WithDescription("Latest known position of every worker on an assignment"),
		mcp.WithString("assignment_id",
			mcp.Required(),
			mcp.Description("Assignment ID"),
		),
	), s.handleCurrentLocations)

	// fieldtrack_route_summary
	mcpServer.AddTool(mcp.NewTool("fieldtrack_route_summary",
		mcp.WithDescription("Route length and time span of one worker on an assignment"),
		mcp.WithString("assignment_id",
			mcp.Required(),
			mcp.Description("Assignment ID"),
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Worker ID"),
		),
	), s.handleRouteSummary)

	// fieldtrack_nearby
	mcpServer.AddTool(mcp.NewTool("fieldtrack_nearby",
		mcp.WithDescription("Samples recorded within a radius of a coordinate, nearest first"),
		mcp.WithNumber("latitude",
			mcp.Required(),
			mcp.Description("Center latitude"),
			mcp.Min(-90),
			mcp.Max(90),
		),
		mcp.WithNumber("longitude",
			mcp.Required(),
			mcp.Description("Center longitude"),
			mcp.Min(-180),
			mcp.Max(180),
		),
		mcp.WithNumber("radius_km",
			mcp.Required(),
			mcp.Description("Search radius in km, greater than 0.1 and at most 50"),
		),
		mcp.WithString("assignment_id",
			mcp.Description("Restrict to one assignment"),
		),
	), s.handleNearby)

	// fieldtrack_location_stats
	mcpServer.AddTool(mcp.NewTool("fieldtrack_location_stats",
		mcp.WithDescription("Sample counts for an assignment, a worker, or everything"),
		mcp.WithString("assignment_id",
			mcp.Description("Assignment ID"),
		),
		mcp.WithString("user_id",
			mcp.Description("Worker ID"),
		),
	), s.handleLocationStats)

	s.logger.Info("MCP tools registered", "count", toolCount)
}

// handleListAssignments handles the fieldtrack_list_assignments tool call.
func (s *MCPServer) handleListAssignments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := core.AssignmentFilter{
		AssignmentQuery: core.AssignmentQuery{
			UserID: mcp.ParseString(request, "user_id", ""),
			TaskID: mcp.ParseString(request, "task_id", ""),
		},
	}
	if date := mcp.ParseString(request, "date", ""); date != "" {
		d, err := core.ParseDate(date)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Date = &d
	}
	if status := mcp.ParseString(request, "status", ""); status != "" {
		st, err := core.ParseDisplayStatus(status)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Status = &st
	}
	page := core.Page{Number: int(mcp.ParseFloat64(request, "page", 1))}

	views, info, err := s.assignments.List(ctx, filter, page)
	if err != nil {
		return s.toolError("list assignments", err), nil
	}
	if len(views) == 0 {
		return mcp.NewToolResultText("No assignments found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Assignments (page %d of %d, %d total):\n\n", info.Page, info.LastPage, info.Total)
	for _, v := range views {
		fmt.Fprintf(&b, "%s %s  %s  %s  workers: %s\n",
			statusToIcon(v.Status), v.Assignment.ID, v.Assignment.Date, taskLabel(v), strings.Join(v.Assignment.UserIDs, ", "))
	}
	return mcp.NewToolResultText(b.String()), nil
}

// handleGetAssignment handles the fieldtrack_get_assignment tool call.
func (s *MCPServer) handleGetAssignment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "assignment_id", "")
	view, err := s.assignments.Get(ctx, id)
	if err != nil {
		return s.toolError("get assignment", err), nil
	}
	a := view.Assignment
	var b strings.Builder
	fmt.Fprintf(&b, "Assignment: %s\n", a.ID)
	fmt.Fprintf(&b, "Task: %s\n", taskLabel(view))
	if view.Task != nil && view.Task.ScheduledStart != nil && view.Task.ScheduledEnd != nil {
		fmt.Fprintf(&b, "Work hours: %s-%s\n", view.Task.ScheduledStart, view.Task.ScheduledEnd)
	}
	fmt.Fprintf(&b, "Date: %s\n", a.Date)
	fmt.Fprintf(&b, "Workers: %s\n", strings.Join(a.UserIDs, ", "))
	fmt.Fprintf(&b, "Status: %s %s\n", statusToIcon(view.Status), view.Status)
	fmt.Fprintf(&b, "Started: %s\n", s.formatTime(a.StartTime))
	fmt.Fprintf(&b, "Ended: %s\n", s.formatTime(a.EndTime))
	return mcp.NewToolResultText(b.String()), nil
}

// handleCurrentLocations handles the fieldtrack_current_locations tool call.
func (s *MCPServer) handleCurrentLocations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "assignment_id", "")
	current, err := s.analytics.CurrentLocations(ctx, id)
	if err != nil {
		return s.toolError("load current locations", err), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Current locations for %s:\n\n", id)
	for _, c := range current {
		if c.Sample == nil {
			fmt.Fprintf(&b, "- %s: no samples yet\n", c.UserID)
			continue
		}
		fmt.Fprintf(&b, "- %s: %.6f, %.6f at %s", c.UserID, c.Sample.Latitude, c.Sample.Longitude, s.formatTime(&c.Sample.RecordedAt))
		if c.Sample.Address != nil {
			fmt.Fprintf(&b, " (%s)", *c.Sample.Address)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// handleRouteSummary handles the fieldtrack_route_summary tool call.
func (s *MCPServer) handleRouteSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	route, err := s.analytics.Route(ctx,
		mcp.ParseString(request, "assignment_id", ""),
		mcp.ParseString(request, "user_id", ""),
		core.TimeRange{})
	if err != nil {
		return s.toolError("load route", err), nil
	}
	result := fmt.Sprintf("Route of %s on %s\nPoints: %d\nDistance: %.2f km\nFrom: %s\nTo: %s\n",
		route.UserID, route.AssignmentID, route.TotalPoints, route.TotalDistanceKm,
		s.formatTime(route.StartTime), s.formatTime(route.EndTime))
	return mcp.NewToolResultText(result), nil
}

// handleNearby handles the fieldtrack_nearby tool call.
func (s *MCPServer) handleNearby(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	results, info, err := s.analytics.FindNearby(ctx, core.NearbyRequest{
		Latitude:     mcp.ParseFloat64(request, "latitude", 0),
		Longitude:    mcp.ParseFloat64(request, "longitude", 0),
		RadiusKm:     mcp.ParseFloat64(request, "radius_km", 0),
		AssignmentID: mcp.ParseString(request, "assignment_id", ""),
	}, core.Page{})
	if err != nil {
		return s.toolError("search nearby", err), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("No samples in range"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d samples in range (showing %d):\n\n", info.Total, len(results))
	for _, r := range results {
		fmt.Fprintf(&b, "- %.2f km  %s on %s at %s\n", r.DistanceKm, r.Sample.UserID, r.Sample.AssignmentID, s.formatTime(&r.Sample.RecordedAt))
	}
	return mcp.NewToolResultText(b.String()), nil
}

// handleLocationStats handles the fieldtrack_location_stats tool call.
func (s *MCPServer) handleLocationStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.analytics.Statistics(ctx, core.StatsScope{
		AssignmentID: mcp.ParseString(request, "assignment_id", ""),
		UserID:       mcp.ParseString(request, "user_id", ""),
	})
	if err != nil {
		return s.toolError("load location stats", err), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Samples: %d (auto %d, manual %d)\n", stats.Total, stats.Auto, stats.Manual)
	fmt.Fprintf(&b, "First: %s\nLast: %s\n", s.formatTime(stats.FirstRecordedAt), s.formatTime(stats.LastRecordedAt))
	for user, n := range stats.ByUser {
		fmt.Fprintf(&b, "  user %s: %d\n", user, n)
	}
	for assignment, n := range stats.ByAssignment {
		fmt.Fprintf(&b, "  assignment %s: %d\n", assignment, n)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// Helper functions

// toolError reports domain errors verbatim and logs anything unexpected.
func (s *MCPServer) toolError(op string, err error) *mcp.CallToolResult {
	if core.KindOf(err) != "" {
		return mcp.NewToolResultError(err.Error())
	}
	s.logger.Error("mcp "+op, "err", err)
	return mcp.NewToolResultError(fmt.Sprintf("failed to %s", op))
}

func (s *MCPServer) formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.In(s.location).Format("2006-01-02 15:04:05")
}

func taskLabel(v *core.AssignmentView) string {
	if v.Task == nil {
		return v.Assignment.TaskID
	}
	return v.Task.Title
}

func statusToIcon(status core.DisplayStatus) string {
	switch status {
	case core.DisplayStatusInProgress:
		return "▶️"
	case core.DisplayStatusPending:
		return "⏳"
	case core.DisplayStatusInactive:
		return "💤"
	case core.DisplayStatusCompleted:
		return "✅"
	default:
		return "❓"
	}
}
