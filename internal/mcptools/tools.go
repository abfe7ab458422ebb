// Package mcptools exposes the protected tool surface over MCP. Every
// invocation is keyed through the access engine before results leave
// the gateway.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gonggate/internal/access"
	"gonggate/internal/gate"
	"gonggate/internal/gong"
	"gonggate/internal/models"
	"gonggate/internal/tier"
	"gonggate/internal/track"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	log "github.com/sirupsen/logrus"
)

const expiredTokenMessage = "Token expired. Please re-authenticate to continue."

// CallLister is the subset of the upstream client the tools need.
type CallLister interface {
	ListCalls(ctx context.Context, from, to time.Time) (*gong.CallsPage, error)
	RetrieveTranscripts(ctx context.Context, callIDs []string) (*gong.TranscriptsPage, error)
}

// Registry wires the tool handlers to their dependencies.
type Registry struct {
	upstream CallLister
	engine   *access.Engine
	tracker  track.Tracker
}

// NewRegistry constructs a Registry.
func NewRegistry(upstream CallLister, engine *access.Engine, tracker track.Tracker) *Registry {
	if tracker == nil {
		tracker = track.Noop{}
	}
	return &Registry{upstream: upstream, engine: engine, tracker: tracker}
}

// Register installs the tools on the MCP server.
func (r *Registry) Register(s *mcpserver.MCPServer) {
	listCallsTool := mcp.NewTool("list_calls",
		mcp.WithDescription("List calls scheduled within a date range"),
		mcp.WithString("from_date_time",
			mcp.Required(),
			mcp.Description("Range start in RFC 3339 format, e.g. 2024-01-01T00:00:00Z"),
		),
		mcp.WithString("to_date_time",
			mcp.Required(),
			mcp.Description("Range end in RFC 3339 format"),
		),
	)
	s.AddTool(listCallsTool, r.handleListCalls)

	retrieveTranscriptsTool := mcp.NewTool("retrieve_transcripts",
		mcp.WithDescription("Retrieve transcripts for the given call ids"),
		mcp.WithArray("call_ids",
			mcp.Required(),
			mcp.Description("Ids of the calls to fetch transcripts for"),
		),
	)
	s.AddTool(retrieveTranscriptsTool, r.handleRetrieveTranscripts)
}

func (r *Registry) handleListCalls(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	claims := gate.ClaimsFromContext(ctx)
	if claims == nil {
		return mcp.NewToolResultError(expiredTokenMessage), nil
	}

	args, _ := request.Params.Arguments.(map[string]interface{})
	from, errFrom := parseTimeArg(args, "from_date_time")
	if errFrom != nil {
		return mcp.NewToolResultError(errFrom.Error()), nil
	}
	to, errTo := parseTimeArg(args, "to_date_time")
	if errTo != nil {
		return mcp.NewToolResultError(errTo.Error()), nil
	}

	page, errList := r.upstream.ListCalls(ctx, from, to)
	if errList != nil {
		log.WithError(errList).Error("list calls failed")
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list calls: %v", errList)), nil
	}

	user, errUser := r.quotaUser(ctx, claims.Subject, claims.Tier)
	if errUser != nil {
		return mcp.NewToolResultError("Access check failed. Please try again."), nil
	}

	allowed := make([]gong.Call, 0, len(page.Calls))
	var deniedMessage string
	for _, call := range page.Calls {
		ok, message := r.engine.Check(ctx, user, call.ID)
		if !ok {
			deniedMessage = message
			continue
		}
		allowed = append(allowed, call)
	}

	r.tracker.Track(claims.Subject, "list_calls", map[string]any{
		"origin":    claims.Origin,
		"user_tier": claims.Tier,
		"returned":  len(allowed),
		"denied":    len(page.Calls) - len(allowed),
	})

	return renderResult(map[string]any{
		"calls":          allowed,
		"denied_message": deniedMessage,
	})
}

func (r *Registry) handleRetrieveTranscripts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	claims := gate.ClaimsFromContext(ctx)
	if claims == nil {
		return mcp.NewToolResultError(expiredTokenMessage), nil
	}

	args, _ := request.Params.Arguments.(map[string]interface{})
	callIDs := stringSliceArg(args, "call_ids")
	if len(callIDs) == 0 {
		return mcp.NewToolResultError("call_ids is required"), nil
	}

	user, errUser := r.quotaUser(ctx, claims.Subject, claims.Tier)
	if errUser != nil {
		return mcp.NewToolResultError("Access check failed. Please try again."), nil
	}

	allowed := make([]string, 0, len(callIDs))
	var deniedMessage string
	for _, id := range callIDs {
		ok, message := r.engine.Check(ctx, user, id)
		if !ok {
			deniedMessage = message
			continue
		}
		allowed = append(allowed, id)
	}
	if len(allowed) == 0 {
		return mcp.NewToolResultError(deniedMessage), nil
	}

	page, errFetch := r.upstream.RetrieveTranscripts(ctx, allowed)
	if errFetch != nil {
		log.WithError(errFetch).Error("retrieve transcripts failed")
		return mcp.NewToolResultError(fmt.Sprintf("Failed to retrieve transcripts: %v", errFetch)), nil
	}

	r.tracker.Track(claims.Subject, "retrieve_transcripts", map[string]any{
		"origin":    claims.Origin,
		"user_tier": claims.Tier,
		"requested": len(callIDs),
		"returned":  len(page.CallTranscripts),
	})

	return renderResult(map[string]any{
		"call_transcripts": page.CallTranscripts,
		"denied_message":   deniedMessage,
	})
}

func (r *Registry) quotaUser(ctx context.Context, email, tierName string) (*models.QuotaUser, error) {
	user, errUser := r.engine.GetOrCreateUser(ctx, email, tier.Parse(tierName))
	if errUser != nil {
		log.WithError(errUser).WithField("email", email).Error("quota user lookup failed")
		return nil, errUser
	}
	return user, nil
}

func renderResult(payload any) (*mcp.CallToolResult, error) {
	encoded, errMarshal := json.MarshalIndent(payload, "", "  ")
	if errMarshal != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", errMarshal)), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

func parseTimeArg(args map[string]interface{}, key string) (time.Time, error) {
	raw, _ := args[key].(string)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", key)
	}
	parsed, errParse := time.Parse(time.RFC3339, raw)
	if errParse != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC 3339, got %q", key, raw)
	}
	return parsed, nil
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, _ := args[key].([]interface{})
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
