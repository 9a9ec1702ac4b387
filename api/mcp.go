package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/warp/intake-ledger/intake"
)

// =============================================================================
// MCP TOOLS - POST /mcp with a CallToolRequest body
// =============================================================================

// Tool names served by HandleMCP.
const (
	ToolLogFood        = "log_food"
	ToolUpdateEntry    = "update_entry"
	ToolDeleteEntry    = "delete_entry"
	ToolGetDailyTotal  = "get_daily_total"
	ToolGetRangeTotals = "get_range_totals"
	ToolListEntries    = "list_entries"
)

type toolFunc func(ctx context.Context, args map[string]any) (any, error)

func (h *Handler) tools() map[string]toolFunc {
	return map[string]toolFunc{
		ToolLogFood:        h.toolLogFood,
		ToolUpdateEntry:    h.toolUpdateEntry,
		ToolDeleteEntry:    h.toolDeleteEntry,
		ToolGetDailyTotal:  h.toolGetDailyTotal,
		ToolGetRangeTotals: h.toolGetRangeTotals,
		ToolListEntries:    h.toolListEntries,
	}
}

// HandleMCP dispatches one tool call. Unknown tools, validation and
// not-found failures come back as isError results; storage failures are
// HTTP 500 and a malformed body is HTTP 400.
func (h *Handler) HandleMCP(w http.ResponseWriter, r *http.Request) {
	var req protocol.CallToolRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	tool, ok := h.tools()[req.Name]
	if !ok {
		writeJSON(w, http.StatusOK, toolError(&intake.ValidationError{Field: "name", Reason: fmt.Sprintf("unknown tool %q", req.Name)}))
		return
	}

	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}

	out, err := tool(r.Context(), args)
	if err != nil {
		if intake.IsClientError(err) || intake.IsNotFound(err) {
			writeJSON(w, http.StatusOK, toolError(err))
			return
		}
		writeDomainError(w, err)
		return
	}

	result, err := toolResult(out)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode result", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func toolResult(data any) (*protocol.CallToolResult, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(body),
			},
		},
	}, nil
}

func toolError(err error) *protocol.CallToolResult {
	resp := ErrorResponse{Error: err.Error(), Code: "validation"}
	var ve *intake.ValidationError
	if errors.As(err, &ve) {
		resp.Details = &ErrorDetails{Field: ve.Field}
	}
	if intake.IsNotFound(err) {
		resp.Code = "not_found"
	}
	body, mErr := json.Marshal(resp)
	if mErr != nil {
		log.Printf("[MCP] encode error result: %v", mErr)
	}
	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{Type: "text", Text: string(body)},
		},
		IsError: true,
	}
}

// =============================================================================
// TOOL HANDLERS
// =============================================================================

func (h *Handler) toolLogFood(ctx context.Context, args map[string]any) (any, error) {
	cmd, err := h.Validator.LogCommand(args)
	if err != nil {
		return nil, err
	}
	res, err := h.Orchestrator.Log(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return toLogResponse(res), nil
}

func (h *Handler) toolUpdateEntry(ctx context.Context, args map[string]any) (any, error) {
	updates, _ := args["updates"].(map[string]any)
	cmd, err := h.Validator.UpdateCommand(intake.CoerceString(args["entry_id"]), updates)
	if err != nil {
		return nil, err
	}
	res, err := h.Orchestrator.Update(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return toMutationResponse(res), nil
}

func (h *Handler) toolDeleteEntry(ctx context.Context, args map[string]any) (any, error) {
	id := intake.CoerceString(args["entry_id"])
	if id == "" {
		return nil, &intake.ValidationError{Field: "entry_id", Reason: "is required"}
	}
	res, err := h.Orchestrator.Delete(ctx, intake.EntryID(id))
	if err != nil {
		return nil, err
	}
	return toMutationResponse(res), nil
}

// toolGetDailyTotal reads one date; no date means today.
func (h *Handler) toolGetDailyTotal(ctx context.Context, args map[string]any) (any, error) {
	d := intake.Today(h.Aggregator.Clock, h.Aggregator.Location)
	if raw := intake.CoerceString(args["date"]); raw != "" {
		parsed, err := intake.ParseDate(raw)
		if err != nil {
			return nil, &intake.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD: " + raw}
		}
		d = parsed
	}
	t, err := h.Aggregator.DayTotal(ctx, d)
	if err != nil {
		return nil, err
	}
	return toDailyTotalDTO(t), nil
}

// toolGetRangeTotals serves start/end ranges, grouped ranges and, when
// "days" is given, the trailing window.
func (h *Handler) toolGetRangeTotals(ctx context.Context, args map[string]any) (any, error) {
	if raw, ok := args["days"]; ok && raw != nil {
		days, err := h.Validator.TrailingDays(raw)
		if err != nil {
			return nil, err
		}
		rt, err := h.Aggregator.Trailing(ctx, days, intake.CoerceBool(args["include_empty"]))
		if err != nil {
			return nil, err
		}
		return toRangeTotalsResponse(rt), nil
	}

	rq, err := h.Validator.RangeQuery(intake.CoerceString(args["start"]), intake.CoerceString(args["end"]), args["include_empty"])
	if err != nil {
		return nil, err
	}
	switch group := intake.CoerceString(args["group"]); group {
	case "":
		rt, err := h.Aggregator.Totals(ctx, rq)
		if err != nil {
			return nil, err
		}
		return toRangeTotalsResponse(rt), nil
	case "meal_type":
		gt, err := h.Aggregator.TotalsByMealType(ctx, rq)
		if err != nil {
			return nil, err
		}
		return toGroupedTotalsResponse(gt), nil
	default:
		return nil, &intake.ValidationError{Field: "group", Reason: fmt.Sprintf("must be meal_type, got %q", group)}
	}
}

func (h *Handler) toolListEntries(ctx context.Context, args map[string]any) (any, error) {
	f, err := h.entryFilter(args["date"], args["start"], args["end"], args["limit"], args["offset"])
	if err != nil {
		return nil, err
	}
	entries, err := h.Aggregator.ListEntries(ctx, f)
	if err != nil {
		return nil, err
	}
	return EntryListResponse{Entries: toEntryDTOs(entries), Limit: f.Limit, Offset: f.Offset}, nil
}
