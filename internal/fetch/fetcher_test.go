package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/emailpilot/accountfetch/pkg/errors"
)

type toolHandler func(args map[string]any) (json.RawMessage, error)

// mockServer answers tool calls from a handler map; tools without a handler
// return an empty data sequence.
type mockServer struct {
	name     string
	handlers map[string]toolHandler

	mu    sync.Mutex
	calls []string
}

func (m *mockServer) Name() string { return m.name }

func (m *mockServer) Call(_ context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, tool)
	m.mu.Unlock()

	if handler, ok := m.handlers[tool]; ok {
		return handler(args)
	}
	return toolPayload(nil, ""), nil
}

func (m *mockServer) callCount(tool string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, called := range m.calls {
		if called == tool {
			count++
		}
	}
	return count
}

type mockResolver struct {
	server ToolCaller
	err    error
}

func (r mockResolver) Resolve(string) (ToolCaller, error) {
	return r.server, r.err
}

// toolPayload wraps an item sequence into the wire shape of a tools/call
// result: stringified JSON inside a text content block.
func toolPayload(items []map[string]any, next string) json.RawMessage {
	if items == nil {
		items = []map[string]any{}
	}
	payload := map[string]any{"data": items}
	if next != "" {
		payload["links"] = map[string]any{"next": next}
	}
	text, _ := json.Marshal(payload)

	result, _ := json.Marshal(map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(text)}},
	})
	return result
}

func staticHandler(items []map[string]any) toolHandler {
	return func(map[string]any) (json.RawMessage, error) {
		return toolPayload(items, ""), nil
	}
}

func failingHandler(msg string) toolHandler {
	return func(map[string]any) (json.RawMessage, error) {
		return nil, &apperrors.ToolCallError{Server: "Acme Co Klaviyo", Tool: "tool", Message: msg}
	}
}

func namedItems(prefix string, n int) []map[string]any {
	items := make([]map[string]any, n)
	for i := range items {
		items[i] = map[string]any{"id": fmt.Sprintf("%s-%d", prefix, i+1)}
	}
	return items
}

func campaignItem(id, sendTime string) map[string]any {
	item := map[string]any{"id": id}
	if sendTime != "" {
		item["attributes"] = map[string]any{"send_time": sendTime}
	}
	return item
}

func newTestFetcher(server ToolCaller) *Fetcher {
	f := New(mockResolver{server: server}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.now = func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func TestFetchAll_Success(t *testing.T) {
	server := &mockServer{name: "Acme Co Klaviyo", handlers: map[string]toolHandler{
		toolSegments: staticHandler(namedItems("seg", 3)),
		toolCampaigns: staticHandler([]map[string]any{
			campaignItem("in-range-1", "2026-01-15T10:00:00Z"),
			campaignItem("in-range-2", "2026-01-31T23:00:00Z"),
			campaignItem("after", "2026-02-01T00:00:00Z"),
			campaignItem("before", "2025-12-31T23:59:59Z"),
			campaignItem("no-timestamp", ""),
		}),
		toolFlows:        staticHandler(namedItems("flow", 2)),
		toolMetrics:      staticHandler(namedItems("metric", 4)),
		toolLists:        staticHandler(namedItems("list", 1)),
		toolCatalogItems: staticHandler(namedItems("item", 10)),
	}}

	result, err := newTestFetcher(server).FetchAll(context.Background(), "acme-co", "2026-01-01", "2026-01-31")
	require.NoError(t, err)

	assert.Len(t, result.Segments, 3)
	assert.Len(t, result.Flows, 2)
	assert.Len(t, result.Metrics, 4)
	assert.Len(t, result.Lists, 1)
	assert.Len(t, result.CatalogItems, 10)

	// The end boundary is inclusive for the whole day; campaigns without a
	// parseable timestamp are kept.
	require.Len(t, result.Campaigns, 3)
	ids := []string{}
	for _, c := range result.Campaigns {
		ids = append(ids, c["id"].(string))
	}
	assert.ElementsMatch(t, []string{"in-range-1", "in-range-2", "no-timestamp"}, ids)

	assert.Equal(t, "acme-co", result.Meta.Account)
	assert.Equal(t, "2026-01-01", result.Meta.StartDate)
	assert.Equal(t, "2026-01-31", result.Meta.EndDate)
	assert.Equal(t, "klaviyo", result.Meta.Platform)
	assert.Equal(t, time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC), result.Meta.FetchedAt)
	assert.Equal(t, 3, result.Meta.Counts["segments"])
	assert.Equal(t, 3, result.Meta.Counts["campaigns"])
	assert.Equal(t, 10, result.Meta.Counts["catalog_items"])
}

func TestFetchAll_NoFlowsStillSucceeds(t *testing.T) {
	server := &mockServer{name: "Acme Co Klaviyo", handlers: map[string]toolHandler{
		toolSegments: staticHandler(namedItems("seg", 3)),
		toolCampaigns: staticHandler([]map[string]any{
			campaignItem("c1", "2026-01-05T09:00:00Z"),
			campaignItem("c2", "2026-01-20T09:00:00Z"),
			campaignItem("c3", "2026-03-01T09:00:00Z"),
			campaignItem("c4", "2025-11-01T09:00:00Z"),
			campaignItem("c5", "2025-12-15T09:00:00Z"),
		}),
		toolFlows: staticHandler(nil),
	}}

	result, err := newTestFetcher(server).FetchAll(context.Background(), "acme-co", "2026-01-01", "2026-01-31")
	require.NoError(t, err)

	assert.Len(t, result.Segments, 3)
	assert.Len(t, result.Campaigns, 2)
	assert.Empty(t, result.Flows)
}

func TestFetchAll_NoDateRangeSkipsFilter(t *testing.T) {
	server := &mockServer{name: "Acme Co Klaviyo", handlers: map[string]toolHandler{
		toolSegments: staticHandler(namedItems("seg", 1)),
		toolCampaigns: staticHandler([]map[string]any{
			campaignItem("ancient", "2019-06-01T00:00:00Z"),
		}),
	}}

	result, err := newTestFetcher(server).FetchAll(context.Background(), "acme-co", "", "")
	require.NoError(t, err)
	assert.Len(t, result.Campaigns, 1)
	assert.Empty(t, result.Meta.StartDate)
}

func TestFetchAll_CriticalSegmentsFailure(t *testing.T) {
	server := &mockServer{name: "Acme Co Klaviyo", handlers: map[string]toolHandler{
		toolSegments:  failingHandler("boom"),
		toolCampaigns: staticHandler(namedItems("camp", 2)),
	}}

	_, err := newTestFetcher(server).FetchAll(context.Background(), "acme-co", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "critical data fetch failed")
	assert.Contains(t, err.Error(), "segments fetch failed")
	assert.NotContains(t, err.Error(), "campaigns fetch failed")
}

func TestFetchAll_BothCriticalFailuresAggregated(t *testing.T) {
	server := &mockServer{name: "Acme Co Klaviyo", handlers: map[string]toolHandler{
		toolSegments:  failingHandler("segments down"),
		toolCampaigns: failingHandler("campaigns down"),
	}}

	_, err := newTestFetcher(server).FetchAll(context.Background(), "acme-co", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "segments fetch failed")
	assert.Contains(t, err.Error(), "campaigns fetch failed")
}

func TestFetchAll_NonCriticalFailuresDegrade(t *testing.T) {
	server := &mockServer{name: "Acme Co Klaviyo", handlers: map[string]toolHandler{
		toolSegments:     staticHandler(namedItems("seg", 2)),
		toolCampaigns:    staticHandler(namedItems("camp", 2)),
		toolFlows:        failingHandler("flows down"),
		toolMetrics:      failingHandler("metrics down"),
		toolLists:        failingHandler("lists down"),
		toolCatalogItems: failingHandler("catalog down"),
	}}

	result, err := newTestFetcher(server).FetchAll(context.Background(), "acme-co", "", "")
	require.NoError(t, err)

	assert.Len(t, result.Segments, 2)
	assert.Len(t, result.Campaigns, 2)
	assert.NotNil(t, result.Flows)
	assert.Empty(t, result.Flows)
	assert.NotNil(t, result.Metrics)
	assert.Empty(t, result.Metrics)
	assert.NotNil(t, result.Lists)
	assert.Empty(t, result.Lists)
	assert.NotNil(t, result.CatalogItems)
	assert.Empty(t, result.CatalogItems)
}

func TestFetchAll_EmptySegmentsFailsValidation(t *testing.T) {
	server := &mockServer{name: "Acme Co Klaviyo", handlers: map[string]toolHandler{
		toolSegments:  staticHandler(nil),
		toolCampaigns: staticHandler(namedItems("camp", 2)),
	}}

	_, err := newTestFetcher(server).FetchAll(context.Background(), "acme-co", "", "")
	var validationErr *apperrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "acme-co", validationErr.Account)
	require.Len(t, validationErr.Violations, 1)
	assert.Contains(t, validationErr.Violations[0], "no segments")
}

func TestFetchAll_NoCampaignsOrFlowsFailsValidation(t *testing.T) {
	server := &mockServer{name: "Acme Co Klaviyo", handlers: map[string]toolHandler{
		toolSegments: staticHandler(namedItems("seg", 2)),
	}}

	_, err := newTestFetcher(server).FetchAll(context.Background(), "acme-co", "", "")
	var validationErr *apperrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, validationErr.Violations, 1)
	assert.Contains(t, validationErr.Violations[0], "no historical campaigns or flows")
}

func TestFetchAll_CatalogPaginationCapped(t *testing.T) {
	server := &mockServer{name: "Acme Co Klaviyo", handlers: map[string]toolHandler{
		toolSegments:  staticHandler(namedItems("seg", 1)),
		toolCampaigns: staticHandler(namedItems("camp", 1)),
	}}
	// Endless 30-item pages with continuation cursors.
	page := 0
	server.handlers[toolCatalogItems] = func(args map[string]any) (json.RawMessage, error) {
		page++
		return toolPayload(namedItems(fmt.Sprintf("p%d", page), 30), fmt.Sprintf("cursor-%d", page)), nil
	}

	result, err := newTestFetcher(server).FetchAll(context.Background(), "acme-co", "", "")
	require.NoError(t, err)

	assert.Len(t, result.CatalogItems, 100)
	// 4 pages of 30 reach the cap; the cursor stops being followed after.
	assert.Equal(t, 4, server.callCount(toolCatalogItems))
}

func TestFetchAll_CatalogStopsWithoutCursor(t *testing.T) {
	server := &mockServer{name: "Acme Co Klaviyo", handlers: map[string]toolHandler{
		toolSegments:     staticHandler(namedItems("seg", 1)),
		toolCampaigns:    staticHandler(namedItems("camp", 1)),
		toolCatalogItems: staticHandler(namedItems("item", 25)),
	}}

	result, err := newTestFetcher(server).FetchAll(context.Background(), "acme-co", "", "")
	require.NoError(t, err)
	assert.Len(t, result.CatalogItems, 25)
	assert.Equal(t, 1, server.callCount(toolCatalogItems))
}

func TestFetchAll_ResolveFailure(t *testing.T) {
	f := New(mockResolver{err: fmt.Errorf("account %q: %w", "ghost", apperrors.ErrServerNotFound)}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := f.FetchAll(context.Background(), "ghost", "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServerNotFound)
	assert.Contains(t, err.Error(), "cannot fetch data for account")
}

func TestFetchAll_InvalidRequestFailsBeforeResolve(t *testing.T) {
	resolveCalled := false
	f := New(resolverFunc(func(string) (ToolCaller, error) {
		resolveCalled = true
		return nil, errors.New("should not be called")
	}), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := f.FetchAll(context.Background(), "acme-co", "2026-01-31", "2026-01-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid fetch request")
	assert.False(t, resolveCalled)
}

type resolverFunc func(account string) (ToolCaller, error)

func (f resolverFunc) Resolve(account string) (ToolCaller, error) { return f(account) }
