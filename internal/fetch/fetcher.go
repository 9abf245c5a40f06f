package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emailpilot/accountfetch/internal/mcp"
)

const (
	toolSegments     = "klaviyo_get_segments"
	toolCampaigns    = "klaviyo_get_campaigns"
	toolFlows        = "klaviyo_get_flows"
	toolMetrics      = "klaviyo_get_metrics"
	toolLists        = "klaviyo_get_lists"
	toolCatalogItems = "klaviyo_get_catalog_items"

	modelParam = "claude"
	platform   = "klaviyo"

	// catalogItemCap bounds the catalog sequence so the aggregate payload
	// stays under the downstream size limit. Items past the cap are dropped
	// silently, not an error.
	catalogItemCap = 100
)

// ToolCaller is the serialized call primitive of one server process.
type ToolCaller interface {
	Name() string
	Call(ctx context.Context, tool string, arguments map[string]any) (json.RawMessage, error)
}

// Resolver maps an account name to its server process.
type Resolver interface {
	Resolve(account string) (ToolCaller, error)
}

// Fetcher issues the per-account tool calls and assembles the snapshot.
type Fetcher struct {
	resolver Resolver
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Fetcher on top of any Resolver.
func New(resolver Resolver, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{resolver: resolver, log: log, now: time.Now}
}

// NewFromClient adapts an mcp.Client into a Fetcher.
func NewFromClient(client *mcp.Client, log *slog.Logger) *Fetcher {
	return New(clientResolver{client: client}, log)
}

type clientResolver struct {
	client *mcp.Client
}

func (r clientResolver) Resolve(account string) (ToolCaller, error) {
	proc, err := r.client.Resolve(account)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// FetchAll fetches every dataset for one account and returns the validated
// aggregate. Segments and campaigns are critical: if either call fails the
// whole fetch fails, naming every critical failure. Flows, metrics, lists
// and catalog degrade to empty sequences with a warning. A structurally
// successful fetch that is semantically empty fails validation; no partial
// result is ever returned.
func (f *Fetcher) FetchAll(ctx context.Context, account, startDate, endDate string) (*Result, error) {
	rangeStart, rangeEnd, hasRange, err := parseRequest(account, startDate, endDate)
	if err != nil {
		return nil, err
	}

	server, err := f.resolver.Resolve(account)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch data for account %q: %w", account, err)
	}

	f.log.Info("fetching account data",
		"account", account, "server", server.Name(),
		"start_date", startDate, "end_date", endDate)

	// The five calls share one process, so its mutex serializes them; the
	// fan-out still lets multiple accounts proceed fully in parallel.
	var (
		segments, campaigns, flows, metrics, lists []map[string]any
		segErr, campErr, flowErr, metricErr, listErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		segments, segErr = f.fetchList(ctx, server, toolSegments, segmentArgs())
		return nil
	})
	g.Go(func() error {
		campaigns, campErr = f.fetchList(ctx, server, toolCampaigns, campaignArgs())
		return nil
	})
	g.Go(func() error {
		flows, flowErr = f.fetchList(ctx, server, toolFlows, flowArgs())
		return nil
	})
	g.Go(func() error {
		metrics, metricErr = f.fetchList(ctx, server, toolMetrics, metricArgs())
		return nil
	})
	g.Go(func() error {
		lists, listErr = f.fetchList(ctx, server, toolLists, listArgs())
		return nil
	})
	_ = g.Wait()

	var critical []error
	if segErr != nil {
		critical = append(critical, fmt.Errorf("segments fetch failed: %w", segErr))
	}
	if campErr != nil {
		critical = append(critical, fmt.Errorf("campaigns fetch failed: %w", campErr))
	}
	if len(critical) > 0 {
		return nil, fmt.Errorf("critical data fetch failed for %s: %w", account, errors.Join(critical...))
	}

	if flowErr != nil {
		f.log.Warn("flows fetch failed (non-critical)", "account", account, "error", flowErr)
		flows = nil
	}
	if metricErr != nil {
		f.log.Warn("metrics fetch failed (non-critical)", "account", account, "error", metricErr)
		metrics = nil
	}
	if listErr != nil {
		f.log.Warn("lists fetch failed (non-critical)", "account", account, "error", listErr)
		lists = nil
	}

	catalogItems := f.fetchCatalogItems(ctx, server)

	// The server-side date filter is coarser than the requested window, so
	// campaigns are re-filtered on the exact boundary before validation.
	if hasRange {
		campaigns = filterCampaignsByRange(campaigns, rangeStart, rangeEnd)
	}

	result := &Result{
		Segments:     emptyIfNil(segments),
		Campaigns:    emptyIfNil(campaigns),
		Flows:        emptyIfNil(flows),
		Metrics:      emptyIfNil(metrics),
		Lists:        emptyIfNil(lists),
		CatalogItems: emptyIfNil(catalogItems),
	}
	result.Meta = Metadata{
		Account:   account,
		StartDate: startDate,
		EndDate:   endDate,
		FetchedAt: f.now().UTC(),
		Platform:  platform,
		Counts: map[string]int{
			"segments":      len(result.Segments),
			"campaigns":     len(result.Campaigns),
			"flows":         len(result.Flows),
			"metrics":       len(result.Metrics),
			"lists":         len(result.Lists),
			"catalog_items": len(result.CatalogItems),
		},
	}

	warnings, err := Validate(result, account, startDate, endDate)
	for _, warning := range warnings {
		f.log.Warn("validation warning", "account", account, "warning", warning)
	}
	if err != nil {
		return nil, err
	}

	f.log.Info("account data fetch complete",
		"account", account,
		"segments", len(result.Segments),
		"campaigns", len(result.Campaigns),
		"flows", len(result.Flows),
		"catalog_items", len(result.CatalogItems))
	return result, nil
}

// fetchList calls one tool and decodes its data sequence.
func (f *Fetcher) fetchList(ctx context.Context, server ToolCaller, tool string, args map[string]any) ([]map[string]any, error) {
	raw, err := server.Call(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	items, _, err := decodePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("tool %s returned an undecodable payload: %w", tool, err)
	}
	return items, nil
}

// fetchCatalogItems follows the continuation cursor until the server stops
// returning one or the item cap is reached. Catalog data is non-critical:
// any failure degrades to an empty sequence with a warning.
func (f *Fetcher) fetchCatalogItems(ctx context.Context, server ToolCaller) []map[string]any {
	var items []map[string]any
	cursor := ""

	for len(items) < catalogItemCap {
		args := catalogArgs()
		if cursor != "" {
			args["page_cursor"] = cursor
		}

		raw, err := server.Call(ctx, toolCatalogItems, args)
		if err != nil {
			f.log.Warn("catalog fetch failed (non-critical)", "server", server.Name(), "error", err)
			return nil
		}
		page, next, err := decodePayload(raw)
		if err != nil {
			f.log.Warn("catalog payload undecodable (non-critical)", "server", server.Name(), "error", err)
			return nil
		}
		if len(page) == 0 {
			break
		}

		items = append(items, page...)
		if next == "" {
			break
		}
		cursor = next
	}

	if len(items) > catalogItemCap {
		items = items[:catalogItemCap]
	}
	return items
}

// decodePayload unwraps the text content of a tools/call result into the
// item sequence and the optional continuation cursor.
func decodePayload(raw json.RawMessage) ([]map[string]any, string, error) {
	text, err := mcp.TextContent(raw)
	if err != nil {
		return nil, "", err
	}
	if text == "" {
		return nil, "", nil
	}

	var payload struct {
		Data  []map[string]any `json:"data"`
		Links struct {
			Next string `json:"next"`
		} `json:"links"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, "", err
	}
	return payload.Data, payload.Links.Next, nil
}

func segmentArgs() map[string]any {
	return map[string]any{
		"model":  modelParam,
		"fields": []string{"name", "definition", "created", "updated", "is_active"},
	}
}

func campaignArgs() map[string]any {
	return map[string]any{
		"model":   modelParam,
		"channel": "email",
		"fields":  []string{"name", "status", "created_at", "send_time", "audiences"},
	}
}

func flowArgs() map[string]any {
	return map[string]any{
		"model":  modelParam,
		"fields": []string{"name", "status", "created", "updated", "trigger_type"},
	}
}

func metricArgs() map[string]any {
	return map[string]any{
		"model":  modelParam,
		"fields": []string{"name", "created", "updated"},
	}
}

func listArgs() map[string]any {
	return map[string]any{
		"model":  modelParam,
		"fields": []string{"name", "created", "updated"},
	}
}

func catalogArgs() map[string]any {
	return map[string]any{
		"model": modelParam,
		"catalog_item_fields": []string{
			"title", "description", "price", "external_id",
			"url", "image_full_url", "custom_metadata", "published",
		},
	}
}

func emptyIfNil(items []map[string]any) []map[string]any {
	if items == nil {
		return []map[string]any{}
	}
	return items
}
