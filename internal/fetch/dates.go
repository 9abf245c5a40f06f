package fetch

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	dateLayout = "2006-01-02"

	// maxRangeDays caps the requested window; larger windows blow up the
	// campaign report payloads downstream.
	maxRangeDays = 90
)

var validate = validator.New()

type fetchRequest struct {
	Account   string `validate:"required,max=100"`
	StartDate string `validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `validate:"omitempty,datetime=2006-01-02"`
}

// parseRequest validates the fetch inputs. Dates are optional but must come
// as a pair; the window must be positive and at most maxRangeDays.
func parseRequest(account, startDate, endDate string) (start, end time.Time, hasRange bool, err error) {
	req := fetchRequest{Account: account, StartDate: startDate, EndDate: endDate}
	if err := validate.Struct(&req); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("invalid fetch request: %w", err)
	}

	if startDate == "" && endDate == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	if startDate == "" || endDate == "" {
		return time.Time{}, time.Time{}, false,
			fmt.Errorf("invalid fetch request: start and end dates must be provided together")
	}

	start, _ = time.Parse(dateLayout, startDate)
	end, _ = time.Parse(dateLayout, endDate)
	if !end.After(start) {
		return time.Time{}, time.Time{}, false,
			fmt.Errorf("invalid fetch request: end date %s must be after start date %s", endDate, startDate)
	}
	if days := int(end.Sub(start).Hours() / 24); days > maxRangeDays {
		return time.Time{}, time.Time{}, false,
			fmt.Errorf("invalid fetch request: date range of %d days exceeds maximum of %d", days, maxRangeDays)
	}
	return start, end, true, nil
}

// filterCampaignsByRange keeps campaigns whose send time (or creation time)
// falls within [start, end], both boundaries inclusive for the whole end
// day. Campaigns without a parseable timestamp are kept: the server already
// coarse-filtered, and dropping them would silently shrink critical data.
func filterCampaignsByRange(campaigns []map[string]any, start, end time.Time) []map[string]any {
	cutoff := end.AddDate(0, 0, 1)

	filtered := make([]map[string]any, 0, len(campaigns))
	for _, campaign := range campaigns {
		ts, ok := campaignTime(campaign)
		if !ok {
			filtered = append(filtered, campaign)
			continue
		}
		if !ts.Before(start) && ts.Before(cutoff) {
			filtered = append(filtered, campaign)
		}
	}
	return filtered
}

// campaignTime extracts the campaign timestamp, preferring send_time over
// created_at, checking both the attributes envelope and the top level.
func campaignTime(campaign map[string]any) (time.Time, bool) {
	sources := []map[string]any{campaign}
	if attrs, ok := campaign["attributes"].(map[string]any); ok {
		sources = append([]map[string]any{attrs}, sources...)
	}

	for _, key := range []string{"send_time", "created_at"} {
		for _, source := range sources {
			value, ok := source[key].(string)
			if !ok || value == "" {
				continue
			}
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				return ts, true
			}
			if ts, err := time.Parse(dateLayout, value); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}
