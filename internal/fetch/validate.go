package fetch

import (
	apperrors "github.com/emailpilot/accountfetch/pkg/errors"
)

// Validate checks that the aggregate result holds real data, not just
// well-formed empty structures. Every rule is evaluated before raising so
// the error lists all violations at once. Warnings are returned for the
// caller to log; they never fail the fetch on their own.
func Validate(result *Result, account, startDate, endDate string) ([]string, error) {
	var violations, warnings []string

	if len(result.Segments) == 0 {
		violations = append(violations,
			"no segments retrieved - cannot generate audience-targeted campaigns")
	}
	if len(result.Campaigns) == 0 && len(result.Flows) == 0 {
		violations = append(violations,
			"no historical campaigns or flows found - cannot base recommendations on past activity")
	}
	if len(result.Flows) == 0 {
		warnings = append(warnings,
			"no flows found - this may be expected for newer accounts")
	}

	if len(violations) > 0 {
		return warnings, &apperrors.ValidationError{
			Account:    account,
			StartDate:  startDate,
			EndDate:    endDate,
			Violations: violations,
			Warnings:   warnings,
		}
	}
	return warnings, nil
}
