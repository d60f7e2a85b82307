package app

import (
	"context"
	"errors"
	"fmt"

	"lifecal/internal/calendar"
	"lifecal/internal/config"
	"lifecal/internal/ics"
	appLog "lifecal/internal/log"
)

// SubscriptionResult reports one feed's refresh.
type SubscriptionResult struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	FromCache bool   `json:"from_cache"`
	calendar.ReplaceResult
	Err error `json:"-"`
}

// RefreshSubscriptions downloads every configured feed and replaces the
// imported events of its target source. A failing feed leaves its source
// untouched and does not stop the others.
func (a *App) RefreshSubscriptions(ctx context.Context) ([]SubscriptionResult, error) {
	subs := a.Subscriptions()
	results := make([]SubscriptionResult, 0, len(subs))
	var errs []error
	for _, sub := range subs {
		res := a.refreshOne(ctx, sub)
		if res.Err != nil {
			appLog.Error("subscription refresh failed", res.Err, "id", sub.ID, "source", sub.Source)
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, res.Err))
		} else {
			appLog.Info("subscription refreshed",
				"id", sub.ID,
				"source", sub.Source,
				"cached", res.FromCache,
				"created", res.Created,
				"updated", res.Updated,
				"deleted", res.Deleted,
				"unchanged", res.Unchanged,
			)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (a *App) refreshOne(ctx context.Context, sub config.SubscriptionConfig) SubscriptionResult {
	res := SubscriptionResult{ID: sub.ID, Source: sub.Source}
	src, err := a.registry.SourceByName(ctx, sub.Source)
	if err != nil {
		res.Err = err
		return res
	}

	payload, err := a.fetcher.Fetch(ctx, ics.Feed{ID: sub.ID, URL: sub.URL})
	if err != nil {
		res.Err = err
		return res
	}
	res.FromCache = payload.FromCache

	items, err := ics.Parse(sub.ID, payload.Body, a.loc)
	if err != nil {
		res.Err = err
		return res
	}
	replaced, err := a.calendar.ReplaceExternal(ctx, src.ID, ics.ToEvents(items))
	res.ReplaceResult = replaced
	res.Err = err
	return res
}
