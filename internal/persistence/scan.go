package persistence

import (
	"context"
	"sort"

	"modstore/pkg/query"
)

// Lister is the minimum a backend needs to answer IDs by scanning.
type Lister interface {
	ListIDs(ctx context.Context) ([]string, error)
	Get(ctx context.Context, id string) (Raw, bool, error)
}

// ScanMatching answers q by enumerating every stored id and evaluating the
// criteria against each document. Backends without native filtering use it
// as their IDs implementation. Documents that cannot be decoded never match.
func ScanMatching(ctx context.Context, l Lister, q query.Query) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	all, err := l.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, id := range all {
		if !q.AllowsID(id) {
			continue
		}
		if !q.HasCriteria() {
			out = append(out, id)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, ok, err := l.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if match, err := q.MatchJSON(id, raw); err == nil && match {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
