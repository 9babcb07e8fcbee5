// Package pagination walks cursor-paginated Web API list methods and merges
// every page into one logical response.
//
// A list method answers with a page of items and, when more exist, a
// continuation token in response_metadata.next_cursor. The Aggregator
// requests pages strictly one after another, because each cursor is only
// known once the previous page arrived:
//
//	agg := pagination.NewAggregator(fetcher, pagination.DefaultConfig(), logger)
//	all, err := agg.FetchAll(ctx, "conversations.list", params)
//
// The aggregation:
//   - Only runs when the caller passed neither "cursor" nor "limit" (see Eligible)
//   - Requests the first page with limit=PageSize
//   - Appends every top-level array field of each page to an accumulator
//   - Overwrites all other fields with the latest page's values
//   - Stops when next_cursor is absent or empty
//   - Discards partial results when any page fails
package pagination
