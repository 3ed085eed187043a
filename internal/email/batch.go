package email

import "sort"

// uidRange is one inclusive UID SEARCH range. A To of 0 stands for "*", the
// highest UID in the mailbox.
type uidRange struct {
	From, To uint32
}

// fetchPlan is the set of UID searches one fetch pass issues for a folder,
// derived purely from its watermark state.
type fetchPlan struct {
	cold       bool      // scan everything, keep the newest limit UIDs
	arrivals   *uidRange // new-arrival search, nil when none is needed
	historical *uidRange // backfill search, nil when none is needed
}

// planSearches maps watermark state to the searches to run. Cold start (no
// watermarks) scans the full mailbox and tail-selects. A warm high mark
// searches high+1:*. A low mark of 1 or below means no earlier UIDs can
// exist, so no historical search is issued at all; the boundary never
// reaches the server.
func planSearches(high, low *int64) fetchPlan {
	if high == nil && low == nil {
		return fetchPlan{cold: true, arrivals: &uidRange{From: 1}}
	}
	var plan fetchPlan
	if high != nil {
		plan.arrivals = &uidRange{From: uint32(*high + 1)}
	}
	if low != nil && *low > 1 {
		plan.historical = &uidRange{From: 1, To: uint32(*low - 1)}
	}
	return plan
}

// above keeps only UIDs strictly greater than floor. Servers answer
// "UID n:*" with the maximum-UID message even when n exceeds every UID in
// the mailbox, so a warm search with no new mail echoes the already
// processed high mark.
func above(uids []int64, floor int64) []int64 {
	var kept []int64
	for _, uid := range uids {
		if uid > floor {
			kept = append(kept, uid)
		}
	}
	return kept
}

// BuildBatch merges the two watermark search results into the UID list a
// fetch should download, in processing order.
//
// New arrivals (UID > high) come first, ascending. Historical UIDs
// (UID < low) follow, also ascending so the low mark moves outward steadily.
// The combined list is truncated to limit from the tail: historical UIDs are
// dropped before any new arrival is.
func BuildBatch(newUIDs, historical []int64, limit int) []int64 {
	arrivals := append([]int64(nil), newUIDs...)
	sort.Slice(arrivals, func(i, j int) bool { return arrivals[i] < arrivals[j] })

	older := append([]int64(nil), historical...)
	sort.Slice(older, func(i, j int) bool { return older[i] < older[j] })

	combined := append(arrivals, older...)
	if limit > 0 && len(combined) > limit {
		combined = combined[:limit]
	}
	return combined
}

// TailUIDs returns the newest limit UIDs from a full ascending-sorted listing,
// used on the cold-start path. The result stays ascending.
func TailUIDs(all []int64, limit int) []int64 {
	uids := append([]int64(nil), all...)
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}
	return uids
}
