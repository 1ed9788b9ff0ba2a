// Package updates implements the centralized update store: one durable
// record per processed email holding the matcher's proposals, with
// user-driven approve/reject/viewed transitions. Approval is the only
// path that mutates tracker row data.
package updates
