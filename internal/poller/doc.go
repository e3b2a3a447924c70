// Package poller implements the Snapshot Poller component.
//
// The Snapshot Poller:
//   - Calls public/get_order_book for every configured instrument on an interval
//   - Provides a reference book for checking change_id gaps in the stream
//   - Bounds concurrent requests with an errgroup limit
package poller
