// Package pagination turns the offset-paged OMDb search into a sequential,
// demand-gated page stream.
//
// One Engine serves one search term. It fetches page 1 as soon as it starts,
// hands every successful page to a Sink, and then waits for a demand pulse
// before fetching the next page:
//
//	Idle -> Fetching(1) -> WaitingForDemand(1) -> Fetching(2) -> ...
//
// The chain ends in one of three terminal states:
//   - Exhausted: page*10 > totalResults of the latest page
//   - Failed: explicit API failure, transport fault or an oversized page
//   - Cancelled: Cancel was called, from any non-terminal state
//
// Every Engine carries the generation number it was started with and passes
// it to Sink.Append. A sink that has moved on to a newer generation rejects
// the page, so a fetch that was already in flight when the engine was
// cancelled never mutates a retired buffer.
//
// Example usage:
//
//	engine := pagination.Start(client, sink, "alien", 1, pagination.DefaultConfig())
//	defer engine.Cancel()
//	engine.NotifyDemand() // ask for the next page once the first one landed
//
// With PolicyEager the engine does not wait for demand and drains every page
// with a fixed delay between requests.
package pagination
