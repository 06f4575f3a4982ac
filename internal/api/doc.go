// Package api provides the REST client for a vendor's instrument listing.
//
// The listing is paginated JSON:
//
//	GET {base}/instruments?venue=binance&limit=1000&cursor=...
//	{"instruments": [{"symbol": "BTCUSDT", "type": "spot", "tick_size": "0.01", ...}], "cursor": "..."}
//
// Requests are rate limited and retried with jittered exponential backoff
// (go-retry) on 429, 5xx and transport failures.
package api
