// Package enrichers fetches benefit decisions from the upstream provider.
//
// # Current decisions
//
// BenefitsClient.CurrentDecision asks one decision endpoint per kind:
//
//	GET <base>/decision/current/parental-benefit?subjectId=<id>
//	GET <base>/decision/current/pregnancy-benefit?subjectId=<id>
//
// The response is a JSON array and its first element is the current decision.
// An empty array means the subject has no decision of that kind, which is
// returned as a nil *models.Decision.
//
// # History feed
//
// BenefitsClient.DecisionFeed walks the paginated history:
//
//	GET <base>/decision/feed?subjectId=<id>&offset=<n>&pageSize=100
//	{"hasMore": true, "elements": [...]}
//
// The offset advances by the page size until a page reports hasMore=false.
// MaxFeedPages bounds the walk.
//
// # Errors
//
// Every call carries a bearer token from the TokenSource, fetched per call.
// Token failures are returned unchanged. Non-2xx responses become upstream
// AppErrors carrying status and body, undecodable payloads become parse
// AppErrors naming the offending field, and calls that never got a response
// (timeouts, refused connections, an open circuit breaker) are upstream
// AppErrors wrapping the cause.
package enrichers
