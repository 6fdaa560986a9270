// Package router dispatches inbound MQTT messages to their handlers.
//
// Routes are declarative: each rule names a topic pattern, a handler, and
// an optional rate limit. Dispatch is deterministic; rules are tried in
// insertion order and the first match wins, with optional duplication to
// additional subscribers. Topic validation and the payload size cap run
// before any handler sees the message.
package router

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"golang.org/x/time/rate"

	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/logger"
)

// MaxPayloadSize is the inclusive cap on inbound payload bytes.
const MaxPayloadSize = 4096

// allowedPrefixes is the topic allow-list. Anything else is rejected
// before pattern matching.
var allowedPrefixes = []string{"consultease/", "professor/"}

// HandlerFunc consumes one validated inbound message.
type HandlerFunc func(ctx context.Context, topic string, payload []byte) error

// Rule declares one route.
type Rule struct {
	// Name labels the rule in logs and metrics.
	Name string
	// Pattern is an MQTT-style topic filter; + matches one level.
	Pattern string
	// Handler receives matching messages.
	Handler HandlerFunc
	// Subscribers receive a duplicate of every matching message after the
	// handler, regardless of the handler's result.
	Subscribers []HandlerFunc
	// JSON requires the payload to be well-formed JSON.
	JSON bool
	// Limit is the sustained messages-per-second budget. Zero disables
	// rate limiting for this rule.
	Limit rate.Limit
	// Burst is the token bucket depth when Limit is set.
	Burst int
}

// route is a compiled rule with its token bucket.
type route struct {
	Rule
	limiter *rate.Limiter
}

// Router validates and dispatches inbound messages. Add all rules before
// the first Route call; the rule table is not guarded for concurrent
// mutation.
type Router struct {
	routes  []*route
	metrics *Metrics
}

// New creates an empty router.
func New(metrics *Metrics) *Router {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Router{metrics: metrics}
}

// Add appends a rule to the dispatch table.
func (r *Router) Add(rule Rule) {
	compiled := &route{Rule: rule}
	if rule.Limit > 0 {
		burst := rule.Burst
		if burst <= 0 {
			burst = 1
		}
		compiled.limiter = rate.NewLimiter(rule.Limit, burst)
	}
	r.routes = append(r.routes, compiled)
}

// Route validates the message and dispatches it to the first matching
// rule. Unmatched or invalid messages are dropped with a warning; handler
// errors are logged at warn level with the offending topic and never
// retried here.
func (r *Router) Route(ctx context.Context, topic string, payload []byte) {
	if err := ValidateTopic(topic); err != nil {
		r.metrics.Rejected.Inc()
		logger.Warnw("rejected inbound topic", "topic", topic, "error", err)
		return
	}
	if len(payload) > MaxPayloadSize {
		r.metrics.Rejected.Inc()
		logger.Warnw("rejected oversize payload", "topic", topic, "bytes", len(payload))
		return
	}

	for _, rt := range r.routes {
		if !MatchTopic(rt.Pattern, topic) {
			continue
		}
		if rt.limiter != nil && !rt.limiter.Allow() {
			r.metrics.RateLimited.Inc()
			logger.Debugw("rate limited inbound message", "rule", rt.Name, "topic", topic)
			return
		}
		if rt.JSON && !json.Valid(payload) {
			r.metrics.Rejected.Inc()
			logger.Warnw("rejected malformed JSON payload", "rule", rt.Name, "topic", topic)
			return
		}

		r.metrics.Dispatched.Inc()
		if err := rt.Handler(ctx, topic, payload); err != nil {
			logger.Warnw("handler failed", "rule", rt.Name, "topic", topic, "error", err)
		}
		for _, sub := range rt.Subscribers {
			if err := sub(ctx, topic, payload); err != nil {
				logger.Warnw("subscriber failed", "rule", rt.Name, "topic", topic, "error", err)
			}
		}
		return
	}

	r.metrics.Unmatched.Inc()
	logger.Debugw("no route matched", "topic", topic)
}

// ValidateTopic checks an inbound topic against the allow-list and the
// injection patterns the fleet must never produce.
func ValidateTopic(topic string) error {
	if topic == "" {
		return cerrors.NewValidationError("topic is empty", nil)
	}
	allowed := false
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(topic, prefix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return cerrors.NewValidationError("topic outside the allowed prefixes: "+topic, nil)
	}
	if strings.Contains(topic, "..") {
		return cerrors.NewValidationError("topic contains a path traversal sequence: "+topic, nil)
	}
	if strings.ContainsAny(topic, "#+") {
		return cerrors.NewValidationError("topic contains wildcard characters: "+topic, nil)
	}
	for _, c := range topic {
		if c > unicode.MaxASCII || unicode.IsControl(c) {
			return cerrors.NewValidationError("topic contains non-printable characters", nil)
		}
	}
	return nil
}

// MatchTopic reports whether topic matches an MQTT-style pattern where +
// matches exactly one level. Patterns here never use the # wildcard.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")
	if len(patternParts) != len(topicParts) {
		return false
	}
	for i, part := range patternParts {
		if part == "+" {
			if topicParts[i] == "" {
				return false
			}
			continue
		}
		if part != topicParts[i] {
			return false
		}
	}
	return true
}
