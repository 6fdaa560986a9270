package router

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func countingHandler(count *int) HandlerFunc {
	return func(context.Context, string, []byte) error {
		*count++
		return nil
	}
}

func TestRouteDispatchesFirstMatch(t *testing.T) {
	t.Parallel()

	r := New(nil)
	first, second := 0, 0
	r.Add(Rule{Name: "status", Pattern: "consultease/faculty/+/status", Handler: countingHandler(&first)})
	r.Add(Rule{Name: "all", Pattern: "consultease/faculty/+/status", Handler: countingHandler(&second)})

	r.Route(t.Context(), "consultease/faculty/1/status", []byte(`{}`))

	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second, "only the first matching rule dispatches")
}

func TestRouteDuplicatesToSubscribers(t *testing.T) {
	t.Parallel()

	r := New(nil)
	handled, observed := 0, 0
	r.Add(Rule{
		Name:        "status",
		Pattern:     "consultease/faculty/+/status",
		Handler:     countingHandler(&handled),
		Subscribers: []HandlerFunc{countingHandler(&observed)},
	})

	r.Route(t.Context(), "consultease/faculty/1/status", []byte(`{}`))

	assert.Equal(t, 1, handled)
	assert.Equal(t, 1, observed)
}

func TestRoutePayloadSizeBoundary(t *testing.T) {
	t.Parallel()

	r := New(nil)
	count := 0
	r.Add(Rule{Name: "status", Pattern: "consultease/faculty/+/status", Handler: countingHandler(&count)})

	exactly := bytes.Repeat([]byte("a"), MaxPayloadSize)
	r.Route(t.Context(), "consultease/faculty/1/status", exactly)
	assert.Equal(t, 1, count, "payload of exactly 4 KiB is accepted")

	over := bytes.Repeat([]byte("a"), MaxPayloadSize+1)
	r.Route(t.Context(), "consultease/faculty/1/status", over)
	assert.Equal(t, 1, count, "payload of 4 KiB+1 is rejected")
}

func TestRouteRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	r := New(nil)
	count := 0
	r.Add(Rule{Name: "status", Pattern: "consultease/faculty/+/status", JSON: true, Handler: countingHandler(&count)})

	r.Route(t.Context(), "consultease/faculty/1/status", []byte(`{"present":`))
	assert.Equal(t, 0, count)

	r.Route(t.Context(), "consultease/faculty/1/status", []byte(`{"present":true}`))
	assert.Equal(t, 1, count)
}

func TestRouteLegacyPlainStringNotJSON(t *testing.T) {
	t.Parallel()

	r := New(nil)
	var got string
	r.Add(Rule{
		Name:    "legacy",
		Pattern: "professor/status",
		Handler: func(_ context.Context, _ string, payload []byte) error {
			got = string(payload)
			return nil
		},
	})

	r.Route(t.Context(), "professor/status", []byte("keychain_connected"))
	assert.Equal(t, "keychain_connected", got)
}

func TestRouteRateLimitDropsExcess(t *testing.T) {
	t.Parallel()

	r := New(nil)
	count := 0
	r.Add(Rule{
		Name:    "status",
		Pattern: "consultease/faculty/+/status",
		Handler: countingHandler(&count),
		Limit:   rate.Limit(1),
		Burst:   2,
	})

	for range 10 {
		r.Route(t.Context(), "consultease/faculty/1/status", []byte(`{}`))
	}

	assert.Equal(t, 2, count, "only the burst allowance passes")
}

func TestValidateTopic(t *testing.T) {
	t.Parallel()

	valid := []string{
		"consultease/faculty/1/status",
		"consultease/system/notifications",
		"professor/status",
		"professor/messages",
	}
	for _, topic := range valid {
		assert.NoError(t, ValidateTopic(topic), topic)
	}

	invalid := []string{
		"",
		"other/faculty/1/status",
		"consultease/../admin",
		"consultease/faculty/+/status",
		"consultease/faculty/#",
		"consultease/faculty/1/\x00status",
	}
	for _, topic := range invalid {
		err := ValidateTopic(topic)
		require.Error(t, err, topic)
	}
}

func TestMatchTopic(t *testing.T) {
	t.Parallel()

	assert.True(t, MatchTopic("consultease/faculty/+/status", "consultease/faculty/42/status"))
	assert.True(t, MatchTopic("professor/status", "professor/status"))
	assert.False(t, MatchTopic("consultease/faculty/+/status", "consultease/faculty/42/responses"))
	assert.False(t, MatchTopic("consultease/faculty/+/status", "consultease/faculty/42/status/extra"))
	assert.False(t, MatchTopic("consultease/faculty/+/status", "consultease/faculty//status"))
}
