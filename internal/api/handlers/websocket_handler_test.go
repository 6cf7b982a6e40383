package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitch-perfect/backend/internal/pitch"
	"github.com/pitch-perfect/backend/pkg/apperrors"
)

type recorder struct {
	messages []map[string]interface{}
	failAt   int
}

func (r *recorder) send(msg interface{}) error {
	if r.failAt > 0 && len(r.messages)+1 == r.failAt {
		return errors.New("connection reset")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	r.messages = append(r.messages, m)
	return nil
}

func (r *recorder) types() []string {
	out := make([]string, len(r.messages))
	for i, m := range r.messages {
		out[i], _ = m["type"].(string)
	}
	return out
}

type stubLimiter struct {
	allow bool
	keys  []string
}

func (l *stubLimiter) Allow(key string) bool {
	l.keys = append(l.keys, key)
	return l.allow
}

func TestProcessStreamsStatusThenComplete(t *testing.T) {
	svc := &stubPitches{events: []pitch.Event{
		{Stage: pitch.StageCreated, PitchID: "p1"},
		{Stage: pitch.StageCriterionDone, PitchID: "p1", Criterion: "Business Potential", Score: 8, Completed: 1, Total: 3},
	}}
	h := NewWebSocketHandler(svc, WebSocketConfig{})
	rec := &recorder{}

	err := h.process(context.Background(), identity{}, evaluateMessage{Type: "evaluate", Title: "Drones", Text: "pitch", OrgID: "org-1"}, rec.send)
	require.NoError(t, err)

	assert.Equal(t, []string{"status", "status", "complete"}, rec.types())
	assert.Equal(t, "criterion_done", rec.messages[1]["stage"])
	assert.Equal(t, "Business Potential", rec.messages[1]["criterion"])
	assert.Equal(t, float64(8), rec.messages[1]["score"])
	assert.Equal(t, "org-1", svc.submitted.OrgID)

	p, ok := rec.messages[2]["pitch"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "p1", p["id"])
}

func TestProcessReportsPipelineError(t *testing.T) {
	svc := &stubPitches{submitErr: apperrors.NewEvaluationTimeoutError(time.Minute)}
	rec := &recorder{}

	err := NewWebSocketHandler(svc, WebSocketConfig{}).process(context.Background(), identity{}, evaluateMessage{Type: "evaluate", Text: "x", OrgID: "org-1"}, rec.send)
	require.NoError(t, err)

	require.Equal(t, []string{"error"}, rec.types())
	body := rec.messages[0]["error"].(map[string]interface{})
	assert.Equal(t, "EVALUATION_TIMEOUT", body["code"])
	assert.Equal(t, true, body["retryable"])
}

func TestProcessRejectsBadMessages(t *testing.T) {
	tests := []struct {
		name    string
		caller  identity
		msg     evaluateMessage
		allowed bool
		code    string
	}{
		{"unknown type", identity{}, evaluateMessage{Type: "query", OrgID: "org-1"}, true, "INVALID_INPUT"},
		{"no organization", identity{}, evaluateMessage{Type: "evaluate", Text: "x"}, true, "INVALID_INPUT"},
		{"other organization than header", identity{orgID: "org-a"}, evaluateMessage{Type: "evaluate", Text: "x", OrgID: "org-b"}, true, "INVALID_INPUT"},
		{"text too long", identity{orgID: "org-1"}, evaluateMessage{Type: "evaluate", Text: strings.Repeat("x", 11)}, true, "INVALID_INPUT"},
		{"nul byte", identity{orgID: "org-1"}, evaluateMessage{Type: "evaluate", Text: "a\x00b"}, true, "INVALID_INPUT"},
		{"rate limited", identity{orgID: "org-1"}, evaluateMessage{Type: "evaluate", Text: "x"}, false, "RATE_LIMITED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubPitches{}
			rec := &recorder{}
			h := NewWebSocketHandler(svc, WebSocketConfig{
				Limiter:       &stubLimiter{allow: tt.allowed},
				MaxTextLength: 10,
			})

			require.NoError(t, h.process(context.Background(), tt.caller, tt.msg, rec.send))
			require.Equal(t, []string{"error"}, rec.types())
			body := rec.messages[0]["error"].(map[string]interface{})
			assert.Equal(t, tt.code, body["code"])
			assert.Empty(t, svc.submitted.OrgID)
		})
	}
}

func TestProcessUsesHeaderIdentity(t *testing.T) {
	tests := []struct {
		name     string
		caller   identity
		msg      evaluateMessage
		wantOrg  string
		wantUser string
	}{
		{"header only", identity{orgID: "org-a", userID: "u-1"}, evaluateMessage{Type: "evaluate", Text: "x"}, "org-a", "u-1"},
		{"message repeats header", identity{orgID: "org-a"}, evaluateMessage{Type: "evaluate", Text: "x", OrgID: "org-a", UserID: "u-2"}, "org-a", "u-2"},
		{"header user wins", identity{orgID: "org-a", userID: "u-1"}, evaluateMessage{Type: "evaluate", Text: "x", UserID: "u-9"}, "org-a", "u-1"},
		{"no header", identity{}, evaluateMessage{Type: "evaluate", Text: "x", OrgID: "org-b"}, "org-b", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubPitches{}
			limiter := &stubLimiter{allow: true}
			rec := &recorder{}

			h := NewWebSocketHandler(svc, WebSocketConfig{Limiter: limiter})
			require.NoError(t, h.process(context.Background(), tt.caller, tt.msg, rec.send))

			assert.Equal(t, tt.wantOrg, svc.submitted.OrgID)
			assert.Equal(t, tt.wantUser, svc.submitted.UserID)
			assert.Equal(t, []string{tt.wantOrg}, limiter.keys)
		})
	}
}

func TestProcessChargesLimiterPerMessage(t *testing.T) {
	svc := &stubPitches{}
	limiter := &stubLimiter{allow: true}
	h := NewWebSocketHandler(svc, WebSocketConfig{Limiter: limiter})
	caller := identity{orgID: "org-1"}

	for i := 0; i < 3; i++ {
		rec := &recorder{}
		require.NoError(t, h.process(context.Background(), caller, evaluateMessage{Type: "evaluate", Text: "x"}, rec.send))
		assert.Equal(t, []string{"complete"}, rec.types())
	}
	assert.Len(t, limiter.keys, 3)
}

func TestProcessStopsOnWriteFailure(t *testing.T) {
	svc := &stubPitches{events: []pitch.Event{{Stage: pitch.StageCreated}, {Stage: pitch.StageTranscribing}}}
	rec := &recorder{failAt: 1}

	err := NewWebSocketHandler(svc, WebSocketConfig{}).process(context.Background(), identity{}, evaluateMessage{Type: "evaluate", Text: "x", OrgID: "org-1"}, rec.send)
	assert.Error(t, err)
	assert.Empty(t, rec.messages)
}
