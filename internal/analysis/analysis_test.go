package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewflow/internal/domain"
	"reviewflow/internal/retry"
)

var fastRetry = retry.Policy{InitialInterval: time.Millisecond, MaxElapsed: time.Second}

type stubAnalyzer struct {
	res Result
	err error
}

func (s stubAnalyzer) Analyze(context.Context, string, string) (Result, error) {
	return s.res, s.err
}

func TestValidateDegradesOnFailure(t *testing.T) {
	vr := Validate(context.Background(), stubAnalyzer{err: errors.New("boom")}, nil, "clause", "")
	assert.Equal(t, domain.ValidationRequiresLegalReview, vr.Outcome)
	assert.True(t, vr.Degraded)
	assert.False(t, vr.IsValid)

	vr = Validate(context.Background(), nil, nil, "clause", "")
	assert.Equal(t, domain.ValidationRequiresLegalReview, vr.Outcome)
	assert.True(t, vr.Degraded)
}

func TestValidateOutcomes(t *testing.T) {
	cases := []struct {
		name string
		res  Result
		want string
	}{
		{"valid", Result{IsValid: true, ConfidenceLevel: "high"}, domain.ValidationValid},
		{"invalid", Result{IsValid: false, ConfidenceLevel: "high", Issues: []string{"missing clause"}}, domain.ValidationInvalid},
		{"low confidence", Result{IsValid: true, ConfidenceLevel: "LOW"}, domain.ValidationRequiresLegalReview},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vr := Validate(context.Background(), stubAnalyzer{res: tc.res}, nil, "text", "ctx")
			assert.Equal(t, tc.want, vr.Outcome)
			assert.False(t, vr.Degraded)
			assert.Equal(t, tc.res.Issues, vr.Issues)
		})
	}
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "the text", req.Text)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Result{IsValid: true, ConfidenceLevel: "medium", Warnings: []string{"w"}})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, WithRetry(fastRetry))
	res, err := c.Analyze(context.Background(), "the text", "")
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, []string{"w"}, res.Warnings)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClientClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, WithRetry(fastRetry))
	_, err := c.Analyze(context.Background(), "x", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())

	vr := Validate(context.Background(), c, nil, "x", "")
	assert.True(t, vr.Degraded)
}

func TestHTTPClientStopsAtPolicyBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, WithRetry(retry.Policy{InitialInterval: time.Millisecond, MaxElapsed: 30 * time.Millisecond}))
	start := time.Now()
	_, err := c.Analyze(context.Background(), "x", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Greater(t, calls.Load(), int32(1))
	assert.Less(t, time.Since(start), time.Second)
}
