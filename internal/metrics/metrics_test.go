// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bep/genmeta/internal/metrics"

	qt "github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	c := qt.New(t)

	m := metrics.New()
	m.ObserveDecode("png", "", 10*time.Millisecond)
	m.ObserveDecode("png", "", 20*time.Millisecond)
	m.ObserveDecode("jpeg", "truncated", time.Millisecond)
	m.ObserveEdit("png", nil)
	m.ObserveEdit("webp", errors.New("unsupported"))
	m.RegisterCache(func() uint64 { return 3 }, func() int { return 2 })

	c.Assert(testutil.ToFloat64(m.DecodeTotal.WithLabelValues("png", metrics.ResultOK)), qt.Equals, 2.0)
	c.Assert(testutil.ToFloat64(m.DecodeTotal.WithLabelValues("jpeg", metrics.ResultPartial)), qt.Equals, 1.0)
	c.Assert(testutil.ToFloat64(m.EditTotal.WithLabelValues("webp", metrics.ResultError)), qt.Equals, 1.0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	body, _ := io.ReadAll(rec.Body)
	c.Assert(strings.Contains(string(body), `genmeta_edit_total{format="png",result="ok"} 1`), qt.IsTrue)
	c.Assert(strings.Contains(string(body), "genmeta_decode_duration_seconds_bucket"), qt.IsTrue)
	c.Assert(strings.Contains(string(body), "genmeta_cache_hits_total 3"), qt.IsTrue)
	c.Assert(strings.Contains(string(body), "genmeta_cache_records 2"), qt.IsTrue)
}

func TestMetricsNil(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveDecode("png", "", time.Second)
	m.ObserveEdit("png", nil)
	m.RegisterCache(nil, nil)
}
