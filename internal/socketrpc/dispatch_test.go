package socketrpc

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/model"
)

// recordingQuerier returns canned data and remembers the last limit it saw.
type recordingQuerier struct {
	lastLimit int
	lastKey   string
	err       error
}

func (q *recordingQuerier) TotalMeasurementCount(model.QueryOpts) (int64, error) {
	return 100, q.err
}

func (q *recordingQuerier) TopMeasurementNames(limit int, _ model.QueryOpts) ([]model.NameCount, error) {
	q.lastLimit = limit
	return []model.NameCount{{Name: "sys.disk", Count: 5}}, q.err
}

func (q *recordingQuerier) TopSeries(limit int, _ model.QueryOpts) ([]model.SeriesCount, error) {
	q.lastLimit = limit
	return []model.SeriesCount{{Series: "sys.disk,direction=read", Count: 3}}, q.err
}

func (q *recordingQuerier) TopTagKeys(limit int, _ model.QueryOpts) ([]model.TagKeyStat, error) {
	q.lastLimit = limit
	return []model.TagKeyStat{{Key: "direction", UniqueValues: 2, TotalCount: 10}}, q.err
}

func (q *recordingQuerier) TagKeyValues(key string, limit int) (map[string]int64, error) {
	q.lastKey, q.lastLimit = key, limit
	return map[string]int64{"read": 7}, q.err
}

func (q *recordingQuerier) FormatCounts() (map[string]int64, error) {
	return map[string]int64{"simple": 50, "collectd": 10}, q.err
}

func (q *recordingQuerier) CountsByMinute(model.QueryOpts) ([]model.MinuteCount, error) {
	return []model.MinuteCount{{Minute: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Simple: 5, Total: 5}}, q.err
}

func (q *recordingQuerier) RecentMeasurements(limit int, _ model.QueryOpts) ([]model.MeasurementRecord, error) {
	q.lastLimit = limit
	return []model.MeasurementRecord{{
		Measurement: model.NewMeasurement("badge", 1457432331641, math.NaN(), nil),
		Format:      "simple",
		IngestedAt:  time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}}, q.err
}

func (q *recordingQuerier) RecentRejections(limit int) ([]model.Rejection, error) {
	q.lastLimit = limit
	return []model.Rejection{{DocID: "d", Index: -1, Reason: "malformed input"}}, q.err
}

func dispatchRaw(s *Server, method, params string) Response {
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	return s.dispatch(Request{JSONRPC: "2.0", ID: 7, Method: method, Params: raw})
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method    string
		params    string
		code      int
		wantLimit int
	}{
		{method: MethodTotalMeasurementCount, params: `{"Opts":{}}`},
		{method: MethodTotalMeasurementCount},
		{method: MethodTopMeasurementNames, params: `{"Limit":10,"Opts":{}}`, wantLimit: 10},
		{method: MethodTopMeasurementNames, params: `{"Limit":0}`, wantLimit: model.DefaultTopLimit},
		{method: MethodTopSeries, params: `{"Limit":999999}`, wantLimit: model.MaxQueryLimit},
		{method: MethodTopSeries, code: codeInvalidParams},
		{method: MethodTopSeries, params: `not json`, code: codeInvalidParams},
		{method: MethodTopTagKeys, params: `{"Limit":3}`, wantLimit: 3},
		{method: MethodTagKeyValues, params: `{"Key":"direction","Limit":10}`, wantLimit: 10},
		{method: MethodTagKeyValues, params: `{"Limit":10}`, code: codeInvalidParams},
		{method: MethodFormatCounts, params: `{}`},
		{method: MethodFormatCounts, params: `null`},
		{method: MethodCountsByMinute, params: `{"Opts":{"Format":"simple"}}`},
		{method: MethodRecentMeasurements, wantLimit: model.DefaultRecentLimit},
		{method: MethodRecentMeasurements, params: `{"Limit":100}`, wantLimit: 100},
		{method: MethodRecentRejections, params: `{"Limit":-1}`, wantLimit: model.DefaultRecentLimit},
		{method: "DropTables", params: `{}`, code: codeMethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+"/"+tt.params, func(t *testing.T) {
			t.Parallel()
			q := &recordingQuerier{}
			resp := dispatchRaw(&Server{store: q}, tt.method, tt.params)

			if resp.ID != 7 || resp.JSONRPC != "2.0" {
				t.Fatalf("envelope = %+v", resp)
			}
			if tt.code != 0 {
				if resp.Error == nil || resp.Error.Code != tt.code {
					t.Fatalf("error = %+v, want code %d", resp.Error, tt.code)
				}
				return
			}
			if resp.Error != nil {
				t.Fatalf("error: %s", resp.Error.Message)
			}
			if len(resp.Result) == 0 {
				t.Fatal("empty result")
			}
			if tt.wantLimit != 0 && q.lastLimit != tt.wantLimit {
				t.Fatalf("limit = %d, want %d", q.lastLimit, tt.wantLimit)
			}
		})
	}
}

func TestDispatch_NaNTravelsAsString(t *testing.T) {
	t.Parallel()

	resp := dispatchRaw(&Server{store: &recordingQuerier{}}, MethodRecentMeasurements, `null`)
	if resp.Error != nil {
		t.Fatalf("error: %s", resp.Error.Message)
	}
	if !strings.Contains(string(resp.Result), `"value":"NaN"`) {
		t.Fatalf("result = %s", resp.Result)
	}
}

func TestDispatch_QueryErrorIsApplicationError(t *testing.T) {
	t.Parallel()

	resp := dispatchRaw(&Server{store: &recordingQuerier{err: errors.New("store unavailable")}}, MethodTotalMeasurementCount, "")
	if resp.Error == nil || resp.Error.Code != codeAppError || resp.Error.Message != "store unavailable" {
		t.Fatalf("error = %+v", resp.Error)
	}
	if resp.Result != nil {
		t.Fatalf("result = %s, want none", resp.Result)
	}
}
