package socketrpc

import (
	"encoding/json"
	"errors"

	"github.com/tinytelemetry/tsnorm/internal/jsonx"
	"github.com/tinytelemetry/tsnorm/internal/metrics"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

type paramsError struct{ err error }

func (e paramsError) Error() string { return "invalid params: " + e.err.Error() }

// method decodes raw params and runs one querier call.
type method func(q model.MeasurementQuerier, raw json.RawMessage) (any, error)

// withParams builds a method whose params decode over def. Required methods
// reject empty or null params.
func withParams[P any](required bool, def P, call func(model.MeasurementQuerier, P) (any, error)) method {
	return func(q model.MeasurementQuerier, raw json.RawMessage) (any, error) {
		p := def
		if len(raw) == 0 || string(raw) == "null" {
			if required {
				return nil, paramsError{errors.New("missing params")}
			}
		} else if err := jsonx.Unmarshal(raw, &p); err != nil {
			return nil, paramsError{err}
		}
		return call(q, p)
	}
}

var methods = map[string]method{
	MethodTotalMeasurementCount: withParams(false, OptsParams{},
		func(q model.MeasurementQuerier, p OptsParams) (any, error) {
			return q.TotalMeasurementCount(p.Opts)
		}),
	MethodTopMeasurementNames: withParams(true, LimitParams{},
		func(q model.MeasurementQuerier, p LimitParams) (any, error) {
			return q.TopMeasurementNames(model.ClampLimit(p.Limit, model.DefaultTopLimit), p.Opts)
		}),
	MethodTopSeries: withParams(true, LimitParams{},
		func(q model.MeasurementQuerier, p LimitParams) (any, error) {
			return q.TopSeries(model.ClampLimit(p.Limit, model.DefaultTopLimit), p.Opts)
		}),
	MethodTopTagKeys: withParams(true, LimitParams{},
		func(q model.MeasurementQuerier, p LimitParams) (any, error) {
			return q.TopTagKeys(model.ClampLimit(p.Limit, model.DefaultTopLimit), p.Opts)
		}),
	MethodTagKeyValues: withParams(true, TagParams{},
		func(q model.MeasurementQuerier, p TagParams) (any, error) {
			if p.Key == "" {
				return nil, paramsError{errors.New("key is required")}
			}
			return q.TagKeyValues(p.Key, model.ClampLimit(p.Limit, model.DefaultTopLimit))
		}),
	MethodFormatCounts: withParams(false, struct{}{},
		func(q model.MeasurementQuerier, _ struct{}) (any, error) {
			return q.FormatCounts()
		}),
	MethodCountsByMinute: withParams(false, OptsParams{},
		func(q model.MeasurementQuerier, p OptsParams) (any, error) {
			return q.CountsByMinute(p.Opts)
		}),
	MethodRecentMeasurements: withParams(false, LimitParams{Limit: model.DefaultRecentLimit},
		func(q model.MeasurementQuerier, p LimitParams) (any, error) {
			records, err := q.RecentMeasurements(model.ClampLimit(p.Limit, model.DefaultRecentLimit), p.Opts)
			if err != nil {
				return nil, err
			}
			return model.RecordsToJSON(records), nil
		}),
	MethodRecentRejections: withParams(false, LimitParams{Limit: model.DefaultRecentLimit},
		func(q model.MeasurementQuerier, p LimitParams) (any, error) {
			return q.RecentRejections(model.ClampLimit(p.Limit, model.DefaultRecentLimit))
		}),
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	m, known := methods[req.Method]
	if known {
		resp.Result, resp.Error = invoke(m, s.store, req.Params)
	} else {
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}

	code := 0
	if resp.Error != nil {
		code = resp.Error.Code
	}
	metrics.RecordRPC(req.Method, known, code)
	return resp
}

func invoke(m method, q model.MeasurementQuerier, raw json.RawMessage) (json.RawMessage, *RPCError) {
	v, err := m(q, raw)
	if err != nil {
		var pe paramsError
		if errors.As(err, &pe) {
			return nil, &RPCError{Code: codeInvalidParams, Message: pe.Error()}
		}
		return nil, &RPCError{Code: codeAppError, Message: err.Error()}
	}
	data, err := jsonx.Marshal(v)
	if err != nil {
		return nil, &RPCError{Code: codeInternalError, Message: err.Error()}
	}
	return data, nil
}
