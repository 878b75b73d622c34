// Package socketrpc serves model.MeasurementQuerier to local clients such as
// tsnorm-top over a Unix domain socket.
//
// Framing is one JSON-RPC 2.0 object per line in each direction. Every
// querier method is exposed under its Go name:
//
//	Method                  Params        Result
//	TotalMeasurementCount   OptsParams    int64
//	TopMeasurementNames     LimitParams   []NameCount
//	TopSeries               LimitParams   []SeriesCount
//	TopTagKeys              LimitParams   []TagKeyStat
//	TagKeyValues            TagParams     map[string]int64
//	FormatCounts            none          map[string]int64
//	CountsByMinute          OptsParams    []MinuteCount
//	RecentMeasurements      LimitParams   []model.RecordJSON
//	RecentRejections        LimitParams   []Rejection
//
// Limits outside [1, model.MaxQueryLimit] are clamped; a missing limit gets
// the method's default.
package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tinytelemetry/tsnorm/internal/model"
)

const (
	MethodTotalMeasurementCount = "TotalMeasurementCount"
	MethodTopMeasurementNames   = "TopMeasurementNames"
	MethodTopSeries             = "TopSeries"
	MethodTopTagKeys            = "TopTagKeys"
	MethodTagKeyValues          = "TagKeyValues"
	MethodFormatCounts          = "FormatCounts"
	MethodCountsByMinute        = "CountsByMinute"
	MethodRecentMeasurements    = "RecentMeasurements"
	MethodRecentRejections      = "RecentRejections"
)

// JSON-RPC 2.0 error codes. codeAppError carries query failures.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeAppError       = -32000
)

const (
	// per-line buffer limits shared by client and server
	scannerInitBufSize  = 1 << 20
	scannerMaxTokenSize = 10 << 20
)

type OptsParams struct {
	Opts model.QueryOpts
}

type LimitParams struct {
	Limit int
	Opts  model.QueryOpts
}

type TagParams struct {
	Key   string
	Limit int
}

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object of a failed Response. Clients return it as is.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// DefaultSocketPath is $XDG_RUNTIME_DIR/tsnorm/tsnorm.sock, or
// ~/.local/state/tsnorm/tsnorm.sock without a runtime dir.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "tsnorm", "tsnorm.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tsnorm.sock")
	}
	return filepath.Join(home, ".local", "state", "tsnorm", "tsnorm.sock")
}
