package socketrpc

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/jsonx"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

const (
	dialTimeout = 5 * time.Second
	callTimeout = 30 * time.Second
)

// Client is a model.MeasurementQuerier backed by a Server. One call is in
// flight at a time.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	in     *bufio.Scanner
	lastID int
}

var _ model.MeasurementQuerier = (*Client)(nil)

func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	in := bufio.NewScanner(conn)
	in.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{conn: conn, in: in}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// roundTrip sends one request and decodes the matching result into dest.
func (c *Client) roundTrip(method string, params, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := jsonx.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}
	c.lastID++
	req := Request{JSONRPC: "2.0", ID: c.lastID, Method: method, Params: raw}

	_ = c.conn.SetDeadline(time.Now().Add(callTimeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := writeLine(c.conn, req); err != nil {
		return fmt.Errorf("socketrpc: send %s: %w", method, err)
	}
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return fmt.Errorf("socketrpc: read %s: %w", method, err)
		}
		return errors.New("socketrpc: connection closed")
	}

	var resp Response
	if err := jsonx.Unmarshal(c.in.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: decode response: %w", err)
	}
	switch {
	case resp.ID != req.ID:
		return fmt.Errorf("socketrpc: response id %d does not match request id %d", resp.ID, req.ID)
	case resp.Error != nil:
		return resp.Error
	}
	if err := jsonx.Unmarshal(resp.Result, dest); err != nil {
		return fmt.Errorf("socketrpc: decode %s result: %w", method, err)
	}
	return nil
}

func call[T any](c *Client, method string, params any) (T, error) {
	var out T
	err := c.roundTrip(method, params, &out)
	return out, err
}

func (c *Client) TotalMeasurementCount(opts model.QueryOpts) (int64, error) {
	return call[int64](c, MethodTotalMeasurementCount, OptsParams{Opts: opts})
}

func (c *Client) TopMeasurementNames(limit int, opts model.QueryOpts) ([]model.NameCount, error) {
	return call[[]model.NameCount](c, MethodTopMeasurementNames, LimitParams{Limit: limit, Opts: opts})
}

func (c *Client) TopSeries(limit int, opts model.QueryOpts) ([]model.SeriesCount, error) {
	return call[[]model.SeriesCount](c, MethodTopSeries, LimitParams{Limit: limit, Opts: opts})
}

func (c *Client) TopTagKeys(limit int, opts model.QueryOpts) ([]model.TagKeyStat, error) {
	return call[[]model.TagKeyStat](c, MethodTopTagKeys, LimitParams{Limit: limit, Opts: opts})
}

func (c *Client) TagKeyValues(key string, limit int) (map[string]int64, error) {
	return call[map[string]int64](c, MethodTagKeyValues, TagParams{Key: key, Limit: limit})
}

func (c *Client) FormatCounts() (map[string]int64, error) {
	return call[map[string]int64](c, MethodFormatCounts, nil)
}

func (c *Client) CountsByMinute(opts model.QueryOpts) ([]model.MinuteCount, error) {
	return call[[]model.MinuteCount](c, MethodCountsByMinute, OptsParams{Opts: opts})
}

func (c *Client) RecentMeasurements(limit int, opts model.QueryOpts) ([]model.MeasurementRecord, error) {
	wire, err := call[[]model.RecordJSON](c, MethodRecentMeasurements, LimitParams{Limit: limit, Opts: opts})
	if err != nil {
		return nil, err
	}
	records := make([]model.MeasurementRecord, len(wire))
	for i, w := range wire {
		records[i] = w.Record()
	}
	return records, nil
}

func (c *Client) RecentRejections(limit int) ([]model.Rejection, error) {
	return call[[]model.Rejection](c, MethodRecentRejections, LimitParams{Limit: limit})
}
