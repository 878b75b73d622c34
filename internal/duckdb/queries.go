package duckdb

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/jsonx"
	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

// dangerousKeywordPattern matches dangerous SQL keywords at word boundaries.
// This avoids false positives like "RESET" matching "SET".
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET)\b`,
)

// blockCommentPattern matches C-style block comments (/* ... */).
var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// maxQueryRows caps the rows returned by ExecuteQuery.
const maxQueryRows = 1000

// stripSQLComments removes -- line comments and /* */ block comments from a query.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// optsConditions returns the name/format conditions selected by opts.
func optsConditions(opts QueryOpts) (conds []string, args []interface{}) {
	if opts.Name != "" {
		conds = append(conds, "name = ?")
		args = append(args, opts.Name)
	}
	if opts.Format != "" {
		conds = append(conds, "format = ?")
		args = append(args, opts.Format)
	}
	return conds, args
}

// optsFilter returns a WHERE clause and args for opts, or "" when opts is empty.
func optsFilter(opts QueryOpts) (clause string, args []interface{}) {
	conds, args := optsConditions(opts)
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// optsAnd returns an " AND ..." fragment for opts. Use this when there is
// already a WHERE clause.
func optsAnd(opts QueryOpts) (clause string, args []interface{}) {
	conds, args := optsConditions(opts)
	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

// TotalMeasurementCount returns the number of stored measurements.
func (s *Store) TotalMeasurementCount(opts QueryOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, wArgs := optsFilter(opts)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM measurements %s`, where)

	var count int64
	err := s.db.QueryRowContext(ctx, query, wArgs...).Scan(&count)
	return count, err
}

// TopMeasurementNames returns measurement names by descending record count.
func (s *Store) TopMeasurementNames(limit int, opts QueryOpts) ([]model.NameCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, wArgs := optsFilter(opts)
	query := fmt.Sprintf(`
		SELECT name, COUNT(*) AS count
		FROM measurements %s
		GROUP BY name
		ORDER BY count DESC, name ASC
		LIMIT ?`, where)

	args := append(wArgs, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.NameCount
	for rows.Next() {
		var nc model.NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			logging.Warnf("duckdb scan error (TopMeasurementNames): %v", err)
			continue
		}
		results = append(results, nc)
	}
	return results, rows.Err()
}

// TopSeries returns series keys (name plus sorted tags) by descending record
// count.
func (s *Store) TopSeries(limit int, opts QueryOpts) ([]model.SeriesCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, wArgs := optsFilter(opts)
	query := fmt.Sprintf(`
		SELECT series, COUNT(*) AS count
		FROM measurements %s
		GROUP BY series
		ORDER BY count DESC, series ASC
		LIMIT ?`, where)

	args := append(wArgs, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.SeriesCount
	for rows.Next() {
		var sc model.SeriesCount
		if err := rows.Scan(&sc.Series, &sc.Count); err != nil {
			logging.Warnf("duckdb scan error (TopSeries): %v", err)
			continue
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

// TopTagKeys returns tag keys sorted by number of unique values.
func (s *Store) TopTagKeys(limit int, opts QueryOpts) ([]model.TagKeyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, wArgs := optsFilter(opts)
	query := fmt.Sprintf(`
		WITH tag_pairs AS (
			SELECT
				unnest(map_keys(CAST(tags AS MAP(VARCHAR, VARCHAR)))) AS tag_key,
				unnest(map_values(CAST(tags AS MAP(VARCHAR, VARCHAR)))) AS tag_value
			FROM measurements %s
		)
		SELECT tag_key, COUNT(DISTINCT tag_value) AS unique_values, COUNT(*) AS total_count
		FROM tag_pairs
		WHERE tag_key IS NOT NULL
		GROUP BY tag_key
		ORDER BY unique_values DESC, tag_key ASC
		LIMIT ?`, where)

	args := append(wArgs, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.TagKeyStat
	for rows.Next() {
		var ts model.TagKeyStat
		if err := rows.Scan(&ts.Key, &ts.UniqueValues, &ts.TotalCount); err != nil {
			logging.Warnf("duckdb scan error (TopTagKeys): %v", err)
			continue
		}
		results = append(results, ts)
	}
	return results, rows.Err()
}

// TagKeyValues returns value counts for a specific tag key.
func (s *Store) TagKeyValues(key string, limit int) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		WITH tag_pairs AS (
			SELECT
				unnest(map_keys(CAST(tags AS MAP(VARCHAR, VARCHAR)))) AS tag_key,
				unnest(map_values(CAST(tags AS MAP(VARCHAR, VARCHAR)))) AS tag_value
			FROM measurements
		)
		SELECT tag_value, COUNT(*) AS count
		FROM tag_pairs
		WHERE tag_key = ?
		GROUP BY tag_value
		ORDER BY count DESC
		LIMIT ?`, key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var value string
		var count int64
		if err := rows.Scan(&value, &count); err != nil {
			logging.Warnf("duckdb scan error (TagKeyValues): %v", err)
			continue
		}
		result[value] = count
	}
	return result, rows.Err()
}

// FormatCounts returns the number of stored measurements per converter.
func (s *Store) FormatCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT format, COUNT(*) FROM measurements GROUP BY format`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var format string
		var count int64
		if err := rows.Scan(&format, &count); err != nil {
			logging.Warnf("duckdb scan error (FormatCounts): %v", err)
			continue
		}
		result[format] = count
	}
	return result, rows.Err()
}

// CountsByMinute returns per-minute ingest counts over the last
// model.DefaultMinuteWindow, split by converter.
func (s *Store) CountsByMinute(opts QueryOpts) ([]model.MinuteCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	cutoff := time.Now().UTC().Add(-model.DefaultMinuteWindow)

	andOpts, aArgs := optsAnd(opts)
	query := fmt.Sprintf(`
		SELECT date_trunc('minute', ingested_at) AS minute,
			CAST(SUM(CASE WHEN format='simple' THEN 1 ELSE 0 END) AS BIGINT) AS simple,
			CAST(SUM(CASE WHEN format='collectd' THEN 1 ELSE 0 END) AS BIGINT) AS collectd,
			COUNT(*) AS total
		FROM measurements
		WHERE ingested_at >= ?%s
		GROUP BY minute ORDER BY minute`, andOpts)

	args := append([]interface{}{cutoff}, aArgs...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.MinuteCount
	for rows.Next() {
		var mc model.MinuteCount
		if err := rows.Scan(&mc.Minute, &mc.Simple, &mc.Collectd, &mc.Total); err != nil {
			logging.Warnf("duckdb scan error (CountsByMinute): %v", err)
			continue
		}
		results = append(results, mc)
	}
	return results, rows.Err()
}

// RecentMeasurements returns the most recently ingested records in
// chronological order.
func (s *Store) RecentMeasurements(limit int, opts QueryOpts) ([]model.MeasurementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, wArgs := optsFilter(opts)
	innerQuery := fmt.Sprintf(`SELECT id, name, timestamp_ms, value, CAST(tags AS VARCHAR) AS tags, format, source, doc_id, event_id, ingested_at
		FROM measurements %s
		ORDER BY ingested_at DESC, id DESC LIMIT ?`, where)
	// Wrap so final results come back in chronological (ASC) order.
	query := "SELECT name, timestamp_ms, value, tags, format, source, doc_id, event_id, ingested_at FROM (" + innerQuery + ") ORDER BY ingested_at ASC, id ASC"

	args := append(wArgs, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.MeasurementRecord
	for rows.Next() {
		var r model.MeasurementRecord
		var value sql.NullFloat64
		var tagsJSON string
		if err := rows.Scan(&r.Name, &r.Timestamp, &value, &tagsJSON, &r.Format, &r.Source, &r.DocID, &r.EventID, &r.IngestedAt); err != nil {
			logging.Warnf("duckdb scan error (RecentMeasurements): %v", err)
			continue
		}
		r.Value = value.Float64
		// Always initialize to non-nil.
		r.Tags = make(map[string]string)
		if tagsJSON != "" && tagsJSON != "{}" {
			if err := parseJSONMap(tagsJSON, r.Tags); err != nil {
				logging.Warnf("duckdb: bad tags json for event %s: %v", r.EventID, err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// RecentRejections returns the most recent rejections in chronological order.
func (s *Store) RecentRejections(limit int) ([]model.Rejection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, doc_id, element_index, reason, payload, rejected_at FROM (
			SELECT * FROM rejections ORDER BY rejected_at DESC LIMIT ?
		) ORDER BY rejected_at ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Rejection
	for rows.Next() {
		var r model.Rejection
		if err := rows.Scan(&r.Source, &r.DocID, &r.Index, &r.Reason, &r.Payload, &r.RejectedAt); err != nil {
			logging.Warnf("duckdb scan error (RecentRejections): %v", err)
			continue
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ExecuteQuery runs a read-only SQL query and returns results as maps.
// Only SELECT/WITH read queries are allowed; DDL/DML is rejected.
func (s *Store) ExecuteQuery(query string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)

	// Reject semicolons to prevent statement chaining.
	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("query must not contain semicolons")
	}

	// Strip SQL comments so keywords hidden in comments are still caught.
	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only SELECT/WITH queries are allowed")
	}

	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return nil, fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() && len(results) < maxQueryRows {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			logging.Warnf("duckdb scan error (ExecuteQuery): %v", err)
			continue
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// GetSchemaDescription returns a human-readable schema description.
func (s *Store) GetSchemaDescription() string {
	return `Table 'measurements': id (BIGINT), name (VARCHAR), timestamp_ms (DOUBLE: epoch milliseconds), ` +
		`ts (TIMESTAMP), value (DOUBLE), tags (JSON object of string to string), ` +
		`series (VARCHAR: name plus sorted tags), format (VARCHAR: simple/collectd), ` +
		`source (VARCHAR: tcp/stdin/http), doc_id (VARCHAR), event_id (VARCHAR), ingested_at (TIMESTAMP). ` +
		`Table 'rejections': source (VARCHAR), doc_id (VARCHAR), element_index (INTEGER: -1 for whole document), ` +
		`reason (VARCHAR), payload (VARCHAR), rejected_at (TIMESTAMP).`
}

// TableRowCounts returns the row count for each known table using a hardcoded allowlist.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	allowedTables := []string{"measurements", "rejections"}
	counts := make(map[string]int64, len(allowedTables))

	for _, table := range allowedTables {
		var count int64
		// Table names are hardcoded constants, not user input.
		err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		counts[table] = count
	}
	return counts, nil
}

// parseJSONMap parses a JSON object into dest, formatting non-string values.
func parseJSONMap(jsonStr string, dest map[string]string) error {
	var raw map[string]interface{}
	if err := jsonx.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			dest[k] = s
			continue
		}
		dest[k] = fmt.Sprintf("%v", v)
	}
	return nil
}
