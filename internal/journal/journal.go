// Package journal is a write-ahead log for measurement records that have been
// accepted but not yet flushed to the store.
//
// Each line is "<seq> <crc32> <json>\n". A line whose checksum does not match,
// or a final line without a newline, ends the readable log.
package journal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/jsonx"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

const fileMode = 0644

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// errStop ends a scan without reporting an error.
var errStop = errors.New("stop")

// record is the journaled form of model.MeasurementRecord. Floats travel as
// text so NaN and infinities are preserved.
type record struct {
	Name       string            `json:"n"`
	Timestamp  string            `json:"t"`
	Value      string            `json:"v"`
	Tags       map[string]string `json:"g,omitempty"`
	Source     string            `json:"src,omitempty"`
	Format     string            `json:"fmt,omitempty"`
	DocID      string            `json:"doc,omitempty"`
	EventID    string            `json:"ev,omitempty"`
	IngestedAt time.Time         `json:"at"`
}

// Journal is safe for concurrent use.
type Journal struct {
	mu         sync.Mutex
	path       string
	commitPath string
	file       *os.File
	nextSeq    uint64
	committed  uint64
}

// Open opens or creates the journal at path, dropping entries that were
// already committed and anything after the first unreadable line.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	commitPath := path + ".commit"
	committed, err := readCommitted(commitPath)
	if err != nil {
		return nil, err
	}
	last, err := rewrite(path, committed)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, fileMode)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Journal{
		path:       path,
		commitPath: commitPath,
		file:       f,
		nextSeq:    max(last, committed) + 1,
		committed:  committed,
	}, nil
}

// Append durably writes r and returns its sequence number.
func (j *Journal) Append(r *model.MeasurementRecord) (uint64, error) {
	if r == nil {
		return 0, errors.New("journal: nil record")
	}
	payload, err := jsonx.Marshal(encode(r))
	if err != nil {
		return 0, fmt.Errorf("journal: encode: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return 0, errors.New("journal: closed")
	}

	seq := j.nextSeq
	if _, err := j.file.Write(frame(seq, payload)); err != nil {
		return 0, fmt.Errorf("journal: write: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return 0, fmt.Errorf("journal: sync: %w", err)
	}
	j.nextSeq++
	return seq, nil
}

// Commit records that every entry up to and including seq is in the store.
// Lower values are ignored.
func (j *Journal) Commit(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if seq <= j.committed {
		return nil
	}
	if err := writeCommitted(j.commitPath, seq); err != nil {
		return err
	}
	j.committed = seq
	return nil
}

// Committed returns the highest committed sequence number.
func (j *Journal) Committed() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.committed
}

// Pending is the number of appended entries not yet committed.
func (j *Journal) Pending() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.nextSeq-1 <= j.committed {
		return 0
	}
	return j.nextSeq - 1 - j.committed
}

// Replay calls fn for each uncommitted entry in sequence order. An error from
// fn stops the replay and is returned.
func (j *Journal) Replay(fn func(seq uint64, r *model.MeasurementRecord) error) error {
	if fn == nil {
		return errors.New("journal: nil replay func")
	}
	j.mu.Lock()
	path, committed := j.path, j.committed
	j.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer f.Close()

	return scan(f, func(seq uint64, _ []byte, payload []byte) error {
		if seq <= committed {
			return nil
		}
		var rec record
		if err := jsonx.Unmarshal(payload, &rec); err != nil {
			return errStop
		}
		return fn(seq, rec.decode())
	})
}

// Close closes the log file. Further appends fail.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

func frame(seq uint64, payload []byte) []byte {
	line := make([]byte, 0, len(payload)+32)
	line = strconv.AppendUint(line, seq, 10)
	line = append(line, ' ')
	line = fmt.Appendf(line, "%08x", crc32.Checksum(payload, castagnoli))
	line = append(line, ' ')
	line = append(line, payload...)
	return append(line, '\n')
}

// parseFrame splits a full line (without the newline) and verifies its
// checksum.
func parseFrame(line []byte) (uint64, []byte, bool) {
	seqText, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok {
		return 0, nil, false
	}
	sumText, payload, ok := bytes.Cut(rest, []byte{' '})
	if !ok || len(sumText) != 8 {
		return 0, nil, false
	}
	seq, err := strconv.ParseUint(string(seqText), 10, 64)
	if err != nil {
		return 0, nil, false
	}
	sum, err := strconv.ParseUint(string(sumText), 16, 32)
	if err != nil || uint32(sum) != crc32.Checksum(payload, castagnoli) {
		return 0, nil, false
	}
	return seq, payload, true
}

// scan feeds each intact line to fn and stops quietly at the first torn or
// corrupt one.
func scan(r io.Reader, fn func(seq uint64, line, payload []byte) error) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("journal: read: %w", err)
		}
		if len(line) == 0 || line[len(line)-1] != '\n' {
			return nil
		}
		seq, payload, ok := parseFrame(line[:len(line)-1])
		if !ok {
			return nil
		}
		if ferr := fn(seq, line, payload); ferr != nil {
			if errors.Is(ferr, errStop) {
				return nil
			}
			return ferr
		}
		if err != nil {
			return nil
		}
	}
}

// rewrite keeps only uncommitted intact entries in the log and returns the
// highest sequence number seen.
func rewrite(path string, committed uint64) (uint64, error) {
	src, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, fileMode)
	if err != nil {
		return 0, fmt.Errorf("journal: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("journal: %w", err)
	}
	fail := func(err error) (uint64, error) {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("journal: compact: %w", err)
	}

	w := bufio.NewWriter(tmp)
	var last uint64
	err = scan(src, func(seq uint64, line, _ []byte) error {
		last = max(last, seq)
		if seq <= committed {
			return nil
		}
		_, err := w.Write(line)
		return err
	})
	if err != nil {
		return fail(err)
	}
	if err := w.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("journal: compact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("journal: compact: %w", err)
	}
	return last, nil
}

func encode(r *model.MeasurementRecord) record {
	return record{
		Name:       r.Name,
		Timestamp:  strconv.FormatFloat(r.Timestamp, 'g', -1, 64),
		Value:      strconv.FormatFloat(r.Value, 'g', -1, 64),
		Tags:       r.Tags,
		Source:     r.Source,
		Format:     r.Format,
		DocID:      r.DocID,
		EventID:    r.EventID,
		IngestedAt: r.IngestedAt,
	}
}

func (r record) decode() *model.MeasurementRecord {
	return &model.MeasurementRecord{
		Measurement: model.NewMeasurement(r.Name, textFloat(r.Timestamp), textFloat(r.Value), r.Tags),
		Source:      r.Source,
		Format:      r.Format,
		DocID:       r.DocID,
		EventID:     r.EventID,
		IngestedAt:  r.IngestedAt,
	}
}

func textFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func readCommitted(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("journal: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("journal: bad commit file %s: %w", path, err)
	}
	return seq, nil
}

func writeCommitted(path string, seq uint64) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("journal: commit: %w", err)
	}
	_, werr := f.Write(strconv.AppendUint(nil, seq, 10))
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmp, path)
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: commit: %w", werr)
	}
	return nil
}
