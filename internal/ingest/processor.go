package ingest

import (
	"strings"

	"github.com/tinytelemetry/tsnorm/internal/model"
)

// DefaultMaxDocumentBytes caps a multi-line document still being accumulated.
// A document that grows past it is handed to the normalizer as-is, where it
// is rejected as malformed.
const DefaultMaxDocumentBytes = 4 << 20

// Processor turns source lines into documents and routes them through a
// Normalizer. A JSON object or array may span several lines; lines are
// accumulated per source until brackets balance.
type Processor struct {
	normalizer *Normalizer
	sourceName string
	maxBytes   int

	pending map[string]*accumulator
}

type accumulator struct {
	source string
	buf    strings.Builder
	depth  int
}

// ProcessResult holds the outcome of one complete document.
type ProcessResult struct {
	Source string
	Result *Result
	Err    error
}

// NewProcessor creates a processor. sourceName is used for envelopes that do
// not name their source.
func NewProcessor(normalizer *Normalizer, sourceName string) *Processor {
	return &Processor{
		normalizer: normalizer,
		sourceName: sourceName,
		maxBytes:   DefaultMaxDocumentBytes,
		pending:    make(map[string]*accumulator),
	}
}

func (p *Processor) Name() string { return ProcessorNameJSON }

// ProcessEnvelope consumes one line. It returns nil while a multi-line
// document is still being accumulated and for blank lines.
func (p *Processor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	source := env.Source
	if source == "" {
		source = p.sourceName
	}
	key := source
	if env.Stream != "" {
		key = source + "/" + env.Stream
	}
	return p.processLine(key, source, env.Line)
}

// ProcessLine consumes one line from the default source.
func (p *Processor) ProcessLine(line string) *ProcessResult {
	return p.processLine(p.sourceName, p.sourceName, line)
}

func (p *Processor) processLine(key, source, line string) *ProcessResult {
	if acc, ok := p.pending[key]; ok {
		return p.continueDocument(key, acc, line)
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		acc := &accumulator{source: source}
		p.pending[key] = acc
		return p.continueDocument(key, acc, line)
	}
	return p.processDocument(source, trimmed)
}

func (p *Processor) continueDocument(key string, acc *accumulator, line string) *ProcessResult {
	acc.buf.WriteString(line)
	acc.buf.WriteString("\n")
	acc.depth += CountJSONDepth(line)

	if acc.depth > 0 && acc.buf.Len() < p.maxBytes {
		return nil
	}
	complete := strings.TrimSpace(acc.buf.String())
	delete(p.pending, key)
	return p.processDocument(acc.source, complete)
}

func (p *Processor) processDocument(source, text string) *ProcessResult {
	res, err := p.normalizer.Ingest(source, []byte(text))
	return &ProcessResult{Source: source, Result: res, Err: err}
}

// Pending reports how many sources have a partially accumulated document.
func (p *Processor) Pending() int { return len(p.pending) }

// Flush hands every partially accumulated document to the normalizer, for
// use when the input ends.
func (p *Processor) Flush() []*ProcessResult {
	var out []*ProcessResult
	for key, acc := range p.pending {
		delete(p.pending, key)
		out = append(out, p.processDocument(acc.source, strings.TrimSpace(acc.buf.String())))
	}
	return out
}

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}

// SetSourceName updates the default source name.
func (p *Processor) SetSourceName(name string) {
	p.sourceName = name
}

// SetMaxDocumentBytes overrides DefaultMaxDocumentBytes.
func (p *Processor) SetMaxDocumentBytes(n int) {
	if n > 0 {
		p.maxBytes = n
	}
}
