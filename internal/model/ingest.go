package model

// IngestEnvelope carries one raw input line with the name of the source that
// produced it. It is the transport contract between input plugins and the
// ingest processor.
type IngestEnvelope struct {
	Source string
	// Stream separates concurrent producers of one source, such as two TCP
	// connections. Multi-line documents are reassembled per Source+Stream.
	Stream string
	Line   string
}
