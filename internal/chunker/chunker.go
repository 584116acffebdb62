// Package chunker turns a document into ordered, header-aware, bounded-size
// chunks with overlap. Chunking is deterministic and pure.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Default chunking bounds, in bytes.
const (
	DefaultMaxChunkSize    = 1500
	DefaultTargetChunkSize = 1000
	DefaultOverlap         = 100
	DefaultMinChunkSize    = 50
)

// Options configures chunking bounds.
type Options struct {
	// MaxChunkSize is the hard upper bound on chunk size.
	MaxChunkSize int

	// TargetChunkSize is the soft target used when re-splitting oversized
	// segments.
	TargetChunkSize int

	// Overlap is the number of trailing bytes repeated at the start of the
	// next window during re-splitting.
	Overlap int

	// MinChunkSize is the lower bound below which a chunk is merged into its
	// neighbor. The final chunk may be shorter.
	MinChunkSize int
}

// DefaultOptions returns the default chunking bounds.
func DefaultOptions() Options {
	return Options{
		MaxChunkSize:    DefaultMaxChunkSize,
		TargetChunkSize: DefaultTargetChunkSize,
		Overlap:         DefaultOverlap,
		MinChunkSize:    DefaultMinChunkSize,
	}
}

func (o *Options) applyDefaults() {
	if o.MaxChunkSize == 0 {
		o.MaxChunkSize = DefaultMaxChunkSize
	}
	if o.TargetChunkSize == 0 {
		o.TargetChunkSize = DefaultTargetChunkSize
	}
	if o.Overlap == 0 {
		o.Overlap = DefaultOverlap
	}
	if o.MinChunkSize == 0 {
		o.MinChunkSize = DefaultMinChunkSize
	}
}

// Chunk is one ordered span of a document.
type Chunk struct {
	// Index is the ordinal of this chunk in its document, starting at 0.
	Index int

	// Text is the chunk content. Never empty.
	Text string

	// Header is the nearest preceding Markdown heading text, or empty.
	Header string

	// TotalChunks is the chunk count of the whole document.
	TotalChunks int
}

// Matches ATX headings: # Title through ###### Title.
var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

type piece struct {
	text   string
	header string
}

// Split chunks text under the given options.
func Split(text string, opts Options) []Chunk {
	opts.applyDefaults()

	if strings.TrimSpace(text) == "" {
		return nil
	}

	var pieces []piece
	for _, sec := range splitSections(text) {
		for _, para := range splitParagraphs(sec.text) {
			if len(para) > opts.MaxChunkSize {
				for _, window := range resplit(para, opts.TargetChunkSize, opts.Overlap) {
					pieces = append(pieces, piece{text: window, header: sec.header})
				}
				continue
			}
			pieces = append(pieces, piece{text: para, header: sec.header})
		}
	}

	pieces = mergeShort(pieces, opts)

	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{
			Index:       i,
			Text:        p.text,
			Header:      p.header,
			TotalChunks: len(pieces),
		}
	}
	return chunks
}

type section struct {
	header string
	text   string
}

// splitSections splits on ATX headings. Content before the first heading
// forms a headerless section. The heading line stays in its section so the
// chunk texts cover the document.
func splitSections(text string) []section {
	lines := strings.Split(text, "\n")

	var sections []section
	var current section
	var builder strings.Builder

	flush := func() {
		if strings.TrimSpace(builder.String()) != "" {
			current.text = builder.String()
			sections = append(sections, current)
		}
		builder.Reset()
	}

	for _, line := range lines {
		if match := headingPattern.FindStringSubmatch(line); match != nil {
			flush()
			current = section{header: strings.TrimSpace(match[2])}
		}
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	flush()

	return sections
}

// splitParagraphs splits on blank lines. Paragraph text is trimmed of outer
// whitespace; blank-only segments are dropped.
func splitParagraphs(text string) []string {
	var paragraphs []string
	var builder strings.Builder

	flush := func() {
		p := strings.TrimSpace(builder.String())
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
		builder.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(line)
	}
	flush()

	return paragraphs
}

// resplit cuts an oversized segment into windows of target size with overlap
// bytes of trailing context repeated at the start of the next window. Window
// boundaries never land inside a UTF-8 rune.
func resplit(text string, target, overlap int) []string {
	if overlap >= target {
		overlap = target / 4
	}

	var windows []string
	start := 0
	for start < len(text) {
		end := start + target
		if end >= len(text) {
			windows = append(windows, text[start:])
			break
		}
		for end > start && !utf8.RuneStart(text[end]) {
			end--
		}
		windows = append(windows, text[start:end])

		next := end - overlap
		for next > start && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return windows
}

// mergeShort folds non-final pieces shorter than the minimum into a neighbor.
// A first short piece with no predecessor folds forward into the next piece.
// A short piece neither neighbor can absorb without exceeding MaxChunkSize is
// kept as-is; content is never dropped.
func mergeShort(pieces []piece, opts Options) []piece {
	var merged []piece
	for i := 0; i < len(pieces); i++ {
		p := pieces[i]
		isFinal := i == len(pieces)-1
		if len(p.text) >= opts.MinChunkSize || isFinal {
			merged = append(merged, p)
			continue
		}

		if len(merged) > 0 && len(merged[len(merged)-1].text)+len(p.text)+2 <= opts.MaxChunkSize {
			last := &merged[len(merged)-1]
			last.text = last.text + "\n\n" + p.text
			continue
		}

		next := &pieces[i+1]
		if len(p.text)+len(next.text)+2 <= opts.MaxChunkSize {
			next.text = p.text + "\n\n" + next.text
			if next.header == "" {
				next.header = p.header
			}
			continue
		}

		merged = append(merged, p)
	}
	return merged
}
