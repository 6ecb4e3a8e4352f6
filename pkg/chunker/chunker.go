// Package chunker splits note bodies into overlapping text chunks with
// stable byte offsets. Prose chunks prefer paragraph, then sentence,
// boundaries near a target size; reference/code content splits on blank
// lines with a larger target. Split points are never chosen inside fenced
// code blocks; the hard-cut fallback (no boundary in range) can still land
// inside one.
package chunker

import (
	"strings"
)

const (
	// DefaultTargetSize and DefaultMaxOverlap govern prose chunking.
	DefaultTargetSize = 1000
	DefaultMinSize    = 800
	DefaultMaxSize    = 1200
	DefaultMaxOverlap = 128

	// CodeTargetSize is the larger target used for reference/code files.
	CodeTargetSize = 2048
)

// Chunk is a contiguous, byte-addressed slice of a note body.
type Chunk struct {
	Ordinal   int
	Text      string
	ByteStart int
	ByteEnd   int
}

// Options tunes the chunker for a particular file kind.
type Options struct {
	// TargetSize is the preferred chunk length in bytes.
	TargetSize int
	MinSize    int
	MaxSize    int
	MaxOverlap int
	// IsCode selects blank-line-delimited splitting for reference/code
	// files instead of paragraph/sentence-aware prose splitting.
	IsCode bool
}

// DefaultOptions returns the prose chunking defaults.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MinSize:    DefaultMinSize,
		MaxSize:    DefaultMaxSize,
		MaxOverlap: DefaultMaxOverlap,
	}
}

// CodeOptions returns the larger-target splitting used for reference/code files.
func CodeOptions() Options {
	return Options{
		TargetSize: CodeTargetSize,
		MinSize:    CodeTargetSize / 2,
		MaxSize:    CodeTargetSize * 2,
		MaxOverlap: DefaultMaxOverlap,
		IsCode:     true,
	}
}

// Split divides body into a finite, restartable sequence of chunks whose
// concatenation (modulo overlap duplication) covers every byte of body.
// Boundaries inside a fenced code block (```...```) are never used as split
// points; chunks prefer paragraph, then sentence, boundaries near the
// target size. When no usable boundary falls within [MinSize, MaxSize] of
// the chunk start, the chunk is hard-cut at TargetSize, and that cut is not
// fence-aware.
func Split(body string, opts Options) []Chunk {
	if strings.TrimSpace(body) == "" {
		return nil
	}

	boundaries := candidateBoundaries(body, opts)

	var chunks []Chunk
	start := 0
	ordinal := 0
	for start < len(body) {
		end := pickEnd(body, start, boundaries, opts)
		text := body[start:end]
		chunks = append(chunks, Chunk{
			Ordinal:   ordinal,
			Text:      text,
			ByteStart: start,
			ByteEnd:   end,
		})
		ordinal++

		if end >= len(body) {
			break
		}

		// Overlap: back up by up to MaxOverlap bytes, but never before
		// the start of the chunk we just emitted and never mid-rune.
		overlapStart := end - opts.MaxOverlap
		if overlapStart < start {
			overlapStart = start
		}
		next := snapToRuneBoundary(body, overlapStart)
		if next <= start {
			// Degenerate (MaxOverlap >= chunk length): advance without overlap.
			next = end
		}
		start = next
	}

	return chunks
}

// pickEnd chooses the end offset for a chunk starting at start, preferring a
// paragraph boundary, then a sentence boundary, within [MinSize, MaxSize] of
// start, and never inside a fenced code block.
func pickEnd(body string, start int, boundaries []int, opts Options) int {
	limit := start + opts.MaxSize
	if limit >= len(body) {
		return len(body)
	}

	target := start + opts.TargetSize
	minEnd := start + opts.MinSize

	best := -1
	bestDist := -1
	for _, b := range boundaries {
		if b <= start || b > limit || b < minEnd {
			continue
		}
		dist := b - target
		if dist < 0 {
			dist = -dist
		}
		if best == -1 || dist < bestDist {
			best = b
			bestDist = dist
		}
	}
	if best != -1 {
		return best
	}

	// No boundary in range: hard-cut at the target size, snapped to a rune
	// boundary so we never split a multi-byte UTF-8 sequence.
	cut := target
	if cut > limit {
		cut = limit
	}
	if cut >= len(body) {
		return len(body)
	}
	return snapToRuneBoundary(body, cut)
}

// candidateBoundaries finds offsets immediately after blank lines (paragraph
// breaks) and sentence-ending punctuation, excluding anything inside a
// fenced code block.
func candidateBoundaries(body string, opts Options) []int {
	inFence := false
	var boundaries []int

	lineStart := 0
	for i := 0; i <= len(body); i++ {
		if i == len(body) || body[i] == '\n' {
			line := body[lineStart:i]
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
				inFence = !inFence
			} else if !inFence {
				if opts.IsCode {
					if trimmed == "" {
						boundaries = append(boundaries, i+1)
					}
				} else {
					if trimmed == "" {
						boundaries = append(boundaries, i+1)
					} else {
						boundaries = append(boundaries, sentenceBoundaries(line, lineStart)...)
					}
				}
			}
			lineStart = i + 1
		}
	}
	return boundaries
}

// sentenceBoundaries returns offsets just after `. `, `! `, or `? ` within a
// single line, relative to the whole document via lineOffset.
func sentenceBoundaries(line string, lineOffset int) []int {
	var out []int
	for i := 0; i < len(line)-1; i++ {
		c := line[i]
		if (c == '.' || c == '!' || c == '?') && line[i+1] == ' ' {
			out = append(out, lineOffset+i+2)
		}
	}
	return out
}

func snapToRuneBoundary(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && isUTF8Continuation(s[i]) {
		i--
	}
	return i
}

func isUTF8Continuation(b byte) bool {
	return b&0xC0 == 0x80
}
