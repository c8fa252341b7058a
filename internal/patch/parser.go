// Package patch parses and applies the file-oriented patch documents
// accepted by the apply_patch tool.
package patch

import (
	"fmt"
	"strings"
)

const (
	beginPatchMarker = "*** Begin Patch"
	endPatchMarker   = "*** End Patch"
	addFileMarker    = "*** Add File: "
	deleteFileMarker = "*** Delete File: "
	updateFileMarker = "*** Update File: "
	moveToMarker     = "*** Move to: "
	endOfFileMarker  = "*** End of File"
	emptyContext     = "@@"
	contextPrefix    = "@@ "
)

// HunkKind identifies the file operation of a hunk
type HunkKind int

const (
	AddFile HunkKind = iota
	DeleteFile
	UpdateFile
)

func (k HunkKind) String() string {
	switch k {
	case AddFile:
		return "add"
	case DeleteFile:
		return "delete"
	case UpdateFile:
		return "update"
	default:
		return "unknown"
	}
}

// Hunk is one file operation in a patch
type Hunk struct {
	Kind HunkKind
	Path string
	// Contents is the full text of an added file
	Contents string
	// MovePath is the rename target of an update, empty when not moved
	MovePath string
	Chunks   []Chunk
}

// Chunk is one @@ section of an update
type Chunk struct {
	// Context is the text after "@@ ", used to narrow the search position
	Context    string
	HasContext bool
	OldLines   []string
	NewLines   []string
	// EndOfFile anchors the chunk to the end of the file
	EndOfFile bool
}

// ParseError describes a malformed patch document
type ParseError struct {
	// Line is the 1-based line of the offending hunk, 0 for envelope errors
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return "invalid patch: " + e.Message
	}
	return fmt.Sprintf("invalid hunk at line %d, %s", e.Line, e.Message)
}

func invalidPatch(format string, args ...any) *ParseError {
	return &ParseError{Message: fmt.Sprintf(format, args...)}
}

func invalidHunk(line int, format string, args ...any) *ParseError {
	return &ParseError{Line: line, Message: fmt.Sprintf(format, args...)}
}

// Parse splits a patch document into hunks
func Parse(text string) ([]Hunk, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}

	if strings.TrimSpace(lines[0]) != beginPatchMarker {
		return nil, invalidPatch("The first line of the patch must be '%s'", beginPatchMarker)
	}
	if len(lines) < 2 || strings.TrimSpace(lines[len(lines)-1]) != endPatchMarker {
		return nil, invalidPatch("The last line of the patch must be '%s'", endPatchMarker)
	}

	body := lines[1 : len(lines)-1]
	lineNumber := 2
	var hunks []Hunk
	for len(body) > 0 {
		hunk, consumed, err := parseHunk(body, lineNumber)
		if err != nil {
			return nil, err
		}
		hunks = append(hunks, hunk)
		body = body[consumed:]
		lineNumber += consumed
	}
	return hunks, nil
}

// parseHunk parses the hunk starting at lines[0] and reports how many lines it used
func parseHunk(lines []string, lineNumber int) (Hunk, int, error) {
	header := strings.TrimSpace(lines[0])

	if path, ok := strings.CutPrefix(header, addFileMarker); ok {
		var contents strings.Builder
		consumed := 1
		for _, line := range lines[1:] {
			added, ok := strings.CutPrefix(line, "+")
			if !ok {
				break
			}
			contents.WriteString(added)
			contents.WriteByte('\n')
			consumed++
		}
		return Hunk{Kind: AddFile, Path: path, Contents: contents.String()}, consumed, nil
	}

	if path, ok := strings.CutPrefix(header, deleteFileMarker); ok {
		return Hunk{Kind: DeleteFile, Path: path}, 1, nil
	}

	if path, ok := strings.CutPrefix(header, updateFileMarker); ok {
		hunk := Hunk{Kind: UpdateFile, Path: path}
		remaining := lines[1:]
		consumed := 1

		if len(remaining) > 0 {
			if target, ok := strings.CutPrefix(remaining[0], moveToMarker); ok {
				hunk.MovePath = target
				remaining = remaining[1:]
				consumed++
			}
		}

		for len(remaining) > 0 {
			// blank lines may separate chunks
			if strings.TrimSpace(remaining[0]) == "" {
				remaining = remaining[1:]
				consumed++
				continue
			}
			if strings.HasPrefix(remaining[0], "***") {
				break
			}
			chunk, used, err := parseChunk(remaining, lineNumber+consumed, len(hunk.Chunks) == 0)
			if err != nil {
				return Hunk{}, 0, err
			}
			hunk.Chunks = append(hunk.Chunks, chunk)
			remaining = remaining[used:]
			consumed += used
		}

		if len(hunk.Chunks) == 0 {
			return Hunk{}, 0, invalidHunk(lineNumber, "Update file hunk for path '%s' is empty", path)
		}
		return hunk, consumed, nil
	}

	return Hunk{}, 0, invalidHunk(lineNumber,
		"'%s' is not a valid hunk header. Valid hunk headers: '%s{path}', '%s{path}', '%s{path}'",
		header, addFileMarker, deleteFileMarker, updateFileMarker)
}

// parseChunk parses one @@ section. The first chunk of an update may omit
// the @@ line.
func parseChunk(lines []string, lineNumber int, allowMissingContext bool) (Chunk, int, error) {
	var chunk Chunk
	start := 0

	switch {
	case lines[0] == emptyContext:
		start = 1
	case strings.HasPrefix(lines[0], contextPrefix):
		chunk.Context = strings.TrimPrefix(lines[0], contextPrefix)
		chunk.HasContext = true
		start = 1
	case !allowMissingContext:
		return Chunk{}, 0, invalidHunk(lineNumber, "Expected update hunk to start with a @@ context marker, got: '%s'", lines[0])
	}

	if start >= len(lines) {
		return Chunk{}, 0, invalidHunk(lineNumber+1, "Update hunk does not contain any lines")
	}

	parsed := 0
	for _, line := range lines[start:] {
		if line == endOfFileMarker {
			if parsed == 0 {
				return Chunk{}, 0, invalidHunk(lineNumber+1, "Update hunk does not contain any lines")
			}
			chunk.EndOfFile = true
			parsed++
			break
		}

		if line == "" {
			chunk.OldLines = append(chunk.OldLines, "")
			chunk.NewLines = append(chunk.NewLines, "")
			parsed++
			continue
		}

		switch line[0] {
		case ' ':
			chunk.OldLines = append(chunk.OldLines, line[1:])
			chunk.NewLines = append(chunk.NewLines, line[1:])
		case '+':
			chunk.NewLines = append(chunk.NewLines, line[1:])
		case '-':
			chunk.OldLines = append(chunk.OldLines, line[1:])
		default:
			if parsed == 0 {
				return Chunk{}, 0, invalidHunk(lineNumber+1,
					"Unexpected line found in update hunk: '%s'. Every line should start with ' ' (context line), '+' (added line), or '-' (removed line)", line)
			}
			// start of the next chunk or hunk
			return chunk, parsed + start, nil
		}
		parsed++
	}

	return chunk, parsed + start, nil
}
