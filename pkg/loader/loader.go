package loader

import (
	"bufio"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/perbu/qest/pkg/qest"
)

// Section is a heading-delimited piece of a markdown document
type Section struct {
	Path    string // File path relative to the document root
	Content string // The actual text content
	Heading string // Section heading if applicable
	Offset  int    // Character offset in original file
}

// LoadDocuments reads all markdown and text files under root
// and returns them keyed by path relative to root
func LoadDocuments(fsys fs.FS, root string) (map[string]string, error) {
	docs := make(map[string]string)

	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Skip directories
		if d.IsDir() {
			return nil
		}

		if !isSupportedFile(path) {
			return nil
		}

		// Read file content
		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		// Store with path relative to root
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			relPath = path
		}

		docs[relPath] = string(content)
		return nil
	})

	return docs, err
}

func isSupportedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt":
		return true
	default:
		return false
	}
}

// ChunkDocument splits a document into sections based on markdown headings
func ChunkDocument(path, content string) []Section {
	var sections []Section

	scanner := bufio.NewScanner(strings.NewReader(content))

	var currentHeading string
	var currentContent strings.Builder
	var currentOffset int
	lineOffset := 0

	flushSection := func() {
		text := strings.TrimSpace(currentContent.String())
		if text != "" {
			sections = append(sections, Section{
				Path:    path,
				Content: text,
				Heading: currentHeading,
				Offset:  currentOffset,
			})
		}
	}

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "#") {
			// Flush previous section before starting new one
			flushSection()

			currentHeading = strings.TrimSpace(strings.TrimLeft(line, "#"))
			currentContent.Reset()
			currentOffset = lineOffset
		} else {
			if currentContent.Len() > 0 {
				currentContent.WriteString("\n")
			}
			currentContent.WriteString(line)
		}

		lineOffset += len(line) + 1 // +1 for newline
	}

	flushSection()

	// If no sections were created (no headings), treat whole doc as one section
	if len(sections) == 0 && strings.TrimSpace(content) != "" {
		sections = append(sections, Section{
			Path:    path,
			Content: strings.TrimSpace(content),
		})
	}

	return sections
}

// Splitter breaks long sections into pieces no longer than ChunkSize runes.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultSplitter matches the sizes used for legal source text.
var DefaultSplitter = Splitter{ChunkSize: 1000, ChunkOverlap: 100}

// Split returns text unchanged when it is short enough.
func (s Splitter) Split(text string) ([]string, error) {
	if s.ChunkSize <= 0 || len([]rune(text)) <= s.ChunkSize {
		return []string{text}, nil
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(s.ChunkSize),
		textsplitter.WithChunkOverlap(s.ChunkOverlap),
	)
	return splitter.SplitText(text)
}

// ChunkAll loads every document under root, splits it into sections and
// pieces, and numbers the resulting chunks from 1 in path order.
func ChunkAll(fsys fs.FS, root string, splitter Splitter) ([]qest.Chunk, error) {
	docs, err := LoadDocuments(fsys, root)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(docs))
	for path := range docs {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var chunks []qest.Chunk
	for _, path := range paths {
		for _, section := range ChunkDocument(path, docs[path]) {
			pieces, err := splitter.Split(section.Content)
			if err != nil {
				return nil, fmt.Errorf("splitting %s: %w", path, err)
			}
			for _, piece := range pieces {
				piece = strings.TrimSpace(piece)
				if piece == "" {
					continue
				}
				if section.Heading != "" {
					piece = section.Heading + "\n\n" + piece
				}
				chunks = append(chunks, qest.Chunk{
					ID:   qest.ID(strconv.Itoa(len(chunks) + 1)),
					Text: piece,
				})
			}
		}
	}

	return chunks, nil
}
