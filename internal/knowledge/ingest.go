package knowledge

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Chunk is one semantic unit extracted from a markdown document.
type Chunk struct {
	Section string
	Topic   string
	Content string
}

// Ingester imports markdown documents into the knowledge store.
type Ingester struct {
	store *Store
}

// NewIngester creates a markdown document ingester.
func NewIngester(store *Store) *Ingester {
	return &Ingester{store: store}
}

// IngestDir imports every .md file under dir. Returns the total entry count.
func (ing *Ingester) IngestDir(dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return 0, fmt.Errorf("glob %s: %w", dir, err)
	}

	total := 0
	for _, path := range paths {
		n, err := ing.IngestFile(path)
		if err != nil {
			return total, fmt.Errorf("ingest %s: %w", path, err)
		}
		total += n
	}
	return total, nil
}

// IngestFile reads and processes one markdown file into entries.
func (ing *Ingester) IngestFile(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return ing.ingestChunks(parseMarkdown(file), filepath.Base(path))
}

// IngestString processes markdown content from a string.
func (ing *Ingester) IngestString(content, source string) (int, error) {
	return ing.ingestChunks(parseMarkdown(strings.NewReader(content)), source)
}

func (ing *Ingester) ingestChunks(chunks []Chunk, source string) (int, error) {
	// Drop existing entries from this source so re-imports stay clean.
	_ = ing.store.DeleteBySource(source)

	count := 0
	for _, chunk := range chunks {
		if _, err := ing.store.Set(chunk.Section, chunk.Topic, chunk.Content, source); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

var (
	h1Pattern    = regexp.MustCompile(`^#\s+(.+)$`)
	h2Pattern    = regexp.MustCompile(`^##\s+(.+)$`)
	h3Pattern    = regexp.MustCompile(`^###\s+(.+)$`)
	fencePattern = regexp.MustCompile("^```")
)

// parseMarkdown splits markdown into heading-delimited chunks. H1 sets
// the section, H2/H3 set the topic, body lines accumulate as content.
func parseMarkdown(r io.Reader) []Chunk {
	var chunks []Chunk
	scanner := bufio.NewScanner(r)

	var section, h2, topic string
	var body strings.Builder

	flush := func() {
		content := strings.TrimSpace(body.String())
		if content != "" && (section != "" || topic != "") {
			t := topic
			if t == "" {
				t = section
			}
			chunks = append(chunks, Chunk{Section: section, Topic: t, Content: content})
		}
		body.Reset()
	}

	inFence := false
	for scanner.Scan() {
		line := scanner.Text()

		if fencePattern.MatchString(line) {
			inFence = !inFence
			body.WriteString(line + "\n")
			continue
		}
		if inFence {
			body.WriteString(line + "\n")
			continue
		}

		if m := h1Pattern.FindStringSubmatch(line); m != nil {
			flush()
			section = strings.TrimSpace(m[1])
			h2 = ""
			topic = ""
			continue
		}
		if m := h2Pattern.FindStringSubmatch(line); m != nil {
			flush()
			h2 = strings.TrimSpace(m[1])
			topic = h2
			continue
		}
		if m := h3Pattern.FindStringSubmatch(line); m != nil {
			flush()
			sub := strings.TrimSpace(m[1])
			if h2 != "" {
				topic = h2 + " / " + sub
			} else {
				topic = sub
			}
			continue
		}

		if line != "" || body.Len() > 0 {
			body.WriteString(line + "\n")
		}
	}

	flush()
	return chunks
}
