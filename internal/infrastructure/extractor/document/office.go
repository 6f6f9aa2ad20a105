package document

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractDOCX reads the paragraphs of word/document.xml.
func extractDOCX(path string) (string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer archive.Close()

	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}
		return readParagraphs(file)
	}
	return "", errors.New("word/document.xml not found")
}

// extractPPTX reads the text frames of every slide in slide order.
func extractPPTX(path string) (string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open pptx: %w", err)
	}
	defer archive.Close()

	type slide struct {
		number int
		file   *zip.File
	}
	var slides []slide
	for _, file := range archive.File {
		m := slidePattern.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		slides = append(slides, slide{number: n, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].number < slides[j].number })

	parts := make([]string, 0, len(slides))
	for _, s := range slides {
		text, err := readParagraphs(s.file)
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", s.number, err)
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// readParagraphs concatenates the text runs (<w:t>, <a:t>) of an OOXML part,
// one line per paragraph (<w:p>, <a:p>).
func readParagraphs(file *zip.File) (string, error) {
	rc, err := file.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var (
		out    strings.Builder
		line   strings.Builder
		inText bool
	)
	decoder := xml.NewDecoder(rc)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", file.Name, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(line.String()); s != "" {
					if out.Len() > 0 {
						out.WriteByte('\n')
					}
					out.WriteString(s)
				}
				line.Reset()
			}
		case xml.CharData:
			if inText {
				line.Write(t)
			}
		}
	}
	return out.String(), nil
}
