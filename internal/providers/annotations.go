package providers

import (
	"encoding/json"
	"sort"
)

// Annotation is a citation attached to generated text.
type Annotation struct {
	Type         string        `json:"type"`
	Text         string        `json:"text,omitempty"`
	StartIndex   *int          `json:"start_index,omitempty"`
	EndIndex     *int          `json:"end_index,omitempty"`
	Index        *int          `json:"index,omitempty"`
	FileCitation *FileCitation `json:"file_citation,omitempty"`
	FilePath     *FilePath     `json:"file_path,omitempty"`
}

// FileCitation identifies the file a span was drawn from.
type FileCitation struct {
	FileID   string `json:"file_id,omitempty"`
	Quote    string `json:"quote,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// FilePath references a generated file.
type FilePath struct {
	FileID string `json:"file_id,omitempty"`
}

// FileID returns the cited file id, if any.
func (a Annotation) FileID() string {
	if a.FileCitation != nil && a.FileCitation.FileID != "" {
		return a.FileCitation.FileID
	}
	if a.FilePath != nil {
		return a.FilePath.FileID
	}
	return ""
}

// FileIDs returns the distinct file ids cited by the annotations, sorted.
func FileIDs(annotations []Annotation) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, a := range annotations {
		id := a.FileID()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type annotatedOutput struct {
	Output []annotatedItem `json:"output"`
}

type annotatedItem struct {
	Type        string            `json:"type"`
	Content     json.RawMessage   `json:"content"`
	Annotations []json.RawMessage `json:"annotations"`
	Text        json.RawMessage   `json:"text"`
}

type annotatedContent struct {
	Type        string            `json:"type"`
	Annotations []json.RawMessage `json:"annotations"`
}

type annotatedText struct {
	Annotations []json.RawMessage `json:"annotations"`
}

type rawAnnotation struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	StartIndex   *int          `json:"start_index"`
	EndIndex     *int          `json:"end_index"`
	Index        *int          `json:"index"`
	FileID       string        `json:"file_id"`
	Filename     string        `json:"filename"`
	Quote        string        `json:"quote"`
	FileCitation *FileCitation `json:"file_citation"`
	FilePath     *FilePath     `json:"file_path"`
}

// ExtractAnnotations collects citations from a Responses API body.
//
// Annotations are read from output_text content of message items. Older
// shapes with annotations on the item itself or under item.text are also
// accepted. Malformed entries are skipped.
func ExtractAnnotations(raw json.RawMessage) []Annotation {
	if len(raw) == 0 {
		return nil
	}
	var body annotatedOutput
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}

	var out []Annotation
	add := func(list []json.RawMessage) {
		for _, entry := range list {
			if a, ok := parseAnnotation(entry); ok {
				out = append(out, a)
			}
		}
	}

	for _, item := range body.Output {
		switch {
		case item.Type == "message":
			var contents []annotatedContent
			if json.Unmarshal(item.Content, &contents) != nil {
				continue
			}
			for _, c := range contents {
				if c.Type == "output_text" {
					add(c.Annotations)
				}
			}
		case len(item.Annotations) > 0:
			add(item.Annotations)
		case len(item.Text) > 0:
			var text annotatedText
			if json.Unmarshal(item.Text, &text) == nil {
				add(text.Annotations)
			}
		}
	}
	return out
}

func parseAnnotation(entry json.RawMessage) (Annotation, bool) {
	var s string
	if json.Unmarshal(entry, &s) == nil {
		if s == "" {
			return Annotation{}, false
		}
		return Annotation{Type: "text", Text: s}, true
	}

	var ra rawAnnotation
	if err := json.Unmarshal(entry, &ra); err != nil || ra.Type == "" {
		return Annotation{}, false
	}

	a := Annotation{
		Type:       ra.Type,
		Text:       ra.Text,
		StartIndex: ra.StartIndex,
		EndIndex:   ra.EndIndex,
		Index:      ra.Index,
	}

	switch {
	case ra.Type == "file_citation" && ra.FileID != "":
		a.FileCitation = &FileCitation{FileID: ra.FileID, Filename: ra.Filename, Quote: ra.Quote}
		if a.Index != nil && a.StartIndex == nil {
			start, end := *a.Index, *a.Index+1
			a.StartIndex, a.EndIndex = &start, &end
		}
	case ra.FileCitation != nil:
		fc := *ra.FileCitation
		a.FileCitation = &fc
	}

	if ra.FilePath != nil {
		fp := *ra.FilePath
		a.FilePath = &fp
	}
	return a, true
}
