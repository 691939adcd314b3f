package slides

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var slidePart = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// ExtractTexts returns one entry per slide in presentation order. Each entry
// holds the non-blank text of the slide's shapes, one shape per line.
func ExtractTexts(pptxPath string) ([]string, error) {
	r, err := zip.OpenReader(pptxPath)
	if err != nil {
		return nil, fmt.Errorf("open pptx: %w", err)
	}
	defer r.Close()

	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		files[f.Name] = f
	}

	order, err := slideOrder(files)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(order))
	for _, name := range order {
		f, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("%s not found in archive", name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		text, err := slideText(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}

type presentation struct {
	Slides []struct {
		RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sldIdLst>sldId"`
}

type relationships struct {
	Rels []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// slideOrder follows presentation.xml's slide list. Archives without one fall
// back to the numeric order of the slide parts.
func slideOrder(files map[string]*zip.File) ([]string, error) {
	pres, okP := files["ppt/presentation.xml"]
	rels, okR := files["ppt/_rels/presentation.xml.rels"]
	if !okP || !okR {
		return numericOrder(files), nil
	}

	var p presentation
	if err := decodePart(pres, &p); err != nil {
		return nil, fmt.Errorf("parse presentation.xml: %w", err)
	}
	var rs relationships
	if err := decodePart(rels, &rs); err != nil {
		return nil, fmt.Errorf("parse presentation rels: %w", err)
	}

	targets := make(map[string]string, len(rs.Rels))
	for _, rel := range rs.Rels {
		targets[rel.ID] = rel.Target
	}

	order := make([]string, 0, len(p.Slides))
	for _, s := range p.Slides {
		target, ok := targets[s.RID]
		if !ok {
			return nil, fmt.Errorf("slide relationship %s not found", s.RID)
		}
		if strings.HasPrefix(target, "/") {
			order = append(order, strings.TrimPrefix(target, "/"))
		} else {
			order = append(order, path.Clean(path.Join("ppt", target)))
		}
	}
	return order, nil
}

func numericOrder(files map[string]*zip.File) []string {
	type part struct {
		n    int
		name string
	}
	var parts []part
	for name := range files {
		m := slidePart.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		parts = append(parts, part{n: n, name: name})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })

	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.name
	}
	return out
}

func decodePart(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(rc).Decode(v)
}

// slideText walks DrawingML text bodies: <a:t> runs form paragraphs (<a:p>),
// paragraphs form a shape's text (<p:txBody>).
func slideText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		shapes []string
		paras  []string
		cur    strings.Builder
		inBody bool
		inRun  bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "txBody":
				inBody = true
				paras = paras[:0]
			case "p":
				if inBody {
					cur.Reset()
				}
			case "t":
				inRun = inBody
			}
		case xml.CharData:
			if inRun {
				cur.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inRun = false
			case "p":
				if inBody {
					paras = append(paras, cur.String())
				}
			case "txBody":
				inBody = false
				if text := strings.TrimSpace(strings.Join(paras, "\n")); text != "" {
					shapes = append(shapes, text)
				}
			}
		}
	}
	return strings.Join(shapes, "\n"), nil
}
