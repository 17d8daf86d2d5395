package cad

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// tag is one DXF group-code/value pair. DXF's ASCII wire format is a
// sequence of these: the group code on its own line, the value on the
// next line.
type tag struct {
	code  int
	value string
}

// rawEntity is an unparsed DXF entity: its type name plus every tag that
// belongs to it, in file order.
type rawEntity struct {
	dxfType string
	tags    []tag
}

func (e rawEntity) str(code int) (string, bool) {
	for _, t := range e.tags {
		if t.code == code {
			return t.value, true
		}
	}
	return "", false
}

func (e rawEntity) strs(code int) []string {
	var out []string
	for _, t := range e.tags {
		if t.code == code {
			out = append(out, t.value)
		}
	}
	return out
}

func (e rawEntity) float(code int, def float64) float64 {
	v, ok := e.str(code)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

func (e rawEntity) floats(code int) []float64 {
	var out []float64
	for _, v := range e.strs(code) {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (e rawEntity) layer() string {
	if v, ok := e.str(8); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return "0"
}

// document is a minimally parsed DXF file: the entities in model space
// (ENTITIES section) and the block definitions (BLOCKS section) that
// INSERT entities reference.
type document struct {
	entities []rawEntity
	blocks   map[string][]rawEntity
}

func readTags(r io.Reader) ([]tag, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var tags []tag
	for scanner.Scan() {
		codeLine := strings.TrimSpace(scanner.Text())
		if !scanner.Scan() {
			break
		}
		valueLine := scanner.Text()
		code, err := strconv.Atoi(codeLine)
		if err != nil {
			continue
		}
		tags = append(tags, tag{code: code, value: valueLine})
	}
	return tags, scanner.Err()
}

// parseDocument reads a DXF byte stream and extracts raw entities from the
// ENTITIES and BLOCKS sections. Unrecognized sections (HEADER, TABLES,
// CLASSES, OBJECTS, ...) are skipped entirely; this parser only needs
// geometry and does not round-trip the file.
func parseDocument(r io.Reader) (*document, error) {
	tags, err := readTags(r)
	if err != nil {
		return nil, err
	}

	doc := &document{blocks: map[string][]rawEntity{}}

	i := 0
	for i < len(tags) {
		t := tags[i]
		if t.code == 0 && t.value == "SECTION" && i+1 < len(tags) && tags[i+1].code == 2 {
			name := tags[i+1].value
			i += 2
			switch name {
			case "ENTITIES":
				ents, next := parseEntities(tags, i)
				doc.entities = append(doc.entities, ents...)
				i = next
			case "BLOCKS":
				next := parseBlocks(tags, i, doc.blocks)
				i = next
			default:
				i = skipSection(tags, i)
			}
			continue
		}
		i++
	}

	return doc, nil
}

// skipSection advances past tags until the matching ENDSEC.
func skipSection(tags []tag, i int) int {
	for i < len(tags) {
		if tags[i].code == 0 && tags[i].value == "ENDSEC" {
			return i + 1
		}
		i++
	}
	return i
}

// parseEntities reads entities (0/<TYPE> ... tags ...) until ENDSEC.
func parseEntities(tags []tag, i int) ([]rawEntity, int) {
	var out []rawEntity
	var cur *rawEntity

	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	for i < len(tags) {
		t := tags[i]
		if t.code == 0 {
			if t.value == "ENDSEC" {
				flush()
				return out, i + 1
			}
			flush()
			cur = &rawEntity{dxfType: t.value}
			i++
			continue
		}
		if cur != nil {
			cur.tags = append(cur.tags, t)
		}
		i++
	}
	flush()
	return out, i
}

// parseBlocks reads BLOCK ... ENDBLK groups, keyed by block name (code 2
// on the BLOCK entity), collecting the entities each block contains.
func parseBlocks(tags []tag, i int, blocks map[string][]rawEntity) int {
	var blockName string
	var blockEntities []rawEntity
	inBlock := false
	var cur *rawEntity

	flushEntity := func() {
		if cur != nil {
			blockEntities = append(blockEntities, *cur)
			cur = nil
		}
	}

	for i < len(tags) {
		t := tags[i]
		if t.code == 0 {
			switch t.value {
			case "ENDSEC":
				flushEntity()
				if inBlock && blockName != "" {
					blocks[blockName] = blockEntities
				}
				return i + 1
			case "BLOCK":
				flushEntity()
				inBlock = true
				blockName = ""
				blockEntities = nil
				i++
				for i < len(tags) && tags[i].code != 0 {
					if tags[i].code == 2 && blockName == "" {
						blockName = tags[i].value
					}
					i++
				}
				continue
			case "ENDBLK":
				flushEntity()
				if blockName != "" {
					blocks[blockName] = blockEntities
				}
				inBlock = false
				i++
				continue
			default:
				flushEntity()
				if inBlock {
					cur = &rawEntity{dxfType: t.value}
				}
				i++
				continue
			}
		}
		if cur != nil {
			cur.tags = append(cur.tags, t)
		}
		i++
	}
	return i
}
