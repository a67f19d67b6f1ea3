package plist

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n"

	// uidKey marks the single-entry dictionary form a UID takes in XML.
	uidKey = "CF$UID"
)

// encodeXML serializes v as a PLIST 1.0 XML document.
func encodeXML(v *Value) ([]byte, error) {
	if v == nil {
		v = New()
	}
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.WriteString("<plist version=\"1.0\">\n")
	writeXMLValue(&buf, v, 0)
	buf.WriteString("</plist>\n")
	return buf.Bytes(), nil
}

func writeXMLValue(buf *bytes.Buffer, v *Value, depth int) {
	indent := strings.Repeat("\t", depth)
	switch v.typ {
	case TypeNone:
		buf.WriteString(indent + "<null/>\n")
	case TypeBoolean:
		if v.b {
			buf.WriteString(indent + "<true/>\n")
		} else {
			buf.WriteString(indent + "<false/>\n")
		}
	case TypeUint:
		fmt.Fprintf(buf, "%s<integer>%d</integer>\n", indent, v.u)
	case TypeReal:
		fmt.Fprintf(buf, "%s<real>%s</real>\n", indent, strconv.FormatFloat(v.f, 'g', -1, 64))
	case TypeString, TypeKey:
		fmt.Fprintf(buf, "%s<string>%s</string>\n", indent, escapeXML(v.s))
	case TypeDate:
		t, _ := v.AsDate()
		fmt.Fprintf(buf, "%s<date>%s</date>\n", indent, t.UTC().Format("2006-01-02T15:04:05Z"))
	case TypeData:
		fmt.Fprintf(buf, "%s<data>%s</data>\n", indent, base64.StdEncoding.EncodeToString(v.data))
	case TypeUID:
		buf.WriteString(indent + "<dict>\n")
		fmt.Fprintf(buf, "%s\t<key>%s</key>\n", indent, uidKey)
		fmt.Fprintf(buf, "%s\t<integer>%d</integer>\n", indent, v.u)
		buf.WriteString(indent + "</dict>\n")
	case TypeArray:
		if len(v.arr) == 0 {
			buf.WriteString(indent + "<array/>\n")
			return
		}
		buf.WriteString(indent + "<array>\n")
		for _, c := range v.arr {
			writeXMLValue(buf, c, depth+1)
		}
		buf.WriteString(indent + "</array>\n")
	case TypeDict:
		if len(v.keys) == 0 {
			buf.WriteString(indent + "<dict/>\n")
			return
		}
		buf.WriteString(indent + "<dict>\n")
		for _, k := range v.keys {
			fmt.Fprintf(buf, "%s\t<key>%s</key>\n", indent, escapeXML(k))
			writeXMLValue(buf, v.dict[k], depth+1)
		}
		buf.WriteString(indent + "</dict>\n")
	}
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// decodeXML parses a PLIST 1.0 XML document. The <plist> wrapper element
// is accepted but not required.
func decodeXML(data []byte) (*Value, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	start, err := nextStartElement(dec)
	if err != nil {
		return nil, &FormatError{Format: FormatXML, Msg: "no root element", Err: err}
	}
	if start.Name.Local == "plist" {
		start, err = nextStartElement(dec)
		if err != nil {
			return nil, &FormatError{Format: FormatXML, Msg: "empty plist element", Err: err}
		}
	}
	v, err := parseXMLElement(dec, start, 0)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// nextStartElement skips non-element tokens until the next StartElement.
func nextStartElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

func parseXMLElement(dec *xml.Decoder, start xml.StartElement, depth int) (*Value, error) {
	if depth > maxObjectDepth {
		return nil, formatErr(FormatXML, "element nesting exceeds %d levels", maxObjectDepth)
	}
	switch start.Name.Local {
	case "null":
		if err := consumeElement(dec, start); err != nil {
			return nil, err
		}
		return New(), nil

	case "true", "false":
		if err := consumeElement(dec, start); err != nil {
			return nil, err
		}
		return NewBool(start.Name.Local == "true"), nil

	case "integer":
		text, err := elementText(dec)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		if strings.HasPrefix(text, "-") {
			i, err := strconv.ParseInt(text, 10, 64)
			if err != nil {
				return nil, &FormatError{Format: FormatXML, Msg: "invalid integer " + strconv.Quote(text), Err: err}
			}
			return NewUint(uint64(i)), nil
		}
		u, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return nil, &FormatError{Format: FormatXML, Msg: "invalid integer " + strconv.Quote(text), Err: err}
		}
		return NewUint(u), nil

	case "real":
		text, err := elementText(dec)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, &FormatError{Format: FormatXML, Msg: "invalid real " + strconv.Quote(text), Err: err}
		}
		return NewReal(f), nil

	case "string":
		text, err := elementText(dec)
		if err != nil {
			return nil, err
		}
		return NewString(text), nil

	case "date":
		text, err := elementText(dec)
		if err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(text))
		if err != nil {
			return nil, &FormatError{Format: FormatXML, Msg: "invalid date " + strconv.Quote(text), Err: err}
		}
		return NewDateFromTime(t), nil

	case "data":
		text, err := elementText(dec)
		if err != nil {
			return nil, err
		}
		text = strings.Map(func(r rune) rune {
			if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
				return -1
			}
			return r
		}, text)
		raw, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil, &FormatError{Format: FormatXML, Msg: "invalid base64 data", Err: err}
		}
		return NewData(raw), nil

	case "array":
		arr := NewArray()
		for {
			tok, err := dec.Token()
			if err != nil {
				return nil, &FormatError{Format: FormatXML, Msg: "unterminated array", Err: err}
			}
			switch t := tok.(type) {
			case xml.StartElement:
				child, err := parseXMLElement(dec, t, depth+1)
				if err != nil {
					return nil, err
				}
				arr.Append(child)
			case xml.EndElement:
				return arr, nil
			}
		}

	case "dict":
		dict := NewDict()
		for {
			tok, err := dec.Token()
			if err != nil {
				return nil, &FormatError{Format: FormatXML, Msg: "unterminated dict", Err: err}
			}
			switch t := tok.(type) {
			case xml.StartElement:
				if t.Name.Local != "key" {
					return nil, formatErr(FormatXML, "expected <key>, found <%s>", t.Name.Local)
				}
				key, err := elementText(dec)
				if err != nil {
					return nil, err
				}
				valStart, err := nextStartElement(dec)
				if err != nil {
					return nil, &FormatError{Format: FormatXML, Msg: "dict key without value", Err: err}
				}
				child, err := parseXMLElement(dec, valStart, depth+1)
				if err != nil {
					return nil, err
				}
				dict.Set(key, child)
			case xml.EndElement:
				// A single CF$UID integer entry is the XML spelling of a
				// UID node.
				if dict.Len() == 1 {
					if u, ok := dict.GetUint(uidKey); ok {
						return NewUID(u), nil
					}
				}
				return dict, nil
			}
		}

	default:
		return nil, formatErr(FormatXML, "unknown element <%s>", start.Name.Local)
	}
}

// elementText collects the character data of the current element up to
// its end tag.
func elementText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", &FormatError{Format: FormatXML, Msg: "unterminated element", Err: err}
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			return sb.String(), nil
		case xml.StartElement:
			return "", formatErr(FormatXML, "unexpected child element <%s>", t.Name.Local)
		}
	}
}

// consumeElement discards tokens up to the end tag of start.
func consumeElement(dec *xml.Decoder, start xml.StartElement) error {
	if err := dec.Skip(); err != nil {
		return &FormatError{Format: FormatXML, Msg: "unterminated <" + start.Name.Local + ">", Err: err}
	}
	return nil
}
