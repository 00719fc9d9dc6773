// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"encoding/xml"
	"regexp"
	"strings"
)

const xmpPacketMarker = "<x:xmpmeta"

var (
	xmpPacketRe      = regexp.MustCompile(`(?is)<x:xmpmeta.*?</x:xmpmeta>`)
	xmpDescriptionRe = regexp.MustCompile(`(?is)<rdf:Description[^>]*>(.*?)</rdf:Description>`)
	xmpParametersRe  = regexp.MustCompile(`(?is)<parameters>(.*?)</parameters>`)
)

type rdf struct {
	XMLName      xml.Name
	Descriptions []rdfDescription `xml:"Description"`
}

// The generators store the parameter blob either as an attribute
// or as one of these child elements.
type rdfDescription struct {
	XMLName     xml.Name
	Attrs       []xml.Attr `xml:",any,attr"`
	Parameters  string     `xml:"parameters"`
	UserComment altList    `xml:"UserComment"`
	Description altList    `xml:"description"`
}

type altList struct {
	XMLName xml.Name
	Alt     struct {
		Items []string `xml:"li"`
	} `xml:"Alt"`
}

type xmpmeta struct {
	XMLName xml.Name
	RDF     rdf `xml:"RDF"`
}

// xmpParameterAttrs are the attribute names checked, in order, on a
// self-closing rdf:Description.
var xmpParameterAttrs = []string{"parameters", "UserComment", "description"}

// findXMP returns the first XMP packet in b, or an empty string.
func findXMP(b []byte) string {
	loc := xmpPacketRe.FindIndex(b)
	if loc == nil {
		return ""
	}
	return decodeText(b[loc[0]:loc[1]])
}

// xmpParameterText extracts the parameter blob from an XMP packet with all
// markup removed: the content of the first rdf:Description element, else of
// a <parameters> element, else a known attribute or child element.
func xmpParameterText(packet string) string {
	if m := xmpDescriptionRe.FindStringSubmatch(packet); m != nil {
		if s := stripMarkup(m[1]); s != "" {
			return s
		}
	}
	if m := xmpParametersRe.FindStringSubmatch(packet); m != nil {
		if s := stripMarkup(m[1]); s != "" {
			return s
		}
	}

	var meta xmpmeta
	if err := xml.Unmarshal([]byte(packet), &meta); err != nil {
		return ""
	}
	for _, desc := range meta.RDF.Descriptions {
		for _, name := range xmpParameterAttrs {
			for _, attr := range desc.Attrs {
				if attr.Name.Local == name {
					if s := strings.TrimSpace(attr.Value); s != "" {
						return s
					}
				}
			}
		}
		if s := strings.TrimSpace(desc.Parameters); s != "" {
			return s
		}
		for _, items := range [][]string{desc.UserComment.Alt.Items, desc.Description.Alt.Items} {
			if len(items) > 0 {
				if s := strings.TrimSpace(items[0]); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// applyXMP stores the packet and merges its parameter blob.
// Prompt and negative set by an earlier source are kept.
func (r *Record) applyXMP(packet string) {
	if r.XMP == "" {
		r.XMP = packet
	}
	if s := xmpParameterText(packet); s != "" {
		r.merge(ParseParameters(s))
	}
}
