package coap

import (
	"strings"
)

// LinkAttr is one "parmname[=parmvalue]" attribute of a link-format entry.
type LinkAttr struct {
	Name   string
	Value  string // empty when the attribute carries no value
	Quoted bool   // true if the source wrapped Value in double quotes
}

// Link is one "<relative-ref>;attr;attr=..." entry of a link-format
// document (RFC 6690).
type Link struct {
	Target string
	Attrs  []LinkAttr
}

// String renders l in RFC 6690 syntax.
func (l Link) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(l.Target)
	b.WriteByte('>')
	for _, a := range l.Attrs {
		b.WriteByte(';')
		b.WriteString(a.Name)
		if a.Value != "" {
			b.WriteByte('=')
			if a.Quoted || needsQuoting(a.Value) {
				b.WriteByte('"')
				b.WriteString(a.Value)
				b.WriteByte('"')
			} else {
				b.WriteString(a.Value)
			}
		}
	}
	return b.String()
}

func needsQuoting(v string) bool {
	return strings.ContainsAny(v, " \t")
}

// EncodeLinkFormat joins links with commas, the wire form
// WriteDiscovery hands to a response payload.
func EncodeLinkFormat(links []Link) string {
	parts := make([]string, len(links))
	for i, l := range links {
		parts[i] = l.String()
	}
	return strings.Join(parts, ",")
}

// ParseLinkFormat is the inverse of EncodeLinkFormat: entries split on
// commas, attributes within an entry split on semicolons, with separators
// inside double quotes ignored. An attribute's value is kept as one string
// (its surrounding quotes removed); it is not split on spaces.
func ParseLinkFormat(s string) ([]Link, error) {
	var links []Link
	for _, entry := range splitTopLevel(s, ',') {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		link, err := parseLinkEntry(entry)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

func parseLinkEntry(entry string) (Link, error) {
	var link Link
	parts := splitTopLevel(entry, ';')
	if len(parts) == 0 {
		return link, newErr(ErrInvalidData, "empty link-format entry")
	}
	target := strings.TrimSpace(parts[0])
	if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
		return link, newErr(ErrInvalidData, "link target missing angle brackets")
	}
	link.Target = target[1 : len(target)-1]

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		if eq := strings.IndexByte(attr, '='); eq >= 0 {
			name := attr[:eq]
			value := attr[eq+1:]
			value = strings.TrimSpace(value)
			quoted := false
			if strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) && len(value) >= 2 {
				value = value[1 : len(value)-1]
				quoted = true
			}
			link.Attrs = append(link.Attrs, LinkAttr{Name: name, Value: value, Quoted: quoted})
		} else {
			link.Attrs = append(link.Attrs, LinkAttr{Name: attr})
		}
	}
	return link, nil
}

// splitTopLevel splits s on sep, honoring double-quoted spans so that a
// separator inside quotes does not end the current field.
func splitTopLevel(s string, sep byte) []string {
	var fields []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case sep:
			if !inQuotes {
				fields = append(fields, s[start:i])
				start = i + 1
			}
		}
	}
	fields = append(fields, s[start:])
	return fields
}
