package commerce

import (
	"net/url"
	"strings"
)

// nextLink extracts the rel="next" target from an RFC 8288 Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		target := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, attr := range segs[1:] {
			kv := strings.SplitN(strings.TrimSpace(attr), "=", 2)
			if len(kv) != 2 || !strings.EqualFold(strings.TrimSpace(kv[0]), "rel") {
				continue
			}
			for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(kv[1]), `"`)) {
				if strings.EqualFold(rel, "next") {
					return strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
				}
			}
		}
	}
	return ""
}

// nextPageToken reduces the next link to the opaque token a caller passes back:
// the page_info cursor when present, else the page number.
func nextPageToken(header string) string {
	link := nextLink(header)
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	q := u.Query()
	if v := q.Get("page_info"); v != "" {
		return v
	}
	return q.Get("page")
}
