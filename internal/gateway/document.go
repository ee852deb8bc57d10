// Package gateway fronts the scraping provider. It owns option shaping,
// the basic-to-stealth proxy fallback, response normalization, and the
// error-as-data contract: every call returns a Document that callers
// inspect instead of an error value.
package gateway

// Document is a normalized provider response. Failures are recorded
// under the "error" key rather than returned as Go errors, so a partial
// batch keeps its successful rows next to the failure note.
type Document map[string]any

// OK reports whether the call behind this document succeeded.
func (d Document) OK() bool {
	return d.Err() == ""
}

// Err returns the recorded failure message, or "" on success.
func (d Document) Err() string {
	if d == nil {
		return "empty response"
	}
	if s, ok := d["error"].(string); ok {
		return s
	}
	return ""
}

// ProxyUsed reports which proxy tier produced this document.
func (d Document) ProxyUsed() string {
	s, _ := d["proxy_used"].(string)
	return s
}

// Data returns the provider's data payload when it is a single object.
func (d Document) Data() map[string]any {
	m, _ := d["data"].(map[string]any)
	return m
}

// DataList returns the provider's data payload when it is a list, as is
// the case for crawl, batch, and search responses.
func (d Document) DataList() []map[string]any {
	raw, ok := d["data"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Links returns the discovered link list from a map response.
func (d Document) Links() []string {
	raw, ok := d["links"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			if u, ok := v["url"].(string); ok {
				out = append(out, u)
			}
		}
	}
	return out
}

func failure(msg string, proxy string) Document {
	return Document{
		"success":    false,
		"error":      msg,
		"proxy_used": proxy,
	}
}
