package dispatch

import (
	"net/url"

	"github.com/zzampax/Simple-HTTP/internal/route"
)

// parseForm decodes an application/x-www-form-urlencoded body. Pairs that
// fail to unescape keep their raw text.
func parseForm(body []byte) route.Params {
	raw := route.ParseQuery(string(body))
	out := make(route.Params, 0, len(raw))
	for _, p := range raw {
		out = append(out, route.Param{Key: unescape(p.Key), Value: unescape(p.Value)})
	}
	return out
}

func unescape(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return s
}
