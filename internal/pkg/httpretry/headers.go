package httpretry

import (
	"net/textproto"
	"strings"
)

// HeaderSource looks up a response header by case-insensitive name.
type HeaderSource interface {
	Header(name string) (string, bool)
}

// MapHeaders adapts a flat name to value map.
type MapHeaders map[string]string

func (h MapHeaders) Header(name string) (string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// ListHeaders adapts a name to values map and returns the first value.
type ListHeaders map[string][]string

func (h ListHeaders) Header(name string) (string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return strings.TrimSpace(v[0]), true
		}
	}
	return "", false
}

type headerGetter interface {
	Get(name string) string
}

type headerValuer interface {
	Values(name string) []string
}

// GetterHeaders adapts any value with a Get(name) string method.
type GetterHeaders struct {
	Getter headerGetter
}

func (h GetterHeaders) Header(name string) (string, bool) {
	if h.Getter == nil {
		return "", false
	}
	v := strings.TrimSpace(h.Getter.Get(name))
	if v == "" {
		v = strings.TrimSpace(h.Getter.Get(textproto.CanonicalMIMEHeaderKey(name)))
	}
	return v, v != ""
}

// ValuesHeaders adapts message types that expose Values(name) []string,
// such as http.Header.
type ValuesHeaders struct {
	Valuer headerValuer
}

func (h ValuesHeaders) Header(name string) (string, bool) {
	if h.Valuer == nil {
		return "", false
	}
	values := h.Valuer.Values(textproto.CanonicalMIMEHeaderKey(name))
	if len(values) == 0 {
		values = h.Valuer.Values(name)
	}
	if len(values) == 0 {
		return "", false
	}
	return strings.TrimSpace(values[0]), true
}

// RawHeaders adapts a raw header blob ("Name: value" per line).
type RawHeaders string

func (h RawHeaders) Header(name string) (string, bool) {
	for _, line := range strings.Split(string(h), "\n") {
		key, value, ok := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

type noHeaders struct{}

func (noHeaders) Header(string) (string, bool) { return "", false }

// HeadersFrom picks an adapter for v by probing what it can do. Unknown
// shapes yield a source without headers.
func HeadersFrom(v any) HeaderSource {
	switch h := v.(type) {
	case nil:
		return noHeaders{}
	case HeaderSource:
		return h
	case headerValuer:
		return ValuesHeaders{Valuer: h}
	case headerGetter:
		return GetterHeaders{Getter: h}
	case map[string]string:
		return MapHeaders(h)
	case map[string][]string:
		return ListHeaders(h)
	case map[string]any:
		flat := make(MapHeaders, len(h))
		for k, raw := range h {
			switch val := raw.(type) {
			case string:
				flat[k] = val
			case []string:
				if len(val) > 0 {
					flat[k] = val[0]
				}
			}
		}
		return flat
	case string:
		return RawHeaders(h)
	case []byte:
		return RawHeaders(string(h))
	default:
		return noHeaders{}
	}
}
