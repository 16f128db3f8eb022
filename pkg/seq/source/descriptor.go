package source

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
)

// StageContext is the side channel of one stage in one run.
//
// Method, DataFormat and Encryption are seeded from the RunConfig before the
// stage starts. RawBytes and Status are what the source returned. Forwarded
// holds the first stage's decoded value when this is the second stage of a
// sequence.
type StageContext struct {
	Method     Method
	DataFormat DataFormat
	Encryption *Encryption

	RawBytes []byte
	Status   int

	Forwarded    any
	HasForwarded bool
}

// Descriptor is one stage's source: a remote address template with query
// parameters, or a named local store with a primary key.
type Descriptor struct {
	kind    Kind
	address string
	params  map[string]string
	name    string
	key     string
	ctx     StageContext
}

// NewRemote describes a remote fetch. params is copied.
func NewRemote(address string, params map[string]string) Descriptor {
	return Descriptor{kind: Remote, address: address, params: maps.Clone(params)}
}

// NewStore describes a local store. kind must be one of the local kinds.
func NewStore(kind Kind, name, key string) Descriptor {
	if !kind.IsLocal() {
		panic(fmt.Sprintf("source: %v is not a local store kind", kind))
	}
	return Descriptor{kind: kind, name: name, key: key}
}

func (d Descriptor) Kind() Kind { return d.kind }
func (d Descriptor) Address() string { return d.address }
func (d Descriptor) Name() string { return d.name }
func (d Descriptor) Key() string { return d.key }
func (d Descriptor) Context() StageContext { return d.ctx }

// Params returns a copy of the query parameters.
func (d Descriptor) Params() map[string]string {
	return maps.Clone(d.params)
}

// WithContext returns d with its side channel replaced.
func (d Descriptor) WithContext(sc StageContext) Descriptor {
	d.ctx = sc
	return d
}

// WithForwarded returns d carrying v as the value produced by the previous
// stage.
func (d Descriptor) WithForwarded(v any) Descriptor {
	d.ctx.Forwarded = v
	d.ctx.HasForwarded = true
	return d
}

// WithReply returns d carrying the bytes and status a source returned.
func (d Descriptor) WithReply(raw []byte, status int) Descriptor {
	d.ctx.RawBytes = raw
	d.ctx.Status = status
	return d
}

func (d Descriptor) String() string {
	if d.kind == Remote {
		return "remote:" + d.address
	}
	return d.kind.String() + ":" + d.name + "/" + d.key
}

// Validate reports a descriptor that cannot be executed. A remote address
// is only checked when its URL is built.
func (d Descriptor) Validate() error {
	switch {
	case !d.kind.Valid():
		return fmt.Errorf("unknown source kind %d", int(d.kind))
	case d.kind.IsLocal() && (d.name == "" || d.key == ""):
		return fmt.Errorf("%v store needs a name and a key", d.kind)
	}
	return nil
}

// URL expands the address template. A {name} placeholder takes the
// path-escaped value of the parameter of that name; the remaining parameters
// are appended as a query string in sorted key order.
func (d Descriptor) URL() (*url.URL, error) {
	if d.kind != Remote {
		return nil, fmt.Errorf("%v source has no url", d.kind)
	}

	raw := d.address
	rest := make(map[string]string, len(d.params))
	for k, v := range d.params {
		placeholder := "{" + k + "}"
		if strings.Contains(raw, placeholder) {
			raw = strings.ReplaceAll(raw, placeholder, url.PathEscape(v))
			continue
		}
		rest[k] = v
	}
	if i := strings.IndexByte(raw, '{'); i >= 0 && strings.IndexByte(raw[i:], '}') > 0 {
		return nil, fmt.Errorf("unresolved placeholder in %q", raw)
	}

	var sb strings.Builder
	sb.WriteString(raw)
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	for _, k := range slices.Sorted(maps.Keys(rest)) {
		sb.WriteString(sep)
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(rest[k]))
		sep = "&"
	}

	u, err := url.Parse(sb.String())
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("url %q needs a scheme and a host", sb.String())
	}
	return u, nil
}
