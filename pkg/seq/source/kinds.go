package source

import (
	"fmt"
	"strings"
)

// Kind is the closed set of places a stage can read from or write to.
type Kind int

const (
	Remote Kind = iota
	Bundle
	File
	Defaults
	Database
	Keychain
)

var kindNames = [...]string{
	Remote:   "remote",
	Bundle:   "bundle",
	File:     "file",
	Defaults: "defaults",
	Database: "database",
	Keychain: "keychain",
}

// Kinds lists every Kind, remote first.
func Kinds() []Kind {
	return []Kind{Remote, Bundle, File, Defaults, Database, Keychain}
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) Valid() bool {
	return k >= Remote && k <= Keychain
}

// IsLocal reports whether k names a local store.
func (k Kind) IsLocal() bool {
	return k.Valid() && k != Remote
}

func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(i), nil
		}
	}
	if strings.EqualFold(s, "coredata") {
		return Database, nil
	}
	return 0, fmt.Errorf("unknown source kind %q", s)
}

// Method is the access intent of a stage.
type Method int

const (
	Get Method = iota
	Post
	Put
	Delete
)

func (m Method) String() string {
	switch m {
	case Get:
		return "GET"
	case Post:
		return "POST"
	case Put:
		return "PUT"
	case Delete:
		return "DELETE"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

func (m Method) Valid() bool {
	return m >= Get && m <= Delete
}

// IsRead reports whether m only reads.
func (m Method) IsRead() bool {
	return m == Get
}

func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "GET":
		return Get, nil
	case "POST":
		return Post, nil
	case "PUT", "UPDATE":
		return Put, nil
	case "DELETE":
		return Delete, nil
	}
	return 0, fmt.Errorf("unknown method %q", s)
}

// DataFormat tags the wire format of fetched bytes. Only JSON is decoded;
// XML is reserved.
type DataFormat int

const (
	JSON DataFormat = iota
	XML
)

func (f DataFormat) String() string {
	switch f {
	case JSON:
		return "json"
	case XML:
		return "xml"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

func (f DataFormat) Valid() bool {
	return f == JSON || f == XML
}

func ParseDataFormat(s string) (DataFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return JSON, nil
	case "xml":
		return XML, nil
	}
	return 0, fmt.Errorf("unknown data format %q", s)
}
