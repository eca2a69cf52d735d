package device

import (
	"fmt"
	"time"
)

// ProbeKind classifies a probe snapshot.
type ProbeKind int

const (
	KindUnreachable ProbeKind = iota
	KindReachable
	KindError
)

func (k ProbeKind) String() string {
	switch k {
	case KindReachable:
		return "reachable"
	case KindUnreachable:
		return "unreachable"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("ProbeKind(%d)", int(k))
	}
}

// Metadata is what a reachable device reported about itself.
type Metadata struct {
	Name            string            `json:"name,omitempty"`
	FirmwareVersion string            `json:"firmware_version,omitempty"`
	Mode            string            `json:"mode,omitempty"`
	RSSI            int               `json:"rssi,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

func (m Metadata) clone() Metadata {
	if m.Extra != nil {
		extra := make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			extra[k] = v
		}
		m.Extra = extra
	}
	return m
}

// ProbeResult is an immutable snapshot of one probe of one identity.
// Fields are unexported so a result cannot be altered once created.
type ProbeResult struct {
	kind     ProbeKind
	metadata Metadata
	cause    error
	at       time.Time
}

// Reachable returns a snapshot for a device that answered.
func Reachable(meta Metadata) ProbeResult {
	return ProbeResult{kind: KindReachable, metadata: meta.clone(), at: time.Now()}
}

// Unreachable returns a snapshot for a device that did not answer.
func Unreachable() ProbeResult {
	return ProbeResult{kind: KindUnreachable, at: time.Now()}
}

// ProbeError returns a snapshot for a probe that could not be carried out.
func ProbeError(err error) ProbeResult {
	if err == nil {
		err = fmt.Errorf("unknown probe error")
	}
	return ProbeResult{kind: KindError, cause: err, at: time.Now()}
}

func (r ProbeResult) Kind() ProbeKind   { return r.kind }
func (r ProbeResult) IsReachable() bool { return r.kind == KindReachable }
func (r ProbeResult) Cause() error      { return r.cause }
func (r ProbeResult) At() time.Time     { return r.at }

// Metadata returns a copy of the reported metadata.
func (r ProbeResult) Metadata() Metadata {
	return r.metadata.clone()
}

func (r ProbeResult) String() string {
	switch r.kind {
	case KindReachable:
		if r.metadata.FirmwareVersion != "" {
			return fmt.Sprintf("reachable (fw %s)", r.metadata.FirmwareVersion)
		}
		return "reachable"
	case KindError:
		return fmt.Sprintf("error: %v", r.cause)
	default:
		return r.kind.String()
	}
}
