// Package attr parses the tag attribute string spec.md §6 defines as
// the library's one external configuration surface: ASCII "key=value"
// pairs joined by "&", the same shape libplctag's C API takes from
// callers (no YAML, no flags — callers hand this string in directly).
package attr

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/wartag/tagwire/internal/wireerr"
)

// Protocol names the wire protocol a tag attribute string selects.
type Protocol string

const (
	ProtocolABEIP     Protocol = "ab-eip"
	ProtocolModbusTCP Protocol = "modbus-tcp"
)

// CPU names the target controller family, which governs addressing
// style (symbolic vs PCCC) and Forward Open parameters.
type CPU string

const (
	CPUControlLogix  CPU = "controllogix"
	CPUCompactLogix  CPU = "compactlogix"
	CPUPLC5          CPU = "plc5"
	CPUSLC           CPU = "slc"
	CPUMicroLogix    CPU = "micrologix"
	CPUMicroLogix800 CPU = "micrologix800"
	CPULogixPCCC     CPU = "lgxpccc"
	CPUOmronNJNX     CPU = "omron-njnx"
)

// Attrs holds the parsed and validated fields of a tag attribute
// string (spec.md §6's table).
type Attrs struct {
	Protocol Protocol
	Gateway  string // host[:port]
	Path     string // CIP route ("1,0") or Modbus unit id ("0")
	CPU      CPU
	Name     string // symbolic tag name or PCCC logical address

	ElemCount uint32 // 0 = unset, caller/driver supplies a default
	ElemSize  uint32 // 0 = unset, overrides the driver's inferred size
	ElemType  uint32 // 0 = unset, overrides the driver's inferred CIP type code

	DebugLevel int

	AllowPacking     bool // default true
	UseConnectedMsg  bool // default false (unconnected messaging)
	ConnectionGroup  int32
	AutoSyncReadMS   int
	AutoSyncWriteMS  int
	ReadCacheMS      int
}

// EndpointIdentity is the tuple spec.md §3 says two tag attribute
// strings must match on to share one underlying session.
type EndpointIdentity struct {
	Protocol        Protocol
	Gateway         string
	Path            string
	CPU             CPU
	ConnectionGroup int32
}

// Identity derives the session-sharing key from a parsed attribute set.
func (a Attrs) Identity() EndpointIdentity {
	return EndpointIdentity{
		Protocol:        a.Protocol,
		Gateway:         a.Gateway,
		Path:            a.Path,
		CPU:             a.CPU,
		ConnectionGroup: a.ConnectionGroup,
	}
}

// Parse decodes and validates a tag attribute string. Unknown keys are
// ignored (the C library's own behavior: forward compatibility for
// driver-specific extensions), but a recognized key with an
// unparseable value is ERR_BAD_PARAM and a missing required key is
// ERR_BAD_CONFIG.
func Parse(s string) (Attrs, error) {
	values, err := url.ParseQuery(strings.ReplaceAll(s, ";", "%3B"))
	if err != nil {
		return Attrs{}, wireerr.New(wireerr.ErrBadParam, "attribute string: %v", err)
	}

	a := Attrs{AllowPacking: true}

	get := func(key string) (string, bool) {
		vs := values[key]
		if len(vs) == 0 {
			return "", false
		}
		return vs[len(vs)-1], true
	}

	proto, ok := get("protocol")
	if !ok {
		return Attrs{}, wireerr.New(wireerr.ErrBadConfig, "attribute string missing required key %q", "protocol")
	}
	switch Protocol(proto) {
	case ProtocolABEIP, ProtocolModbusTCP:
		a.Protocol = Protocol(proto)
	default:
		return Attrs{}, wireerr.New(wireerr.ErrBadParam, "unrecognized protocol %q", proto)
	}

	gateway, ok := get("gateway")
	if !ok || gateway == "" {
		return Attrs{}, wireerr.New(wireerr.ErrBadConfig, "attribute string missing required key %q", "gateway")
	}
	a.Gateway = gateway

	a.Path, _ = get("path")

	if cpu, ok := get("cpu"); ok {
		a.CPU = CPU(cpu)
	} else if plc, ok := get("plc"); ok {
		a.CPU = CPU(plc)
	}
	if a.Protocol == ProtocolABEIP {
		switch a.CPU {
		case CPUControlLogix, CPUCompactLogix, CPUPLC5, CPUSLC, CPUMicroLogix,
			CPUMicroLogix800, CPULogixPCCC, CPUOmronNJNX, "":
		default:
			return Attrs{}, wireerr.New(wireerr.ErrBadParam, "unrecognized cpu/plc %q", a.CPU)
		}
	}

	name, ok := get("name")
	if !ok || name == "" {
		return Attrs{}, wireerr.New(wireerr.ErrBadConfig, "attribute string missing required key %q", "name")
	}
	a.Name = name

	if v, ok := get("elem_count"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return Attrs{}, wireerr.New(wireerr.ErrBadParam, "elem_count: %v", err)
		}
		a.ElemCount = uint32(n)
	}
	if v, ok := get("elem_size"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return Attrs{}, wireerr.New(wireerr.ErrBadParam, "elem_size: %v", err)
		}
		a.ElemSize = uint32(n)
	}
	if v, ok := get("elem_type"); ok {
		n, err := strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 32)
		if err != nil {
			n, err = strconv.ParseUint(v, 10, 32)
		}
		if err != nil {
			return Attrs{}, wireerr.New(wireerr.ErrBadParam, "elem_type: %v", err)
		}
		a.ElemType = uint32(n)
	}

	if v, ok := get("debug"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 5 {
			return Attrs{}, wireerr.New(wireerr.ErrBadParam, "debug level must be 0..5, got %q", v)
		}
		a.DebugLevel = n
	}

	if v, ok := get("allow_packing"); ok {
		b, err := parseBoolFlag(v)
		if err != nil {
			return Attrs{}, wireerr.New(wireerr.ErrBadParam, "allow_packing: %v", err)
		}
		a.AllowPacking = b
	}
	if v, ok := get("use_connected_msg"); ok {
		b, err := parseBoolFlag(v)
		if err != nil {
			return Attrs{}, wireerr.New(wireerr.ErrBadParam, "use_connected_msg: %v", err)
		}
		a.UseConnectedMsg = b
	}
	if v, ok := get("connection_group_id"); ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return Attrs{}, wireerr.New(wireerr.ErrBadParam, "connection_group_id: %v", err)
		}
		a.ConnectionGroup = int32(n)
	}
	for key, dst := range map[string]*int{
		"auto_sync_read_ms":  &a.AutoSyncReadMS,
		"auto_sync_write_ms": &a.AutoSyncWriteMS,
		"read_cache_ms":      &a.ReadCacheMS,
	} {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return Attrs{}, wireerr.New(wireerr.ErrBadParam, "%s must be a non-negative integer, got %q", key, v)
			}
			*dst = n
		}
	}

	return a, nil
}

func parseBoolFlag(v string) (bool, error) {
	switch v {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("expected 0 or 1, got %q", v)
	}
}
