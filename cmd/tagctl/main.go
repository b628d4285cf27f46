// Command tagctl is a thin CLI over the client package's libplctag-style
// API: point it at a single tag attribute string to read or write one
// value, or at a YAML batch file (config.BatchConfig) to run a list of
// reads and writes, once or on a period. Grounded on
// original_source/libplctag's examples/src/data_dumper.c, the closest
// original analogue of "poll a list of tags and print their values" —
// reworked from its fixed tag table into config.BatchConfig's YAML list.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wartag/tagwire/client"
	"github.com/wartag/tagwire/config"
	"github.com/wartag/tagwire/internal/wireerr"
)

func main() {
	attrStr := flag.String("attr", "", "Tag attribute string (e.g. \"protocol=ab-eip&gateway=10.0.0.1&path=1,0&cpu=compactlogix&name=MyTag\")")
	writeVal := flag.String("write", "", "Value to write instead of reading (parsed per -type)")
	elemType := flag.String("type", "int32", "Value type for -attr mode: bool,int8,uint8,int16,uint16,int32,uint32,int64,uint64,float32,float64,string")
	timeoutMS := flag.Int("timeout", 5000, "Operation timeout in milliseconds")
	batchPath := flag.String("batch", "", "Path to a YAML batch config (reads/writes/period)")
	flag.Parse()

	switch {
	case *batchPath != "":
		runBatch(*batchPath)
	case *attrStr != "":
		runSingle(*attrStr, *elemType, *writeVal, *timeoutMS)
	default:
		fmt.Fprintln(os.Stderr, "tagctl: one of -attr or -batch is required")
		flag.Usage()
		os.Exit(2)
	}
}

// waitReady polls Status until Create's background dial finishes,
// mirroring libplctag's standard create-then-poll-for-PENDING pattern.
func waitReady(h client.Handle, timeoutMS int) int {
	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	for {
		status := client.Status(h)
		if status != statusPending() {
			return status
		}
		if time.Now().After(deadline) {
			return -int(wireerr.ErrTimeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func statusPending() int {
	return int(wireerr.Pending)
}

func runSingle(attrStr, elemType, writeVal string, timeoutMS int) {
	h := client.Create(attrStr, timeoutMS)
	if h < 0 {
		fatalStatus("create", int(h))
	}
	defer client.Destroy(h)

	if status := waitReady(h, timeoutMS); status < 0 {
		fatalStatus("create", status)
	}

	if writeVal != "" {
		if status := setTyped(h, elemType, writeVal); status < 0 {
			fatalStatus("encode value", status)
		}
		if status := client.Write(h, timeoutMS); status < 0 {
			fatalStatus("write", status)
		}
		fmt.Printf("wrote %s = %s\n", attrStr, writeVal)
		return
	}

	if status := client.Read(h, timeoutMS); status < 0 {
		fatalStatus("read", status)
	}
	v, status := getTyped(h, elemType)
	if status < 0 {
		fatalStatus("decode value", status)
	}
	fmt.Printf("%v\n", v)
}

func runBatch(path string) {
	cfg, err := config.LoadBatch(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tagctl: %v\n", err)
		os.Exit(1)
	}

	run := func() {
		for _, attrStr := range cfg.Reads {
			dumpOne(attrStr)
		}
		for _, w := range cfg.Writes {
			writeOne(w)
		}
	}

	run()
	for cfg.Period > 0 {
		time.Sleep(cfg.Period)
		run()
	}
}

// dumpOne reads one tag and prints its raw value sized by the tag's
// reported element size (1/2/4/8 bytes, unsigned), since a batch read
// list carries no per-tag type beyond what the attribute string declares.
func dumpOne(attrStr string) {
	h := client.Create(attrStr, batchTimeoutMS)
	defer client.Destroy(h)

	if status := waitReady(h, batchTimeoutMS); status < 0 {
		fmt.Printf("%s: %s\n", attrStr, wireerr.Decode(wireerr.Code(-status)))
		return
	}
	if status := client.Read(h, batchTimeoutMS); status < 0 {
		fmt.Printf("%s: %s\n", attrStr, wireerr.Decode(wireerr.Code(-status)))
		return
	}

	size, _ := client.ElemSize(h)
	switch size {
	case 1:
		v, _ := client.GetUint8(h, 0)
		fmt.Printf("%s = %d\n", attrStr, v)
	case 2:
		v, _ := client.GetUint16(h, 0)
		fmt.Printf("%s = %d\n", attrStr, v)
	case 8:
		v, _ := client.GetUint64(h, 0)
		fmt.Printf("%s = %d\n", attrStr, v)
	default:
		v, _ := client.GetUint32(h, 0)
		fmt.Printf("%s = %d\n", attrStr, v)
	}
}

func writeOne(w config.BatchWrite) {
	h := client.Create(w.Attr, batchTimeoutMS)
	defer client.Destroy(h)

	if status := waitReady(h, batchTimeoutMS); status < 0 {
		fmt.Printf("%s: %s\n", w.Attr, wireerr.Decode(wireerr.Code(-status)))
		return
	}

	size, _ := client.ElemSize(h)
	if status := setByKind(h, size, w.Value); status < 0 {
		fmt.Printf("%s: %s\n", w.Attr, wireerr.Decode(wireerr.Code(-status)))
		return
	}
	if status := client.Write(h, batchTimeoutMS); status < 0 {
		fmt.Printf("%s: %s\n", w.Attr, wireerr.Decode(wireerr.Code(-status)))
		return
	}
	fmt.Printf("%s <- %v\n", w.Attr, w.Value)
}

const batchTimeoutMS = 5000

// setByKind writes v, a YAML-decoded scalar, at offset 0 sized by
// elemSize, the same best-effort sizing dumpOne uses for reads.
func setByKind(h client.Handle, elemSize int, v any) int {
	var n int64
	switch t := v.(type) {
	case int:
		n = int64(t)
	case int64:
		n = t
	case float64:
		n = int64(t)
	case bool:
		if t {
			n = 1
		}
	default:
		return -int(wireerr.ErrUnsupported)
	}

	switch elemSize {
	case 1:
		return client.SetUint8(h, 0, uint8(n))
	case 2:
		return client.SetUint16(h, 0, uint16(n))
	case 8:
		return client.SetUint64(h, 0, uint64(n))
	default:
		return client.SetUint32(h, 0, uint32(n))
	}
}

// getTyped and setTyped back -attr mode's -type flag, covering every
// scalar accessor client/value.go and client/string.go export.
func getTyped(h client.Handle, elemType string) (any, int) {
	switch elemType {
	case "bool":
		return client.GetBit(h, 0)
	case "int8":
		return client.GetInt8(h, 0)
	case "uint8":
		return client.GetUint8(h, 0)
	case "int16":
		return client.GetInt16(h, 0)
	case "uint16":
		return client.GetUint16(h, 0)
	case "int32":
		return client.GetInt32(h, 0)
	case "uint32":
		return client.GetUint32(h, 0)
	case "int64":
		return client.GetInt64(h, 0)
	case "uint64":
		return client.GetUint64(h, 0)
	case "float32":
		return client.GetFloat32(h, 0)
	case "float64":
		return client.GetFloat64(h, 0)
	case "string":
		return client.GetString(h, 0)
	default:
		return nil, -int(wireerr.ErrUnsupported)
	}
}

func setTyped(h client.Handle, elemType, raw string) int {
	switch elemType {
	case "bool":
		return client.SetBit(h, 0, raw == "true" || raw == "1")
	case "string":
		return client.SetString(h, 0, raw)
	}

	var f float64
	if _, err := fmt.Sscanf(raw, "%g", &f); err != nil {
		return -int(wireerr.ErrBadData)
	}
	switch elemType {
	case "int8":
		return client.SetInt8(h, 0, int8(f))
	case "uint8":
		return client.SetUint8(h, 0, uint8(f))
	case "int16":
		return client.SetInt16(h, 0, int16(f))
	case "uint16":
		return client.SetUint16(h, 0, uint16(f))
	case "int32":
		return client.SetInt32(h, 0, int32(f))
	case "uint32":
		return client.SetUint32(h, 0, uint32(f))
	case "int64":
		return client.SetInt64(h, 0, int64(f))
	case "uint64":
		return client.SetUint64(h, 0, uint64(f))
	case "float32":
		return client.SetFloat32(h, 0, float32(f))
	case "float64":
		return client.SetFloat64(h, 0, f)
	default:
		return -int(wireerr.ErrUnsupported)
	}
}

func fatalStatus(action string, status int) {
	fmt.Fprintf(os.Stderr, "tagctl: %s: %s\n", action, wireerr.Decode(wireerr.Code(-status)))
	os.Exit(1)
}
