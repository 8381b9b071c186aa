// Package abi marshals host-side HTTP requests into a guest module's
// linear memory and unmarshals its packed return value back into a
// Response or a typed error. The guest-facing contract is the export
// names, the ten-i32-argument handler signature, and the realloc/free
// discipline; the byte layout inside the buffers they point at is this
// host's own convention.
package abi

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero/api"

	"github.com/flavio/hermit-wasm/internal/httpmsg"
)

// MemIO bundles the three guest-module exports every marshaling call
// needs to move bytes across the linear-memory boundary: allocate
// (canonical_abi_realloc), free (canonical_abi_free), and the memory
// itself. Binding embeds one for handler invocation; hoststate's
// capability host functions build one per call from whichever module
// invoked them, since a host import is called with the calling
// instance's api.Module already in hand.
type MemIO struct {
	Realloc api.Function
	Free    api.Function
	Memory  api.Memory
}

// ResolveMemIO locates canonical_abi_realloc, canonical_abi_free, and the
// memory export on mod — the ABI utilities every marshaling call needs
// regardless of which guest export is ultimately being called.
func ResolveMemIO(mod api.Module) (MemIO, error) {
	realloc := mod.ExportedFunction("canonical_abi_realloc")
	if realloc == nil {
		return MemIO{}, fmt.Errorf("abi: guest module missing canonical_abi_realloc")
	}
	free := mod.ExportedFunction("canonical_abi_free")
	if free == nil {
		return MemIO{}, fmt.Errorf("abi: guest module missing canonical_abi_free")
	}
	mem := mod.Memory()
	if mem == nil {
		return MemIO{}, fmt.Errorf("abi: guest module has no memory export")
	}
	return MemIO{Realloc: realloc, Free: free, Memory: mem}, nil
}

// Binding holds everything the dispatcher needs to invoke one cached
// guest handler: the handler export itself plus the shared ABI utility
// exports every handler call relies on.
type Binding struct {
	Func api.Function
	MemIO
}

const handlerParamCount = 10

// ResolveHandler locates the named export plus the ABI utilities a
// marshaling call needs: canonical_abi_realloc, canonical_abi_free, and
// the memory export.
func ResolveHandler(mod api.Module, name string) (*Binding, error) {
	fn := mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("abi: guest export %q not found", name)
	}
	if len(fn.Definition().ParamTypes()) != handlerParamCount {
		return nil, fmt.Errorf("abi: guest export %q has wrong arity: want %d i32 params", name, handlerParamCount)
	}
	if len(fn.Definition().ResultTypes()) != 1 {
		return nil, fmt.Errorf("abi: guest export %q must return a single i32", name)
	}

	io, err := ResolveMemIO(mod)
	if err != nil {
		return nil, fmt.Errorf("abi: guest export %q: %w", name, err)
	}

	return &Binding{Func: fn, MemIO: io}, nil
}

// Alloc reserves n bytes of guest linear memory via canonical_abi_realloc
// and returns the pointer, following the realloc(old_ptr=0, old_len=0,
// align, new_len) -> new_ptr convention.
func Alloc(ctx context.Context, io MemIO, align, n uint32) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	res, err := io.Realloc.Call(ctx, 0, 0, uint64(align), uint64(n))
	if err != nil {
		return 0, fmt.Errorf("abi: canonical_abi_realloc: %w", err)
	}
	return uint32(res[0]), nil
}

// WriteBytes allocates space for data in guest memory and copies it in,
// returning the (ptr, len) pair a guest-side descriptor expects.
func WriteBytes(ctx context.Context, io MemIO, data []byte) (ptr, length uint32, err error) {
	length = uint32(len(data))
	if length == 0 {
		return 0, 0, nil
	}
	ptr, err = Alloc(ctx, io, 1, length)
	if err != nil {
		return 0, 0, err
	}
	if !io.Memory.Write(ptr, data) {
		return 0, 0, fmt.Errorf("abi: out-of-bounds write at %d (%d bytes)", ptr, length)
	}
	return ptr, length, nil
}

// ReadBytes reads length bytes at ptr out of guest memory.
func ReadBytes(io MemIO, ptr, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	buf, ok := io.Memory.Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("abi: out-of-bounds read at %d (%d bytes)", ptr, length)
	}
	out := make([]byte, length)
	copy(out, buf)
	return out, nil
}

// pairQuadSize is the size in bytes of one entry of the flat
// descriptor-quad table: (nameOff, nameLen, valueOff, valueLen) as
// little-endian u32. A table for N Pairs is N * pairQuadSize bytes.
const pairQuadSize = 16

// WritePairs encodes pairs as a flat descriptor-quad table plus payload
// and writes it into guest memory, as Invoke uses for headers and params.
func WritePairs(ctx context.Context, io MemIO, pairs []httpmsg.Pair) (ptr, length uint32, err error) {
	if len(pairs) == 0 {
		return 0, 0, nil
	}

	var payload []byte
	quads := make([]byte, len(pairs)*pairQuadSize)
	base := uint32(len(quads))
	for i, p := range pairs {
		nameOff := base + uint32(len(payload))
		payload = append(payload, p.Name...)
		nameLen := uint32(len(p.Name))

		valueOff := base + uint32(len(payload))
		payload = append(payload, p.Value...)
		valueLen := uint32(len(p.Value))

		o := i * pairQuadSize
		binary.LittleEndian.PutUint32(quads[o:], nameOff)
		binary.LittleEndian.PutUint32(quads[o+4:], nameLen)
		binary.LittleEndian.PutUint32(quads[o+8:], valueOff)
		binary.LittleEndian.PutUint32(quads[o+12:], valueLen)
	}

	buf := append(quads, payload...)
	return WriteBytes(ctx, io, buf)
}

// Invoke marshals req into guest memory, calls the bound handler, and
// unmarshals its packed return value. Marshaling failures and VM traps
// are both reported as httpmsg.StatusError(500), never as a Go error
// that would propagate to the dispatcher loop.
func Invoke(ctx context.Context, b *Binding, req *httpmsg.Request) httpmsg.InvokeResult {
	methodPtr, methodLen, err := WriteBytes(ctx, b.MemIO, []byte(req.Method))
	if err != nil {
		return errResult(err)
	}
	uriPtr, uriLen, err := WriteBytes(ctx, b.MemIO, []byte(req.URI))
	if err != nil {
		return errResult(err)
	}
	headersPtr, headersLen, err := WritePairs(ctx, b.MemIO, req.Headers)
	if err != nil {
		return errResult(err)
	}
	paramsPtr, paramsLen, err := WritePairs(ctx, b.MemIO, req.Params)
	if err != nil {
		return errResult(err)
	}
	bodyPtr, bodyLen, err := WriteBytes(ctx, b.MemIO, req.Body)
	if err != nil {
		return errResult(err)
	}

	results, err := b.Func.Call(ctx,
		uint64(methodPtr), uint64(methodLen),
		uint64(uriPtr), uint64(uriLen),
		uint64(headersPtr), uint64(headersLen),
		uint64(paramsPtr), uint64(paramsLen),
		uint64(bodyPtr), uint64(bodyLen),
	)
	if err != nil {
		// A trap surfaces here as a Go error, never a panic.
		return httpmsg.InvokeResult{Err: httpmsg.StatusError(500)}
	}
	if len(results) != 1 {
		return errResult(fmt.Errorf("abi: handler returned %d values, want 1", len(results)))
	}

	return unmarshalReturn(b.MemIO, uint32(results[0]))
}

func errResult(err error) httpmsg.InvokeResult {
	logrus.WithError(err).Debug("abi: marshaling failure, reporting as 500")
	return httpmsg.InvokeResult{Err: httpmsg.StatusError(500)}
}

// Packed return record layout (host convention, see package doc):
//
//	offset 0:  tag            u32   0 = Response, 1 = TypedError
//
// Response (tag == 0):
//
//	offset 4:  status         u32
//	offset 8:  headersPtr     u32
//	offset 12: headersLen     u32   (0 => no headers)
//	offset 16: bodyPresent    u32   (0 => nil body)
//	offset 20: bodyPtr        u32
//	offset 24: bodyLen        u32
//
// TypedError (tag == 1):
//
//	offset 4:  kind           u32
//	offset 8:  statusCode     u32
//	offset 12: msgPtr         u32
//	offset 16: msgLen         u32
const returnRecordSize = 28

func unmarshalReturn(io MemIO, ptr uint32) httpmsg.InvokeResult {
	raw, ok := io.Memory.Read(ptr, returnRecordSize)
	if !ok {
		return httpmsg.InvokeResult{Err: httpmsg.StatusError(500)}
	}
	defer io.Free.Call(context.Background(), uint64(ptr), uint64(returnRecordSize), 1)

	tag := binary.LittleEndian.Uint32(raw[0:4])
	switch tag {
	case 0:
		status := binary.LittleEndian.Uint32(raw[4:8])
		headersPtr := binary.LittleEndian.Uint32(raw[8:12])
		headersLen := binary.LittleEndian.Uint32(raw[12:16])
		bodyPresent := binary.LittleEndian.Uint32(raw[16:20])
		bodyPtr := binary.LittleEndian.Uint32(raw[20:24])
		bodyLen := binary.LittleEndian.Uint32(raw[24:28])

		headers, err := readPairs(io, headersPtr, headersLen)
		if err != nil {
			return httpmsg.InvokeResult{Err: httpmsg.StatusError(500)}
		}

		var body []byte
		if bodyPresent != 0 {
			body = make([]byte, bodyLen)
			if bodyLen > 0 {
				raw, ok := io.Memory.Read(bodyPtr, bodyLen)
				if !ok {
					return httpmsg.InvokeResult{Err: httpmsg.StatusError(500)}
				}
				copy(body, raw)
			}
		}

		return httpmsg.InvokeResult{Response: &httpmsg.Response{
			Status:  int(status),
			Headers: headers,
			Body:    body,
		}}
	case 1:
		kind := binary.LittleEndian.Uint32(raw[4:8])
		statusCode := binary.LittleEndian.Uint32(raw[8:12])
		msgPtr := binary.LittleEndian.Uint32(raw[12:16])
		msgLen := binary.LittleEndian.Uint32(raw[16:20])

		msg := ""
		if msgLen > 0 {
			mb, ok := io.Memory.Read(msgPtr, msgLen)
			if !ok {
				return httpmsg.InvokeResult{Err: httpmsg.StatusError(500)}
			}
			msg = string(mb)
		}

		return httpmsg.InvokeResult{Err: &httpmsg.TypedError{
			Kind:       httpmsg.ErrorKind(kind),
			Message:    msg,
			StatusCode: int(statusCode),
		}}
	default:
		return httpmsg.InvokeResult{Err: httpmsg.StatusError(500)}
	}
}

func readPairs(io MemIO, ptr, length uint32) ([]httpmsg.Pair, error) {
	if length == 0 {
		return nil, nil
	}
	buf, ok := io.Memory.Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("abi: out-of-bounds read at %d (%d bytes)", ptr, length)
	}
	if length%pairQuadSize != 0 {
		return nil, fmt.Errorf("abi: malformed pair table length %d", length)
	}
	count := int(length / pairQuadSize)
	pairs := make([]httpmsg.Pair, 0, count)
	for i := 0; i < count; i++ {
		o := i * pairQuadSize
		nameOff := binary.LittleEndian.Uint32(buf[o:])
		nameLen := binary.LittleEndian.Uint32(buf[o+4:])
		valueOff := binary.LittleEndian.Uint32(buf[o+8:])
		valueLen := binary.LittleEndian.Uint32(buf[o+12:])

		if uint64(nameOff)+uint64(nameLen) > uint64(length) || uint64(valueOff)+uint64(valueLen) > uint64(length) {
			return nil, fmt.Errorf("abi: pair table entry %d out of bounds", i)
		}
		pairs = append(pairs, httpmsg.Pair{
			Name:  string(buf[nameOff : nameOff+nameLen]),
			Value: string(buf[valueOff : valueOff+valueLen]),
		})
	}
	return pairs, nil
}
