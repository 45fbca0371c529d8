package model

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/clems4ever/textclf/tensor"
	"github.com/x448/float16"
)

const (
	WeightsFile = "model.safetensors"

	// headers larger than this are rejected before allocation
	maxHeaderSize = 100 << 20
)

var ErrSafetensors = errors.New("invalid safetensors file")

type tensorInfo struct {
	DType   string   `json:"dtype"`
	Shape   []int    `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

// RawTensor is a tensor as stored on disk: row-major values with their
// on-disk shape. Data is nil for integer, boolean and unknown dtypes, which
// checkpoints use for buffers such as position_ids.
type RawTensor struct {
	DType string
	Shape []int
	Data  []float64
}

// IsFloat reports whether r carries decoded values. An empty DType counts as
// float so callers can build tensors for writing without naming one.
func (r RawTensor) IsFloat() bool {
	return r.DType == "" || floatDTypes[r.DType]
}

// Matrix views a 1-D or 2-D raw tensor as rows x cols.
func (r RawTensor) Matrix() (*tensor.Tensor, error) {
	switch len(r.Shape) {
	case 1:
		return tensor.FromData(1, r.Shape[0], r.Data)
	case 2:
		return tensor.FromData(r.Shape[0], r.Shape[1], r.Data)
	default:
		return nil, fmt.Errorf("%w: unsupported rank %d", ErrSafetensors, len(r.Shape))
	}
}

var floatDTypes = map[string]bool{"F64": true, "F32": true, "F16": true, "BF16": true}

var dtypeSizes = map[string]int{
	"F64": 8, "F32": 4, "F16": 2, "BF16": 2,
	"I64": 8, "U64": 8, "I32": 4, "U32": 4, "I16": 2, "U16": 2,
	"I8": 1, "U8": 1, "BOOL": 1, "F8_E4M3": 1, "F8_E5M2": 1,
}

func decodeValues(dtype string, b []byte) []float64 {
	size := dtypeSizes[dtype]
	out := make([]float64, len(b)/size)
	for i := range out {
		chunk := b[i*size : (i+1)*size]
		switch dtype {
		case "F64":
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(chunk))
		case "F32":
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk)))
		case "F16":
			out[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(chunk)).Float32())
		case "BF16":
			out[i] = float64(math.Float32frombits(uint32(binary.LittleEndian.Uint16(chunk)) << 16))
		}
	}
	return out
}

// ReadSafetensors decodes every float tensor in a safetensors file. Other
// entries are returned with their dtype and shape but no values.
func ReadSafetensors(path string) (map[string]RawTensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open weights: %w", err)
	}
	defer f.Close()
	return DecodeSafetensors(bufio.NewReader(f))
}

func DecodeSafetensors(r io.Reader) (map[string]RawTensor, error) {
	var headerLen uint64
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("%w: header length: %v", ErrSafetensors, err)
	}
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("%w: header of %d bytes", ErrSafetensors, headerLen)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrSafetensors, err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(header, &entries); err != nil {
		return nil, fmt.Errorf("%w: header json: %v", ErrSafetensors, err)
	}
	infos := make(map[string]tensorInfo, len(entries))
	var end int64
	for name, raw := range entries {
		if name == "__metadata__" {
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSafetensors, name, err)
		}
		if info.Offsets[0] < 0 || info.Offsets[1] < info.Offsets[0] {
			return nil, fmt.Errorf("%w: %s: offsets %v", ErrSafetensors, name, info.Offsets)
		}
		// sizes of unknown dtypes cannot be checked
		if size, ok := dtypeSizes[info.DType]; ok {
			n := int64(1)
			for _, d := range info.Shape {
				n *= int64(d)
			}
			if info.Offsets[1]-info.Offsets[0] != n*int64(size) {
				return nil, fmt.Errorf("%w: %s: offsets %v do not match shape %v", ErrSafetensors, name, info.Offsets, info.Shape)
			}
		}
		infos[name] = info
		end = max(end, info.Offsets[1])
	}

	data := make([]byte, end)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrSafetensors, err)
	}

	out := make(map[string]RawTensor, len(infos))
	for name, info := range infos {
		raw := RawTensor{DType: info.DType, Shape: info.Shape}
		if floatDTypes[info.DType] {
			raw.Data = decodeValues(info.DType, data[info.Offsets[0]:info.Offsets[1]])
		}
		out[name] = raw
	}
	return out, nil
}

// WriteSafetensors stores float tensors as F32 in name order. Entries without
// values are dropped.
func WriteSafetensors(path string, tensors map[string]RawTensor, metadata map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create weights: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := EncodeSafetensors(w, tensors, metadata); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write weights: %w", err)
	}
	return f.Close()
}

func EncodeSafetensors(w io.Writer, tensors map[string]RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name, t := range tensors {
		if t.IsFloat() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var offset int64
	for _, name := range names {
		t := tensors[name]
		n := int64(len(t.Data)) * 4
		header[name] = tensorInfo{DType: "F32", Shape: t.Shape, Offsets: [2]int64{offset, offset + n}}
		offset += n
	}
	hb, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode safetensors header: %w", err)
	}
	for len(hb)%8 != 0 {
		hb = append(hb, ' ')
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(hb))); err != nil {
		return fmt.Errorf("failed to write weights: %w", err)
	}
	if _, err := w.Write(hb); err != nil {
		return fmt.Errorf("failed to write weights: %w", err)
	}
	buf := make([]byte, 4)
	for _, name := range names {
		for _, v := range tensors[name].Data {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("failed to write weights: %w", err)
			}
		}
	}
	return nil
}
