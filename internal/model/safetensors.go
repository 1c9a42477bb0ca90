package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
)

// maxHeaderSize bounds the JSON header so a corrupt length prefix cannot
// trigger a huge allocation.
const maxHeaderSize = 100 << 20

// Tensor is a dense row-major float tensor.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor allocates a zeroed tensor.
func NewTensor(shape ...int) *Tensor {
	return &Tensor{Shape: shape, Data: make([]float64, numel(shape))}
}

// Fill sets every element to v and returns t.
func (t *Tensor) Fill(v float64) *Tensor {
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Weights maps parameter names to tensors.
type Weights map[string]*Tensor

type tensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// ReadSafetensors parses a safetensors stream: an 8-byte little-endian
// header length, a JSON header, then the raw tensor bytes. F32 and F64
// tensors are supported.
func ReadSafetensors(r io.Reader) (Weights, map[string]string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, nil, fmt.Errorf("failed to read header length: %w", err)
	}
	if n == 0 || n > maxHeaderSize {
		return nil, nil, fmt.Errorf("invalid header length %d", n)
	}
	hdr := make([]byte, n)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(hdr, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header: %w", err)
	}
	meta := map[string]string{}
	if m, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(m, &meta); err != nil {
			return nil, nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
		delete(raw, "__metadata__")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	weights := make(Weights, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		t, err := decodeTensor(th, data)
		if err != nil {
			return nil, nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		weights[name] = t
	}
	return weights, meta, nil
}

func decodeTensor(th tensorHeader, data []byte) (*Tensor, error) {
	begin, end := th.DataOffsets[0], th.DataOffsets[1]
	if begin < 0 || end < begin || end > int64(len(data)) {
		return nil, fmt.Errorf("data offsets [%d, %d] outside buffer of %d bytes", begin, end, len(data))
	}
	buf := data[begin:end]
	count := numel(th.Shape)

	t := &Tensor{Shape: append([]int(nil), th.Shape...), Data: make([]float64, count)}
	switch th.DType {
	case "F32":
		if len(buf) != count*4 {
			return nil, fmt.Errorf("expected %d bytes for shape %v, got %d", count*4, th.Shape, len(buf))
		}
		for i := range t.Data {
			t.Data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
		}
	case "F64":
		if len(buf) != count*8 {
			return nil, fmt.Errorf("expected %d bytes for shape %v, got %d", count*8, th.Shape, len(buf))
		}
		for i := range t.Data {
			t.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %q", th.DType)
	}
	return t, nil
}

// WriteSafetensors serialises weights as F32 in name order.
func WriteSafetensors(w io.Writer, weights Weights, meta map[string]string) error {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(meta) > 0 {
		header["__metadata__"] = meta
	}
	var body bytes.Buffer
	for _, name := range names {
		t := weights[name]
		if len(t.Data) != numel(t.Shape) {
			return fmt.Errorf("tensor %s: %d values for shape %v", name, len(t.Data), t.Shape)
		}
		begin := int64(body.Len())
		for _, v := range t.Data {
			_ = binary.Write(&body, binary.LittleEndian, math.Float32bits(float32(v)))
		}
		header[name] = tensorHeader{DType: "F32", Shape: t.Shape, DataOffsets: [2]int64{begin, int64(body.Len())}}
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if pad := len(hdr) % 8; pad != 0 {
		hdr = append(hdr, bytes.Repeat([]byte(" "), 8-pad)...)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(hdr))); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err = w.Write(body.Bytes())
	return err
}
