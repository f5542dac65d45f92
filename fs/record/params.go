package record

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/fxamacker/cbor/v2"
	"github.com/x448/float16"

	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/types/errtypes"
)

const paramsTag = "params_001"

type Encoding string

const (
	EncodingText Encoding = "text"
	EncodingCBOR Encoding = "cbor"
)

type DType string

const (
	DTypeF32  DType = "f32"
	DTypeF64  DType = "f64"
	DTypeF16  DType = "f16"
	DTypeBF16 DType = "bf16"
)

func (dt DType) size() int {
	switch dt {
	case DTypeF64:
		return 8
	case DTypeF32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	default:
		return 0
	}
}

type ParamOptions struct {
	Encoding Encoding
	DType    DType
}

func (o ParamOptions) withDefaults() ParamOptions {
	if o.Encoding == "" {
		o.Encoding = EncodingText
	}
	if o.DType == "" {
		o.DType = DTypeF32
	}
	return o
}

type cborParam struct {
	_    struct{} `cbor:",toarray"`
	Name string
	Rows int
	Cols int
	Data []byte
}

// WriteParams writes the parameter block. The same parameters always produce
// the same bytes.
func WriteParams(w io.Writer, ps *ml.Params, opts ParamOptions) error {
	opts = opts.withDefaults()
	if opts.DType.size() == 0 {
		return fmt.Errorf("%w: parameter dtype %q", errtypes.ErrUnsupported, opts.DType)
	}

	switch opts.Encoding {
	case EncodingText:
		if err := Write(w, paramsTag, opts.Encoding, opts.DType, ps.Len()); err != nil {
			return err
		}

		for _, p := range ps.All() {
			if err := Write(w, p.Name, p.Rows, p.Cols); err != nil {
				return err
			}
			if _, err := io.WriteString(w, formatValues(opts.DType, p.Data)+"\n"); err != nil {
				return err
			}
		}
		return nil
	case EncodingCBOR:
		em, err := cbor.CoreDetEncOptions().EncMode()
		if err != nil {
			return err
		}

		payload := make([]cborParam, 0, ps.Len())
		for _, p := range ps.All() {
			payload = append(payload, cborParam{Name: p.Name, Rows: p.Rows, Cols: p.Cols, Data: encodeValues(opts.DType, p.Data)})
		}

		b, err := em.Marshal(payload)
		if err != nil {
			return err
		}

		if err := Write(w, paramsTag, opts.Encoding, opts.DType, ps.Len(), len(b)); err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		return fmt.Errorf("%w: parameter encoding %q", errtypes.ErrUnsupported, opts.Encoding)
	}
}

// ReadParams fills ps, whose parameters must already be registered in the
// order they were written. It returns the options the block was written
// with.
func ReadParams(r *Reader, ps *ml.Params) (ParamOptions, error) {
	fields, err := r.Record(paramsTag, "parameters")
	if err != nil {
		return ParamOptions{}, err
	}

	f := NewFields("parameters", fields)
	opts := ParamOptions{Encoding: Encoding(f.String()), DType: DType(f.String())}
	count := f.Int()
	if err := f.Err(); err != nil {
		return opts, err
	}

	if opts.DType.size() == 0 {
		return opts, fmt.Errorf("%w: parameter dtype %q", errtypes.ErrUnsupported, opts.DType)
	}

	if count != ps.Len() {
		return opts, fmt.Errorf("%w: model file has %d parameters, model has %d", errtypes.ErrShapeMismatch, count, ps.Len())
	}

	switch opts.Encoding {
	case EncodingText:
		for _, p := range ps.All() {
			fields, err := r.Record(p.Name, "parameter "+p.Name)
			if err != nil {
				return opts, err
			}

			f := NewFields(p.Name, fields)
			rows, cols := f.Int(), f.Int()
			if err := f.Err(); err != nil {
				return opts, err
			}
			if rows != p.Rows || cols != p.Cols {
				return opts, fmt.Errorf("%w: parameter %s is [%d, %d], model expects [%d, %d]", errtypes.ErrShapeMismatch, p.Name, rows, cols, p.Rows, p.Cols)
			}

			line, err := r.Line("values of " + p.Name)
			if err != nil {
				return opts, err
			}
			if err := parseValues(opts.DType, line, p.Data); err != nil {
				return opts, fmt.Errorf("parameter %s: %w", p.Name, err)
			}
		}
	case EncodingCBOR:
		size := f.Int()
		if err := f.Err(); err != nil {
			return opts, err
		}

		b, err := r.Bytes(size)
		if err != nil {
			return opts, err
		}

		var payload []cborParam
		if err := cbor.Unmarshal(b, &payload); err != nil {
			return opts, fmt.Errorf("decoding parameters: %w", err)
		}
		if len(payload) != ps.Len() {
			return opts, fmt.Errorf("%w: parameter block has %d entries, model has %d", errtypes.ErrShapeMismatch, len(payload), ps.Len())
		}

		for i, p := range ps.All() {
			q := payload[i]
			if q.Name != p.Name || q.Rows != p.Rows || q.Cols != p.Cols {
				return opts, fmt.Errorf("%w: parameter %s [%d, %d] does not match %s [%d, %d]", errtypes.ErrShapeMismatch, q.Name, q.Rows, q.Cols, p.Name, p.Rows, p.Cols)
			}
			if err := decodeValues(opts.DType, q.Data, p.Data); err != nil {
				return opts, fmt.Errorf("parameter %s: %w", p.Name, err)
			}
		}
	default:
		return opts, fmt.Errorf("%w: parameter encoding %q", errtypes.ErrUnsupported, opts.Encoding)
	}

	return opts, nil
}

func encodeValues(dt DType, vs []float64) []byte {
	b := make([]byte, 0, len(vs)*dt.size())
	switch dt {
	case DTypeF64:
		for _, v := range vs {
			b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
		}
	case DTypeF32:
		for _, v := range vs {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v)))
		}
	case DTypeF16:
		for _, v := range vs {
			b = binary.LittleEndian.AppendUint16(b, float16.Fromfloat32(float32(v)).Bits())
		}
	case DTypeBF16:
		f32s := make([]float32, len(vs))
		for i, v := range vs {
			f32s[i] = float32(v)
		}
		b = append(b, bfloat16.EncodeFloat32(f32s)...)
	}
	return b
}

func decodeValues(dt DType, b []byte, dst []float64) error {
	if len(b) != len(dst)*dt.size() {
		return fmt.Errorf("%w: %d bytes for %d %s values", errtypes.ErrShapeMismatch, len(b), len(dst), dt)
	}

	switch dt {
	case DTypeF64:
		for i := range dst {
			dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
		}
	case DTypeF32:
		for i := range dst {
			dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
		}
	case DTypeF16:
		for i := range dst {
			dst[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(b[i*2:])).Float32())
		}
	case DTypeBF16:
		for i, v := range bfloat16.DecodeFloat32(b) {
			dst[i] = float64(v)
		}
	}
	return nil
}

// formatValues renders decimal values for f32/f64 and hex words for the
// 16-bit types, so that parsing and reformatting is exact.
func formatValues(dt DType, vs []float64) string {
	strs := make([]string, len(vs))
	switch dt {
	case DTypeF64:
		for i, v := range vs {
			strs[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	case DTypeF32:
		for i, v := range vs {
			strs[i] = strconv.FormatFloat(float64(float32(v)), 'g', -1, 32)
		}
	default:
		b := encodeValues(dt, vs)
		for i := range strs {
			strs[i] = hex.EncodeToString(b[i*2 : i*2+2])
		}
	}
	return strings.Join(strs, " ")
}

func parseValues(dt DType, line string, dst []float64) error {
	strs := strings.Fields(line)
	if len(strs) != len(dst) {
		return fmt.Errorf("%w: %d values, want %d", errtypes.ErrShapeMismatch, len(strs), len(dst))
	}

	switch dt {
	case DTypeF64, DTypeF32:
		bits := 64
		if dt == DTypeF32 {
			bits = 32
		}
		for i, s := range strs {
			v, err := strconv.ParseFloat(s, bits)
			if err != nil {
				return err
			}
			dst[i] = v
		}
		return nil
	default:
		b := make([]byte, 0, len(strs)*2)
		for _, s := range strs {
			word, err := hex.DecodeString(s)
			if err != nil {
				return err
			}
			if len(word) != 2 {
				return fmt.Errorf("%w: value %q is not a 16-bit word", errtypes.ErrShapeMismatch, s)
			}
			b = append(b, word...)
		}
		return decodeValues(dt, b, dst)
	}
}
