package inspector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

// GGUF value types, per the format's metadata KV encoding. No example repo
// in the pack parses GGUF binaries (the one GGUF-aware file found,
// model-runner's inference package, only wraps an error type around an
// external parser); this reader is hand-rolled against the public GGUF
// layout because no ecosystem GGUF-parsing library appeared anywhere in
// the pack to ground it on instead.
const (
	ggufTypeUint8 = iota
	ggufTypeInt8
	ggufTypeUint16
	ggufTypeInt16
	ggufTypeUint32
	ggufTypeInt32
	ggufTypeFloat32
	ggufTypeBool
	ggufTypeString
	ggufTypeArray
	ggufTypeUint64
	ggufTypeInt64
	ggufTypeFloat64
)

var ggufMagic = [4]byte{'G', 'G', 'U', 'F'}

// ggufResult is the outcome of parsing one GGUF file's header and
// tensor-info section.
type ggufResult struct {
	Version uint32
	Valid   bool
	Errors  []string
	Meta    Metadata
}

// parseGGUF reads path's header, metadata KV section, and tensor-info
// section, validating magic bytes, version, and that neither section runs
// past the end of the file (§4.9: "validation status per file (magic
// bytes + version + non-truncation)").
func parseGGUF(path string) ggufResult {
	f, err := os.Open(path)
	if err != nil {
		return ggufResult{Errors: []string{fmt.Sprintf("opening file: %v", err)}}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ggufResult{Errors: []string{fmt.Sprintf("stating file: %v", err)}}
	}

	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return ggufResult{Errors: []string{"truncated before magic bytes"}}
	}
	if magic != ggufMagic {
		return ggufResult{Errors: []string{fmt.Sprintf("bad magic bytes: %q", magic)}}
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return ggufResult{Errors: []string{"truncated before version"}}
	}
	if version < 1 || version > 3 {
		return ggufResult{Version: version, Errors: []string{fmt.Sprintf("unsupported version: %d", version)}}
	}

	var tensorCount, kvCount uint64
	if err := binary.Read(r, binary.LittleEndian, &tensorCount); err != nil {
		return ggufResult{Version: version, Errors: []string{"truncated before tensor count"}}
	}
	if err := binary.Read(r, binary.LittleEndian, &kvCount); err != nil {
		return ggufResult{Version: version, Errors: []string{"truncated before metadata kv count"}}
	}

	meta := Metadata{}
	alignment := uint64(32)

	for i := uint64(0); i < kvCount; i++ {
		key, err := readGGUFString(r)
		if err != nil {
			return ggufResult{Version: version, Errors: []string{fmt.Sprintf("truncated metadata key %d: %v", i, err)}}
		}
		var valueType uint32
		if err := binary.Read(r, binary.LittleEndian, &valueType); err != nil {
			return ggufResult{Version: version, Errors: []string{fmt.Sprintf("truncated metadata value type for %q", key)}}
		}
		value, err := readGGUFValue(r, valueType)
		if err != nil {
			return ggufResult{Version: version, Errors: []string{fmt.Sprintf("truncated metadata value for %q: %v", key, err)}}
		}
		applyGGUFMetadataKey(&meta, &alignment, key, value)
	}

	for i := uint64(0); i < tensorCount; i++ {
		if _, err := readGGUFString(r); err != nil {
			return ggufResult{Version: version, Meta: meta, Errors: []string{fmt.Sprintf("truncated tensor name %d: %v", i, err)}}
		}
		var nDims uint32
		if err := binary.Read(r, binary.LittleEndian, &nDims); err != nil {
			return ggufResult{Version: version, Meta: meta, Errors: []string{fmt.Sprintf("truncated tensor dims count %d", i)}}
		}
		for d := uint32(0); d < nDims; d++ {
			var dim uint64
			if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
				return ggufResult{Version: version, Meta: meta, Errors: []string{fmt.Sprintf("truncated tensor dim %d of tensor %d", d, i)}}
			}
		}
		var ggmlType uint32
		if err := binary.Read(r, binary.LittleEndian, &ggmlType); err != nil {
			return ggufResult{Version: version, Meta: meta, Errors: []string{fmt.Sprintf("truncated tensor type %d", i)}}
		}
		var offset uint64
		if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
			return ggufResult{Version: version, Meta: meta, Errors: []string{fmt.Sprintf("truncated tensor offset %d", i)}}
		}
	}

	headerEnd := int64(info.Size()) - int64(r.Buffered())
	dataStart := alignUp(headerEnd, int64(alignment))
	if dataStart > info.Size() {
		return ggufResult{
			Version: version, Meta: meta,
			Errors: []string{fmt.Sprintf("tensor data section starts at %d but file is only %d bytes", dataStart, info.Size())},
		}
	}

	return ggufResult{Version: version, Valid: true, Meta: meta}
}

func alignUp(v, align int64) int64 {
	if align <= 0 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

func readGGUFString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// readGGUFValue reads and returns a single metadata value, consuming
// exactly the bytes the type dictates so trailing keys stay aligned even
// when the value itself is uninteresting.
func readGGUFValue(r io.Reader, valueType uint32) (interface{}, error) {
	switch valueType {
	case ggufTypeUint8, ggufTypeInt8, ggufTypeBool:
		var v uint8
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		return uint64(v), nil
	case ggufTypeUint16, ggufTypeInt16:
		var v uint16
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		return uint64(v), nil
	case ggufTypeUint32, ggufTypeInt32:
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		return uint64(v), nil
	case ggufTypeFloat32:
		var v float32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		return float64(v), nil
	case ggufTypeUint64, ggufTypeInt64:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		return v, nil
	case ggufTypeFloat64:
		var v float64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		return v, nil
	case ggufTypeString:
		return readGGUFString(r)
	case ggufTypeArray:
		var elemType uint32
		if err := binary.Read(r, binary.LittleEndian, &elemType); err != nil {
			return nil, err
		}
		var count uint64
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, err
		}
		for i := uint64(0); i < count; i++ {
			if _, err := readGGUFValue(r, elemType); err != nil {
				return nil, err
			}
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown gguf value type %d", valueType)
	}
}

// applyGGUFMetadataKey copies known keys into meta regardless of the
// architecture's key prefix (e.g. both "llama.context_length" and
// "qwen2.context_length" are recognized by suffix).
func applyGGUFMetadataKey(meta *Metadata, alignment *uint64, key string, value interface{}) {
	switch {
	case key == "general.architecture":
		if s, ok := value.(string); ok {
			meta.Architecture = s
		}
	case key == "general.alignment":
		if n, ok := value.(uint64); ok && n > 0 {
			*alignment = n
		}
	case key == "general.file_type":
		if n, ok := value.(uint64); ok {
			meta.FileType = int(n)
		}
	case strings.HasSuffix(key, ".context_length"):
		meta.ContextLength = intFromGGUFValue(value)
	case strings.HasSuffix(key, ".embedding_length"):
		meta.EmbeddingLength = intFromGGUFValue(value)
	case strings.HasSuffix(key, ".block_count"):
		meta.BlockCount = intFromGGUFValue(value)
	case strings.HasSuffix(key, ".attention.head_count_kv"):
		meta.HeadsKV = intFromGGUFValue(value)
	case strings.HasSuffix(key, ".attention.head_count"):
		meta.HeadsQ = intFromGGUFValue(value)
	case strings.HasSuffix(key, ".vocab_size") || key == "tokenizer.ggml.vocab_size":
		meta.VocabSize = intFromGGUFValue(value)
	}
}

func intFromGGUFValue(value interface{}) int {
	switch v := value.(type) {
	case uint64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
