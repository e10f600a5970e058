package inspector

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash"
)

var multipartPattern = regexp.MustCompile(`^(.*)-(\d{5})-of-(\d{5})\.gguf$`)

// Inspect reads dir (non-recursively) and classifies every model file in
// it, per §4.9.
func Inspect(dir string) (*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading model directory: %w", err)
	}

	report := &Report{}
	groups := map[string]*MultipartGroup{}
	var groupOrder []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)
		info, err := entry.Info()
		if err != nil {
			continue
		}
		report.TotalBytes += info.Size()

		switch {
		case strings.EqualFold(filepath.Ext(name), ".safetensors"):
			report.HasSafetensors = true
			valid, errs := validateSafetensors(path)
			report.SingleFiles = append(report.SingleFiles, FileEntry{
				Path: path, Kind: "safetensors", Bytes: info.Size(),
				Valid: valid, ValidationErrors: errs,
			})

		case strings.EqualFold(filepath.Ext(name), ".gguf"):
			report.HasGGUF = true
			if m := multipartPattern.FindStringSubmatch(name); m != nil {
				base := m[1]
				if _, ok := groups[base]; !ok {
					groups[base] = &MultipartGroup{}
					groupOrder = append(groupOrder, base)
				}
				g := groups[base]
				g.Parts = append(g.Parts, path)
				g.TotalBytes += info.Size()
			} else {
				result := parseGGUF(path)
				applyGGUFResultToReport(report, result)
				report.SingleFiles = append(report.SingleFiles, FileEntry{
					Path: path, Kind: "gguf", Bytes: info.Size(),
					Quantization:     quantizationLabel(name),
					Valid:            result.Valid,
					ValidationErrors: result.Errors,
				})
			}
		}
	}

	for _, base := range groupOrder {
		g := groups[base]
		sort.Strings(g.Parts)
		g.FirstPart = g.Parts[0]
		g.Quantization = quantizationLabel(filepath.Base(g.FirstPart))

		result := parseGGUF(g.FirstPart)
		applyGGUFResultToReport(report, result)
		g.Valid = result.Valid
		g.ValidationErrors = result.Errors
		g.Files = len(g.Parts)
		g.Status = multipartStatusReady
		if !g.Valid {
			g.Status = multipartStatusInvalid
		}

		report.MultipartGroups = append(report.MultipartGroups, *g)
	}

	report.GGUFValidation.Valid = true
	for _, f := range report.SingleFiles {
		if f.Kind == "gguf" && !f.Valid {
			report.GGUFValidation.Valid = false
			report.GGUFValidation.Errors = append(report.GGUFValidation.Errors, prefixErrors(f.Path, f.ValidationErrors)...)
		}
	}
	for _, g := range report.MultipartGroups {
		if !g.Valid {
			report.GGUFValidation.Valid = false
			report.GGUFValidation.Errors = append(report.GGUFValidation.Errors, prefixErrors(g.FirstPart, g.ValidationErrors)...)
		}
	}

	multipart := len(report.MultipartGroups) > 0
	report.EngineRecommendation = Recommend(multipart, report.HasSafetensors)
	report.TokenizerSuggestions = tokenizerSuggestions(filepath.Base(strings.TrimRight(dir, "/")), report.Metadata.Architecture)

	return report, nil
}

func prefixErrors(path string, errs []string) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = path + ": " + e
	}
	return out
}

// applyGGUFResultToReport fills report.Metadata from the first
// successfully-parsed GGUF header seen, since every shard of a multi-part
// model shares one architecture.
func applyGGUFResultToReport(report *Report, result ggufResult) {
	if report.Metadata.Architecture != "" {
		return
	}
	if result.Valid || result.Meta.Architecture != "" {
		report.Metadata = result.Meta
	}
}

// validateSafetensors checks the 8-byte little-endian header length prefix
// and that the declared header is valid JSON, without touching the tensor
// data that follows.
func validateSafetensors(path string) (bool, []string) {
	f, err := os.Open(path)
	if err != nil {
		return false, []string{fmt.Sprintf("opening file: %v", err)}
	}
	defer f.Close()

	var headerLen uint64
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		return false, []string{"truncated before header length"}
	}

	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(f, buf); err != nil {
		return false, []string{"truncated header"}
	}

	var header map[string]interface{}
	if err := json.Unmarshal(buf, &header); err != nil {
		return false, []string{fmt.Sprintf("invalid header JSON: %v", err)}
	}
	return true, nil
}

// tokenizerCurated maps a lowercase architecture/folder-name keyword to
// suggested tokenizer sources, a curated pattern table per §4.9.
var tokenizerCurated = []struct {
	keyword      string
	suggestions  []string
}{
	{"llama", []string{"meta-llama tokenizer family", "hf-internal-testing/llama-tokenizer"}},
	{"mistral", []string{"mistralai/Mistral-7B-v0.1"}},
	{"mixtral", []string{"mistralai/Mixtral-8x7B-v0.1"}},
	{"qwen", []string{"Qwen/Qwen2-tokenizer"}},
	{"gemma", []string{"google/gemma-7b"}},
	{"phi", []string{"microsoft/phi-2"}},
	{"deepseek", []string{"deepseek-ai tokenizer family"}},
	{"falcon", []string{"tiiuae/falcon-7b"}},
	{"gpt2", []string{"openai-community/gpt2"}},
}

func tokenizerSuggestions(folderName, architecture string) []string {
	haystack := strings.ToLower(folderName + " " + architecture)
	var out []string
	for _, c := range tokenizerCurated {
		if strings.Contains(haystack, c.keyword) {
			out = append(out, c.suggestions...)
		}
	}
	return out
}

// ContentHashes computes an xxhash digest of every regular file under dir,
// keyed by path relative to dir. Used by the delete-safety test property
// (§8 property 2) to verify a model directory is byte-identical before and
// after an operation that must not touch files.
func ContentHashes(dir string) (map[string]uint64, error) {
	out := make(map[string]uint64)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		h := xxhash.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		out[rel] = h.Sum64()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// compareHashes reports every path whose content hash changed (or which
// appeared/disappeared) between two ContentHashes snapshots.
func compareHashes(before, after map[string]uint64) []string {
	var diffs []string
	for path, h := range before {
		if ah, ok := after[path]; !ok {
			diffs = append(diffs, path+": removed")
		} else if ah != h {
			diffs = append(diffs, path+": content changed")
		}
	}
	for path := range after {
		if _, ok := before[path]; !ok {
			diffs = append(diffs, path+": added")
		}
	}
	sort.Strings(diffs)
	return diffs
}
