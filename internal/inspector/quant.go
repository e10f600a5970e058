package inspector

import "strings"

// knownQuantLabels lists the llama.cpp quantization tags recognized in
// filenames, grouped by family; quantizationLabel keeps the longest match,
// so a token like "Q5_K_M" is preferred over the shorter "Q5_K" it contains.
var knownQuantLabels = []string{
	"IQ4_NL", "IQ4_XS", "IQ3_XXS", "IQ3_XS", "IQ3_S", "IQ3_M",
	"IQ2_XXS", "IQ2_XS", "IQ2_S", "IQ2_M", "IQ1_S", "IQ1_M",
	"Q2_K", "Q3_K_L", "Q3_K_M", "Q3_K_S", "Q3_K",
	"Q4_K_M", "Q4_K_S", "Q4_K", "Q4_0", "Q4_1",
	"Q5_K_M", "Q5_K_S", "Q5_K", "Q5_0", "Q5_1",
	"Q6_K", "Q8_0",
	"BF16", "F16", "F32",
}

// quantizationLabel scans filename for the longest recognized quantization
// tag (§4.9: "quantization label from filename").
func quantizationLabel(filename string) string {
	upper := strings.ToUpper(filename)
	best := ""
	for _, label := range knownQuantLabels {
		if strings.Contains(upper, label) && len(label) > len(best) {
			best = label
		}
	}
	return best
}
