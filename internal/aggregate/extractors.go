package aggregate

import (
	"fmt"
)

// Extractor pulls one value out of a decoded metric file. A failed
// lookup returns an explicit error; the engine records it instead of
// swallowing it.
type Extractor func(data map[string]any) (any, error)

// Rule maps one metric key (the middle component of a result filename)
// to one output key on the consolidated entry. Extractors are tried in
// order; the first success wins. Several rules may share a metric key
// when one file type supplies several output keys.
type Rule struct {
	MetricKey  string
	OutputKey  string
	Extractors []Extractor
}

// field extracts a top-level key.
func field(key string) Extractor {
	return func(data map[string]any) (any, error) {
		v, ok := data[key]
		if !ok || v == nil {
			return nil, fmt.Errorf("no %q field", key)
		}
		return v, nil
	}
}

// nested extracts data[outer][inner].
func nested(outer, inner string) Extractor {
	return func(data map[string]any) (any, error) {
		o, ok := data[outer].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("no %q object", outer)
		}
		v, ok := o[inner]
		if !ok || v == nil {
			return nil, fmt.Errorf("no %q.%q field", outer, inner)
		}
		return v, nil
	}
}

// pooledMean extracts pooled_metrics[key].mean from a raw vmaf tool
// log, the format older runs stored as their canonical vmaf result.
func pooledMean(key string) Extractor {
	return func(data map[string]any) (any, error) {
		pooled, ok := data["pooled_metrics"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("no pooled_metrics object")
		}
		metric, ok := pooled[key].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("no pooled metric %q", key)
		}
		mean, ok := metric["mean"].(float64)
		if !ok {
			return nil, fmt.Errorf("pooled metric %q has no mean", key)
		}
		return mean, nil
	}
}

// pooledWeightedPSNR computes the luma-weighted combined PSNR
// (6·Y + Cb + Cr)/8 from a raw vmaf tool log.
func pooledWeightedPSNR() Extractor {
	return func(data map[string]any) (any, error) {
		y, errY := pooledMean("psnr_y")(data)
		cb, errCb := pooledMean("psnr_cb")(data)
		cr, errCr := pooledMean("psnr_cr")(data)
		if errY != nil || errCb != nil || errCr != nil {
			return nil, fmt.Errorf("incomplete pooled psnr planes")
		}
		return (6*y.(float64) + cb.(float64) + cr.(float64)) / 8, nil
	}
}

// rules is the full extractor table. Per metric key the chains run
// newest format first, then the formats older backend versions wrote,
// so re-aggregating an old results tree still fills every key.
var rules = []Rule{
	// vmaf result files carry the whole feature set. Flat fields are
	// the current format; pooled_metrics is the raw tool log that
	// earlier runs stored verbatim.
	{"vmaf", "vmaf", []Extractor{field("vmaf"), pooledMean("vmaf")}},
	{"vmaf", "vmaf-neg", []Extractor{field("vmaf_neg"), pooledMean("vmaf_neg")}},
	{"vmaf", "psnr", []Extractor{field("psnr"), pooledWeightedPSNR()}},
	{"vmaf", "psnr_y", []Extractor{field("psnr_y"), pooledMean("psnr_y")}},
	{"vmaf", "psnr_cb", []Extractor{field("psnr_cb"), pooledMean("psnr_cb")}},
	{"vmaf", "psnr_cr", []Extractor{field("psnr_cr"), pooledMean("psnr_cr")}},
	{"vmaf", "ssim", []Extractor{field("ssim"), pooledMean("float_ssim")}},
	{"vmaf", "ms-ssim", []Extractor{field("ms_ssim"), pooledMean("float_ms_ssim")}},

	// ffmpeg psnr result files. psnr_avg is "inf" for bit-identical
	// pairs; the value is carried through as-is.
	{"psnr", "psnr", []Extractor{field("psnr_avg")}},
	{"psnr", "psnr_y", []Extractor{field("psnr_y")}},

	{"avqbitsh0f", "avqbitsh0f", []Extractor{field("per_sequence")}},
	{"lpips", "lpips", []Extractor{field("lpips"), nested("metadata", "mean_distance")}},
	{"dover", "dover", []Extractor{field("dover"), field("overall_score")}},
	{"fastvqa", "fastvqa", []Extractor{field("fastervqa_score")}},
	{"musiq", "musiq", []Extractor{field("mean_musiq")}},
	{"qalign", "qalign", []Extractor{field("qalign_score")}},
	{"cvqa-nr", "cvqa-nr", []Extractor{field("score")}},
	{"cvqa-fr", "cvqa-fr", []Extractor{field("score")}},
	{"cvqa-fr-ms", "cvqa-fr-ms", []Extractor{field("score")}},
	{"p12044", "p12044", []Extractor{field("score")}},

	// Filenames written by pre-rename backend versions.
	{"NRCompressedVQA", "cvqa-nr", []Extractor{field("score")}},
	{"FRCompressedVQA", "cvqa-fr", []Extractor{field("score")}},
	{"FRCompressedVQAMS", "cvqa-fr-ms", []Extractor{field("score")}},
}

// rulesFor returns the rules registered for a metric key, in table
// order. Unknown keys return nil; their files are counted but ignored.
func rulesFor(metricKey string) []Rule {
	var out []Rule
	for _, r := range rules {
		if r.MetricKey == metricKey {
			out = append(out, r)
		}
	}
	return out
}
