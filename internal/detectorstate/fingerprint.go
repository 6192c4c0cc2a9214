package detectorstate

import (
	"sort"
	"strconv"
	"strings"

	"github.com/moolen/tailwatch/internal/spot"
)

// Fingerprint identifies one detector: the metric, the hyperparameters that
// shape its model and the labels of the series it watches.
type Fingerprint string

// NewFingerprint builds the fingerprint for metric with labels and params.
// Label order does not matter.
func NewFingerprint(metric string, labels map[string]string, params spot.Hyperparameters) Fingerprint {
	var b strings.Builder
	b.WriteString(metric)
	b.WriteString("|p=")
	b.WriteString(strconv.FormatFloat(params.Probability, 'g', -1, 64))
	b.WriteString("|depth=")
	b.WriteString(strconv.Itoa(params.Depth))
	b.WriteString("|update=")
	b.WriteString(strconv.Itoa(params.UpdateInterval))
	b.WriteString("|method=")
	b.WriteString(string(params.Method))
	b.WriteString("|side=")
	b.WriteString(string(params.Side))

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("|{")
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(labels[k]))
	}
	b.WriteByte('}')
	return Fingerprint(b.String())
}
