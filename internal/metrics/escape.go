package metrics

import "strings"

var labelEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
)

// EscapeLabelValue escapes a label value for the Prometheus text
// exposition format (backslash, double quote, newline). Used when the
// worker writes gauges to a node-exporter textfile.
func EscapeLabelValue(s string) string {
	return labelEscaper.Replace(s)
}

// UnescapeLabelValue reverses EscapeLabelValue; a Prometheus text
// parser applies the same rules.
func UnescapeLabelValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			case '"':
				b.WriteByte('"')
				i++
				continue
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
