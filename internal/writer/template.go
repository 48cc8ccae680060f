// Package writer implements the writer worker (spec.md §4.2): vectored
// writes to disk, file rotation by time and size, file-header
// construction, and block-boundary padding.
package writer

import (
	"fmt"
	"strings"
	"time"
)

// RenderFilename expands a filename template per spec.md §6.2: %COREID
// and %FCOUNT tokens are substituted first, then the result is passed
// through an strftime-equivalent expansion using startTime, then the
// auto-append rules apply.
func RenderFilename(template string, coreID, fileCount int, startTime time.Time, sizeRotationActive bool) string {
	hasCoreID := strings.Contains(template, "%COREID")
	hasFCount := strings.Contains(template, "%FCOUNT")

	expanded := template
	expanded = strings.ReplaceAll(expanded, "%COREID", fmt.Sprintf("%02d", coreID))
	expanded = strings.ReplaceAll(expanded, "%FCOUNT", fmt.Sprintf("%03d", fileCount))

	expanded = strftime(expanded, startTime)

	if !hasCoreID {
		expanded += fmt.Sprintf("_%02d", coreID)
	}
	if sizeRotationActive && !hasFCount {
		expanded += fmt.Sprintf("_%03d", fileCount)
	}
	if !strings.HasSuffix(expanded, ".pcap") {
		expanded += ".pcap"
	}
	return expanded
}

// strftimeDirectives maps a small, commonly used subset of strftime
// conversion specifiers to Go reference-time layouts. This is not a
// complete strftime implementation — Go's standard library has none —
// but it covers every directive a capture filename template plausibly
// needs: date, time, and zero-padded numeric fields.
var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
	'j': "002",
}

// strftime expands %-directives in s using t, leaving unrecognized
// directives and literal text untouched.
func strftime(s string, t time.Time) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		spec := s[i+1]
		if spec == '%' {
			b.WriteByte('%')
			i++
			continue
		}
		if layout, ok := strftimeDirectives[spec]; ok {
			b.WriteString(t.Format(layout))
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ValidateTemplate rejects templates that would overflow a reasonable
// path length once tokens and the .pcap extension are applied, one of
// the configuration errors of spec.md §7.
func ValidateTemplate(template string) error {
	const maxTemplateLen = 4000
	if len(template) == 0 {
		return fmt.Errorf("writer: empty output filename template")
	}
	if len(template) > maxTemplateLen {
		return fmt.Errorf("writer: output filename template too long: %d bytes", len(template))
	}
	return nil
}
