package export

import (
	"path"
	"strings"
	"unicode"
)

// SanitizeName keeps letters, digits and a few punctuation marks, replaces
// anything else with '_' and drops control characters. The result is at
// most maxLen runes when maxLen > 0.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsControl(r):
		case isAllowedNameRune(r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		if runes := []rune(cleaned); len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	return strings.ContainsRune(" -_.,()", r)
}

// FileStem returns a file name stem for an EDL, falling back to the video
// name without its extension.
func FileStem(projectName, videoName string) string {
	if name := SanitizeName(projectName, 120); name != "" {
		return strings.ReplaceAll(name, " ", "_")
	}
	base := strings.TrimSuffix(videoName, path.Ext(videoName))
	if name := SanitizeName(base, 120); name != "" {
		return strings.ReplaceAll(name, " ", "_")
	}
	return "adclip_export"
}
