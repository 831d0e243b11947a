package utils

// MaskSecret keeps the first four characters of s for log lines.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "*****"
	default:
		return s[:4] + "*****"
	}
}
