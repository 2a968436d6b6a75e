package utils

import "strings"

// MaskSecret hides all but the last four characters of a token or secret
// so it can be logged for correlation.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return strings.Repeat("*", 3) + s[len(s)-4:]
}

// MaskEmail keeps the first character of the local part and the full domain.
func MaskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return MaskSecret(email)
	}
	return email[:1] + "***" + email[at:]
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}
