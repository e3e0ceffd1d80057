// Package card contains pure helpers for working with payment card numbers:
// well-formedness checks, brand detection, display formatting and masking.
// Nothing here performs authorization; a valid number only means the digits
// pass the Luhn checksum.
package card

import (
	"regexp"
	"strings"
)

// Brand identifies a card network inferred from the number prefix.
type Brand string

const (
	BrandVisa       Brand = "visa"
	BrandMastercard Brand = "mastercard"
	BrandAmex       Brand = "amex"
	BrandDiscover   Brand = "discover"
	BrandJCB        Brand = "jcb"
	BrandDiners     Brand = "diners"
	BrandUnknown    Brand = "unknown"
)

// MaskRune replaces hidden digits when masking a card number.
const MaskRune = '•'

var digitsOnly = regexp.MustCompile(`^\d{13,19}$`)

// Normalize strips spaces and hyphens from a card number as entered by a user.
func Normalize(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range number {
		if r == ' ' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidNumber reports whether the card number is well formed: 13 to 19 digits
// and a Luhn checksum of zero. Spaces and hyphens are stripped first.
func ValidNumber(number string) bool {
	digits := Normalize(number)
	if !digitsOnly.MatchString(digits) {
		return false
	}
	return luhnSum(digits)%10 == 0
}

// luhnSum walks the digits right to left, doubling every second digit and
// folding results above nine back into a single digit.
func luhnSum(digits string) int {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum
}

// DetectBrand infers the card network from the number prefix. Used for display
// and masking only; it never decides validation outcomes.
func DetectBrand(number string) Brand {
	digits := Normalize(number)
	if digits == "" {
		return BrandUnknown
	}
	switch {
	case strings.HasPrefix(digits, "4"):
		return BrandVisa
	case inPrefixRange(digits, 51, 55) || inPrefixRange(digits, 22, 27):
		return BrandMastercard
	case strings.HasPrefix(digits, "34") || strings.HasPrefix(digits, "37"):
		return BrandAmex
	case hasPrefixInRange(digits, 300, 305) || strings.HasPrefix(digits, "36") || strings.HasPrefix(digits, "38"):
		return BrandDiners
	case strings.HasPrefix(digits, "35"):
		return BrandJCB
	case strings.HasPrefix(digits, "6"):
		return BrandDiscover
	default:
		return BrandUnknown
	}
}

func inPrefixRange(digits string, low, high int) bool {
	if len(digits) < 2 {
		return false
	}
	prefix := int(digits[0]-'0')*10 + int(digits[1]-'0')
	return prefix >= low && prefix <= high
}

func hasPrefixInRange(digits string, low, high int) bool {
	if len(digits) < 3 {
		return false
	}
	prefix := int(digits[0]-'0')*100 + int(digits[1]-'0')*10 + int(digits[2]-'0')
	return prefix >= low && prefix <= high
}

// Format groups a card number for display: blocks of four, or the 4-6-5
// grouping for amex.
func Format(number string) string {
	digits := Normalize(number)
	if digits == "" {
		return ""
	}
	if DetectBrand(digits) == BrandAmex {
		return joinGroups(digits, []int{4, 6, 5})
	}
	groups := make([]int, 0, (len(digits)+3)/4)
	for remaining := len(digits); remaining > 0; remaining -= 4 {
		size := 4
		if remaining < 4 {
			size = remaining
		}
		groups = append(groups, size)
	}
	return joinGroups(digits, groups)
}

// Mask hides all but the last four digits and applies the same grouping as
// Format. The digit count of the input is preserved.
func Mask(number string) string {
	digits := Normalize(number)
	if digits == "" {
		return ""
	}
	masked := []rune(digits)
	keep := 4
	if len(masked) < keep {
		keep = len(masked)
	}
	for i := 0; i < len(masked)-keep; i++ {
		masked[i] = MaskRune
	}
	if DetectBrand(digits) == BrandAmex {
		return joinGroups(string(masked), []int{4, 6, 5})
	}
	groups := make([]int, 0, (len(masked)+3)/4)
	for remaining := len(masked); remaining > 0; remaining -= 4 {
		size := 4
		if remaining < 4 {
			size = remaining
		}
		groups = append(groups, size)
	}
	return joinGroups(string(masked), groups)
}

func joinGroups(s string, sizes []int) string {
	runes := []rune(s)
	parts := make([]string, 0, len(sizes))
	idx := 0
	for _, size := range sizes {
		if idx >= len(runes) {
			break
		}
		end := idx + size
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[idx:end]))
		idx = end
	}
	if idx < len(runes) {
		parts = append(parts, string(runes[idx:]))
	}
	return strings.Join(parts, " ")
}
