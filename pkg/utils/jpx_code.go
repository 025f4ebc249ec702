package utils

import (
	"strings"
)

// J-Quants identifies issues by a 5-character local code: the familiar
// 4-character securities code plus a trailing check character, "0" for
// almost every listed company (Toyota 7203 is "72030"). Newer listings
// may carry letters in either position.

// NormalizeCode converts user input to the 5-character J-Quants form.
// 4-character codes get the trailing "0" appended; 5-character codes
// pass through. Whitespace and a leading $ are stripped.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(strings.ToUpper(code))
	code = strings.TrimPrefix(code, "$")

	if len(code) == 4 {
		return code + "0"
	}
	return code
}

// DisplayCode converts a 5-character J-Quants code back to the
// 4-character form shown on quote screens, when the trailing check
// character is the plain "0".
func DisplayCode(code string) string {
	if len(code) == 5 && strings.HasSuffix(code, "0") {
		return code[:4]
	}
	return code
}

// IsValidCode reports whether the code looks like a JPX securities
// code after normalization: 5 characters, digits or uppercase letters,
// starting with a digit.
func IsValidCode(code string) bool {
	code = NormalizeCode(code)
	if len(code) != 5 {
		return false
	}
	if code[0] < '0' || code[0] > '9' {
		return false
	}
	for i := 1; i < len(code); i++ {
		c := code[i]
		digit := c >= '0' && c <= '9'
		letter := c >= 'A' && c <= 'Z'
		if !digit && !letter {
			return false
		}
	}
	return true
}
