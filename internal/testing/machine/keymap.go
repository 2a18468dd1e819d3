package machine

import (
	"unicode"
)

var keymap = map[rune]string{
	'\n': "kp_enter",
	' ':  "spc",
	'.':  "dot",
	'_':  "shift-minus",
	'-':  "minus",
	'/':  "slash",
}

// KeySequence translates text into QEMU sendkey key names.
func KeySequence(text string) []string {
	keys := make([]string, 0, len(text))

	for _, char := range text {
		switch key, ok := keymap[char]; {
		case ok:
			keys = append(keys, key)
		case unicode.IsUpper(char):
			keys = append(keys, "shift-"+string(unicode.ToLower(char)))
		default:
			keys = append(keys, string(char))
		}
	}

	return keys
}

// sendkeyCommand is the monitor command pressing key for 100ms.
func sendkeyCommand(key string) string {
	return "sendkey " + key + " 100"
}
