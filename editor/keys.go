package editor

import (
	"slices"
	"strings"
)

type Command string

const (
	CmdDelete Command = "delete"
	CmdCopy   Command = "copy"
	CmdPaste  Command = "paste"
	CmdUndo   Command = "undo"
	CmdRedo   Command = "redo"
)

// KeyMap binds normalised key chords to commands.
type KeyMap map[string]Command

var modifierAliases = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"cmd":     "meta",
	"command": "meta",
	"meta":    "meta",
	"super":   "meta",
	"alt":     "alt",
	"option":  "alt",
	"shift":   "shift",
}

var keyAliases = map[string]string{
	"del": "delete",
	"bs":  "backspace",
	"esc": "escape",
}

// NormalizeChord lowercases a chord such as "Shift+Ctrl+Z" and orders its
// modifiers, so that it reads "ctrl+shift+z".
func NormalizeChord(chord string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(chord)), "+")
	var mods []string
	key := ""
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if m, ok := modifierAliases[p]; ok {
			if !slices.Contains(mods, m) {
				mods = append(mods, m)
			}
			continue
		}
		if alias, ok := keyAliases[p]; ok {
			p = alias
		}
		key = p
	}
	slices.Sort(mods)
	if key != "" {
		mods = append(mods, key)
	}
	return strings.Join(mods, "+")
}

func DefaultKeyMap() KeyMap {
	return NewKeyMap(map[string]Command{
		"delete":       CmdDelete,
		"backspace":    CmdDelete,
		"ctrl+c":       CmdCopy,
		"meta+c":       CmdCopy,
		"ctrl+v":       CmdPaste,
		"meta+v":       CmdPaste,
		"ctrl+z":       CmdUndo,
		"meta+z":       CmdUndo,
		"ctrl+shift+z": CmdRedo,
		"meta+shift+z": CmdRedo,
		"ctrl+y":       CmdRedo,
	})
}

func NewKeyMap(bindings map[string]Command) KeyMap {
	km := make(KeyMap, len(bindings))
	for chord, cmd := range bindings {
		km.Bind(chord, cmd)
	}
	return km
}

func (km KeyMap) Bind(chord string, cmd Command) {
	km[NormalizeChord(chord)] = cmd
}

func (km KeyMap) Lookup(chord string) (Command, bool) {
	cmd, ok := km[NormalizeChord(chord)]
	return cmd, ok
}
