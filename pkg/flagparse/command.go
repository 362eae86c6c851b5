package flagparse

import (
	"fmt"

	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// Command defines the command to execute.
type Command int

const (
	None = iota
	Dedup
	CrossDedup
	Cache
	Init
	Version
)

var commandToString = map[Command]string{
	None:       "none",
	Dedup:      "dedup",
	CrossDedup: "crossdedup",
	Cache:      "cache",
	Init:       "init",
	Version:    "version",
}

var stringToCommand map[string]Command

func init() {
	stringToCommand = util.InvertMap(commandToString)
}

func (c Command) String() string {
	if str, ok := commandToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_command(%d)", c)
}

func ParseCommand(s string) (Command, error) {
	if command, ok := stringToCommand[s]; ok {
		return command, nil
	}
	return None, fmt.Errorf("invalid command: %q. Must be 'dedup', 'crossdedup', 'cache', 'init', or 'version'", s)
}
