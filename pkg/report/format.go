package report

import (
	"encoding/json"
	"fmt"

	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// Format represents the on-disk encoding of a duplicate report.
type Format string

const (
	Text    Format = "text"
	TextGz  Format = "text.gz"
	TextZst Format = "text.zst"
)

var formatToString = map[Format]string{
	Text:    "text",
	TextGz:  "text.gz",
	TextZst: "text.zst",
}

var stringToFormat map[string]Format

func init() {
	// Inverting the map at runtime ensures formatToString is fully loaded
	stringToFormat = util.InvertMap(formatToString)
}

func (f Format) String() string {
	if str, ok := formatToString[f]; ok {
		return str
	}
	return fmt.Sprintf("unknown_report_format(%s)", string(f))
}

// Extension returns the filename suffix for the format.
func (f Format) Extension() string {
	switch f {
	case TextGz:
		return ".txt.gz"
	case TextZst:
		return ".txt.zst"
	default:
		return ".txt"
	}
}

func ParseFormat(s string) (Format, error) {
	if format, ok := stringToFormat[s]; ok {
		return format, nil
	}
	return "", fmt.Errorf("invalid report format: %q. Must be 'text', 'text.gz', or 'text.zst'", s)
}

// MarshalJSON implements the json.Marshaler interface for Format.
func (f Format) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Format.
func (f *Format) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("report format should be a string, got %s", data)
	}
	format, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = format
	return nil
}
