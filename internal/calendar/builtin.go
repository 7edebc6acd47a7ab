package calendar

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Builtins returns the calendars shipped with the service.
func Builtins() ([]Calendar, error) {
	names, err := fs.Glob(builtinFS, "builtin/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]Calendar, 0, len(names))
	for _, name := range names {
		b, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		var c Calendar
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		for i := range c.Entries {
			c.Entries[i].CalendarID = c.ID
			if c.Entries[i].ID == "" {
				c.Entries[i].ID = fmt.Sprintf("%s-%02d", c.ID, i+1)
			}
		}
		out = append(out, c)
	}
	return out, nil
}
