package executor

import "strings"

// SpliceCrontab returns current with the line tagged by marker replaced by
// line. An empty line removes the tagged line. Untagged lines are kept in
// place; a new line is appended.
func SpliceCrontab(current, marker, line string) string {
	tag := "# " + marker
	var out []string
	placed := false
	for _, l := range splitLines(current) {
		if strings.HasSuffix(strings.TrimRight(l, " \t"), tag) {
			if line != "" && !placed {
				out = append(out, line)
				placed = true
			}
			continue
		}
		out = append(out, l)
	}
	if line != "" && !placed {
		out = append(out, line)
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

// crontabHas reports whether current holds exactly the expected state for
// marker: the single line when line is set, nothing otherwise
func crontabHas(current, marker, line string) bool {
	tag := "# " + marker
	var found []string
	for _, l := range splitLines(current) {
		if strings.HasSuffix(strings.TrimRight(l, " \t"), tag) {
			found = append(found, l)
		}
	}
	if line == "" {
		return len(found) == 0
	}
	return len(found) == 1 && found[0] == line
}

func splitLines(s string) []string {
	s = strings.TrimRight(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
