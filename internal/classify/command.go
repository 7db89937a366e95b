package classify

import "strings"

// Command synthesizes the command line for tool. With skills, the first
// skill is passed via --skill; without, the orchestrator gets "ask" and a
// named tool gets its default flags. extraFlags go right after the
// subcommand (orchestrator) or tool name. The request is always the final,
// single-quoted argument.
func (c *Classifier) Command(tool string, skills []string, request string, extraFlags ...string) string {
	args := []string{shellWord(tool)}
	if tool == c.cfg.Orchestrator {
		if len(skills) > 0 {
			args = append(args, "run")
			args = append(args, extraFlags...)
			args = append(args, "--skill", shellWord(skills[0]))
		} else {
			args = append(args, "ask")
			args = append(args, extraFlags...)
		}
	} else {
		args = append(args, extraFlags...)
		if len(skills) > 0 {
			args = append(args, "--skill", shellWord(skills[0]))
		} else {
			args = append(args, c.cfg.DefaultFlags[tool]...)
		}
	}
	args = append(args, Quote(request))
	return strings.Join(args, " ")
}

// Quote returns s as a single POSIX shell word.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellWord leaves plain identifiers bare and quotes anything else.
func shellWord(s string) string {
	if s == "" {
		return Quote(s)
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./", r)) {
			return Quote(s)
		}
	}
	return s
}
