// SPDX-License-Identifier: Apache-2.0

package app

// splitServerCommands splits the positional args left over after cobra's
// own "--" flag terminator into one command vector per "--"-separated
// group, mirroring original_source/dada.py's parse_server_commands: the
// first group is the primary server (index 0), every subsequent group a
// secondary.
func splitServerCommands(args []string) [][]string {
	var commands [][]string
	current := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--" {
			if len(current) > 0 {
				commands = append(commands, current)
			}
			current = nil
			continue
		}
		current = append(current, a)
	}
	if len(current) > 0 {
		commands = append(commands, current)
	}
	return commands
}
