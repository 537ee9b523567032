package bot

import "strings"

// CommandParser разбирает команды с префиксами !, . и /.
type CommandParser struct {
	prefixes []string
	botName  string
}

// NewCommandParser создаёт парсер. botName нужен, чтобы понимать
// команды вида /open@mybot из групп.
func NewCommandParser(botName string) *CommandParser {
	return &CommandParser{
		prefixes: []string{"!", ".", "/"},
		botName:  strings.ToLower(botName),
	}
}

// ParseCommand разбирает текст на команду (в нижнем регистре) и аргументы.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	if name, addressee, ok := strings.Cut(command, "@"); ok {
		if p.botName != "" && addressee != p.botName {
			return "", nil, false
		}
		command = name
	}
	if command == "" {
		return "", nil, false
	}
	return command, parts[1:], true
}
