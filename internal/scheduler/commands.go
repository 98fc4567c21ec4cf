package scheduler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tanq16/rangedl/internal/utils"
)

type CommandKind int

const (
	CommandPause CommandKind = iota
	CommandResume
	CommandLimit
)

type Command struct {
	Kind  CommandKind
	Limit int64
}

// ParseCommand reads one control line: "p" or "pause", "r" or "resume",
// "l <speed>" or "limit <speed>".
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	switch fields[0] {
	case "p", "pause":
		return Command{Kind: CommandPause}, nil
	case "r", "resume":
		return Command{Kind: CommandResume}, nil
	case "l", "limit":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("usage: l <speed>, e.g. l 2MB or l 0")
		}
		limit, err := utils.ParseSpeed(fields[1])
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: CommandLimit, Limit: limit}, nil
	}
	return Command{}, fmt.Errorf("unknown command %q", fields[0])
}

func (s *Scheduler) Apply(cmd Command) {
	switch cmd.Kind {
	case CommandPause:
		s.Pause()
	case CommandResume:
		s.Resume()
	case CommandLimit:
		s.UpdateSpeedLimit(cmd.Limit)
	}
}

// ListenCommands applies control lines read from r until r is exhausted or
// ctx ends. Bad lines are logged and skipped.
func (s *Scheduler) ListenCommands(ctx context.Context, r io.Reader) {
	log := utils.GetLogger("controls")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, err := ParseCommand(line)
		if err != nil {
			log.Warn().Err(err).Str("input", line).Msg("Ignoring control command")
			continue
		}
		log.Debug().Str("input", line).Msg("Applying control command")
		s.Apply(cmd)
	}
}
