package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"lesson-sync/server/internal/model"
	"lesson-sync/server/internal/workspace"
)

var errQuit = errors.New("quit")

const helpText = `commands:
  open <materialId> [title] [url]     open a video material
  play | pause | seek <sec> | close   video controls
  content open <materialId> | content close
  focus <blockId> | navigate <sectionId> [rowId] | lock on|off
  grammar open <materialId> <itemId> | grammar start [sec] | grammar reveal
  grammar reset | grammar close | grammar input <gap> <value>
  block <blockId> <materialId> play|pause|seek <pos>
  panel open|close | state | stats | resync | help | quit`

// Snapshot 是 state 命令输出的整体视图。
type Snapshot struct {
	Role          model.Role         `json:"role"`
	WorkspaceOpen bool               `json:"workspaceOpen"`
	OutOfSync     bool               `json:"outOfSync"`
	Video         model.VideoState   `json:"video"`
	Content       model.ContentState `json:"content"`
	Grammar       model.GrammarState `json:"grammar"`
}

// Exec 对 Session 执行一行命令。
func Exec(s *workspace.Session, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "open":
		if len(args) < 1 {
			return usage("open <materialId> [title] [url]")
		}
		m := model.Material{ID: args[0], Kind: "video"}
		if len(args) > 1 {
			m.Title = args[1]
		}
		if len(args) > 2 {
			m.URL = args[2]
		}
		s.Video().Open(m)
	case "play":
		s.Video().Play()
	case "pause":
		s.Video().Pause()
	case "seek":
		sec, err := floatArg(args, 0, "seek <sec>")
		if err != nil {
			return err
		}
		s.Video().Seek(sec)
	case "close":
		s.Video().Close()
	case "content":
		return execContent(s, args)
	case "focus":
		if len(args) != 1 {
			return usage("focus <blockId>")
		}
		s.Content().Focus(args[0])
	case "navigate":
		if len(args) < 1 {
			return usage("navigate <sectionId> [rowId]")
		}
		row := ""
		if len(args) > 1 {
			row = args[1]
		}
		s.Content().Navigate(args[0], row)
	case "lock":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return usage("lock on|off")
		}
		s.Content().SetScrollLock(args[0] == "on")
	case "grammar":
		return execGrammar(s, args)
	case "block":
		return execBlock(s, args)
	case "panel":
		if len(args) != 1 || (args[0] != "open" && args[0] != "close") {
			return usage("panel open|close")
		}
		s.SetWorkspaceOpen(args[0] == "open")
	case "state":
		return writeJSON(out, Snapshot{
			Role:          s.Role(),
			WorkspaceOpen: s.Host().WorkspaceOpen(),
			OutOfSync:     s.OutOfSync(),
			Video:         s.Video().State(),
			Content:       s.Content().State(),
			Grammar:       s.Grammar().State(),
		})
	case "stats":
		return writeJSON(out, s.Stats())
	case "resync":
		s.Resync()
	case "help":
		fmt.Fprintln(out, helpText)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func execContent(s *workspace.Session, args []string) error {
	if len(args) == 0 {
		return usage("content open <materialId> | content close")
	}
	switch args[0] {
	case "open":
		if len(args) != 2 {
			return usage("content open <materialId>")
		}
		s.Content().Open(args[1])
	case "close":
		s.Content().Close()
	default:
		return usage("content open <materialId> | content close")
	}
	return nil
}

func execGrammar(s *workspace.Session, args []string) error {
	if len(args) == 0 {
		return usage("grammar open|start|reveal|reset|close|input ...")
	}
	g := s.Grammar()
	switch args[0] {
	case "open":
		if len(args) != 3 {
			return usage("grammar open <materialId> <itemId>")
		}
		g.Open(args[1], args[2])
	case "start":
		timer := 0
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return usage("grammar start [sec]")
			}
			timer = n
		}
		g.Start(timer)
	case "reveal":
		g.Reveal()
	case "reset":
		g.Reset()
	case "close":
		g.Close()
	case "input":
		if len(args) < 3 {
			return usage("grammar input <gap> <value>")
		}
		gap, err := strconv.Atoi(args[1])
		if err != nil {
			return usage("grammar input <gap> <value>")
		}
		g.SendInput(gap, strings.Join(args[2:], " "))
	default:
		return fmt.Errorf("unknown grammar command %q", args[0])
	}
	return nil
}

func execBlock(s *workspace.Session, args []string) error {
	if len(args) != 4 {
		return usage("block <blockId> <materialId> play|pause|seek <pos>")
	}
	pos, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return usage("block <blockId> <materialId> play|pause|seek <pos>")
	}
	b := s.Binder(args[0], args[1])
	switch args[2] {
	case "play":
		b.Play(pos)
	case "pause":
		b.Pause(pos)
	case "seek":
		b.Seek(pos)
	default:
		return usage("block <blockId> <materialId> play|pause|seek <pos>")
	}
	return nil
}

func floatArg(args []string, i int, form string) (float64, error) {
	if len(args) <= i {
		return 0, usage(form)
	}
	v, err := strconv.ParseFloat(args[i], 64)
	if err != nil {
		return 0, usage(form)
	}
	return v, nil
}

func usage(form string) error {
	return fmt.Errorf("usage: %s", form)
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
