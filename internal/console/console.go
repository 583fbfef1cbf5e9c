// Package console is the terminal front-end: a line-based REPL over one
// learner session. Lines starting with "/" are commands; anything else is
// sent to the conversation partner.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/MrWong99/flowtalk/internal/app"
	"github.com/MrWong99/flowtalk/internal/catalog"
	"github.com/MrWong99/flowtalk/internal/conversation"
	"github.com/MrWong99/flowtalk/internal/prompt"
	"github.com/MrWong99/flowtalk/internal/session"
)

// errQuit ends Run without an error.
var errQuit = errors.New("console: quit")

// Sessions opens and closes learner sessions. *app.SessionManager
// implements it.
type Sessions interface {
	Open(ctx context.Context, opts app.OpenOptions) (*session.Controller, error)
	Close(id string) error
}

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, args string) error
}

// Console runs the REPL. Create it with New.
type Console struct {
	sessions Sessions
	catalog  *catalog.Catalog
	in       io.Reader

	outMu sync.Mutex
	out   io.Writer

	ctrl     *session.Controller
	commands map[string]command
}

// New returns a Console reading commands from in and writing to out.
func New(sessions Sessions, cat *catalog.Catalog, in io.Reader, out io.Writer) *Console {
	c := &Console{sessions: sessions, catalog: cat, in: in, out: out}
	c.commands = map[string]command{
		"help":     {"/help", "show this list", c.cmdHelp},
		"personas": {"/personas", "list conversation partners", c.cmdPersonas},
		"persona":  {"/persona <name>", "switch partner", c.cmdPersona},
		"topics":   {"/topics", "list topics by category", c.cmdTopics},
		"start":    {"/start <topic>", "start a roleplay topic", c.cmdStart},
		"mode":     {"/mode <L1-L4>", "set difficulty mode", c.cmdMode},
		"hint":     {"/hint", "show the suggested reply", c.cmdHint},
		"profile":  {"/profile", "show level, XP and streak", c.cmdProfile},
		"replay":   {"/replay", "play the last reply again", c.cmdReplay},
		"leave":    {"/leave", "leave the current topic", c.cmdLeave},
		"quit":     {"/quit", "exit", c.cmdQuit},
	}
	return c
}

// Run opens a session and processes input until EOF, /quit or ctx is
// cancelled.
func (c *Console) Run(ctx context.Context) error {
	ctrl, err := c.sessions.Open(ctx, app.OpenOptions{Transport: "console", Listener: c.onEvent})
	if err != nil {
		return fmt.Errorf("console: open session: %w", err)
	}
	c.ctrl = ctrl
	defer func() {
		if err := c.sessions.Close(ctrl.ID()); err != nil {
			slog.Warn("console: close session", "err", err)
		}
	}()

	v := ctrl.View()
	c.printf("Welcome to FlowTalk! You are talking with %s (level %d, %s).\n", v.Persona.Name, v.Level, v.Mode.DisplayName())
	c.printf("Type /topics to pick a topic or /help for commands.\n")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		c.prompt()
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			return nil
		}
		if err := c.handle(ctx, strings.TrimSpace(line)); err != nil {
			if errors.Is(err, errQuit) {
				c.printf("Bye!\n")
				return nil
			}
			if msg := describe(err); msg != "" {
				c.printf("%s\n", msg)
			}
		}
	}
}

func (c *Console) handle(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		if err := c.ctrl.Send(ctx, line); err != nil {
			return commandError(err)
		}
		c.showHint(false)
		return nil
	}

	name, args, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	cmd, ok := c.commands[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown command /%s, type /help", name)
	}
	return cmd.run(ctx, strings.TrimSpace(args))
}

func (c *Console) cmdHelp(context.Context, string) error {
	names := make([]string, 0, len(c.commands))
	for n := range c.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		cmd := c.commands[n]
		c.printf("  %-16s %s\n", cmd.usage, cmd.help)
	}
	return nil
}

func (c *Console) cmdPersonas(context.Context, string) error {
	v := c.ctrl.View()
	for _, p := range c.catalog.ListPersonas() {
		mark := " "
		if p.ID == v.Persona.ID {
			mark = "*"
		}
		status := strings.Join(p.Traits, ", ")
		if !p.IsUnlocked(v.Level) {
			status = fmt.Sprintf("locked until level %d", p.MinLevel)
		}
		c.printf("%s %-8s %s\n", mark, p.Name, status)
	}
	return nil
}

func (c *Console) cmdPersona(_ context.Context, args string) error {
	p, ok := c.catalog.ResolvePersona(args)
	if !ok {
		return fmt.Errorf("%w: %q", session.ErrUnknownPersona, args)
	}
	if err := c.ctrl.SelectPersona(p.ID); err != nil {
		if errors.Is(err, session.ErrLocked) {
			return fmt.Errorf("%s unlocks at level %d", p.Name, p.MinLevel)
		}
		return err
	}
	c.printf("You are now talking with %s.\n", p.Name)
	return nil
}

func (c *Console) cmdTopics(context.Context, string) error {
	v := c.ctrl.View()
	snap := c.ctrl.Progress().Snapshot()
	groups := c.catalog.TopicsByCategory()
	cats := make([]string, 0, len(groups))
	for cat := range groups {
		cats = append(cats, string(cat))
	}
	sort.Strings(cats)
	for _, cat := range cats {
		c.printf("%s\n", cat)
		for _, t := range groups[catalog.Category(cat)] {
			status := fmt.Sprintf("%3.0f%% mastered", snap.MasteryPercent(t.ID))
			if !t.IsUnlocked(v.Level) {
				status = fmt.Sprintf("locked until level %d", t.MinLevel)
			}
			c.printf("  %-16s %-22s %s\n", t.ID, t.Title, status)
		}
	}
	return nil
}

func (c *Console) cmdStart(ctx context.Context, args string) error {
	t, ok := c.catalog.ResolveTopic(args)
	if !ok {
		return fmt.Errorf("%w: %q", session.ErrUnknownTopic, args)
	}
	if err := c.ctrl.StartTopic(ctx, t.ID); err != nil {
		if errors.Is(err, session.ErrLocked) {
			return fmt.Errorf("%s unlocks at level %d", t.Title, t.MinLevel)
		}
		return commandError(err)
	}
	c.showHint(false)
	return nil
}

func (c *Console) cmdMode(_ context.Context, args string) error {
	m, err := prompt.ParseMode(args)
	if err != nil {
		return fmt.Errorf("unknown mode %q, use L1, L2, L3 or L4", args)
	}
	if err := c.ctrl.SetMode(m); err != nil {
		return err
	}
	c.printf("Mode set to %s.\n", m.DisplayName())
	return nil
}

func (c *Console) cmdHint(context.Context, string) error {
	c.showHint(true)
	return nil
}

func (c *Console) cmdProfile(context.Context, string) error {
	v := c.ctrl.View()
	c.printf("Level %d (%.0f%% to next), %d XP, %d-day streak\n", v.Level, v.LevelProgress, v.TotalXP, v.Streak)
	c.printf("Relationship with %s: %d/10\n", v.Persona.Name, v.Relationship)
	if v.Topic != nil {
		c.printf("%s mastery: %.0f%%", v.Topic.Title, v.Mastery)
		if v.MasterMode {
			c.printf(" (master mode)")
		}
		c.printf("\n")
	}
	return nil
}

func (c *Console) cmdReplay(context.Context, string) error {
	v := c.ctrl.View()
	for i := len(v.History) - 1; i >= 0; i-- {
		if v.History[i].Role == conversation.RoleAI {
			return c.ctrl.Replay(v.History[i].ID)
		}
	}
	return session.ErrUnknownTurn
}

func (c *Console) cmdLeave(context.Context, string) error {
	c.ctrl.Leave()
	c.printf("Left the topic. Pick another with /start.\n")
	return nil
}

func (c *Console) cmdQuit(context.Context, string) error { return errQuit }

// showHint prints the suggested reply. When explicit is false nothing is
// printed if the mode hides it.
func (c *Console) showHint(explicit bool) {
	s := c.ctrl.View().Suggestion
	if !s.Visible {
		if explicit {
			c.printf("No hint in this mode. You've got this!\n")
		}
		return
	}
	c.printf("  Try: %s\n", s.Text)
	if s.Translation != "" {
		c.printf("       %s\n", s.Translation)
	}
}

// onEvent prints conversation output. It runs inside controller calls and
// must not call back into the controller.
func (c *Console) onEvent(e session.Event) {
	switch e.Kind {
	case session.EventTurn:
		if e.Turn.Role != conversation.RoleAI {
			return
		}
		c.printf("\n%s\n", e.Turn.Text)
		if e.Turn.Translation != "" {
			c.printf("  (%s)\n", e.Turn.Translation)
		}
		if e.Turn.Feedback != "" {
			c.printf("  Feedback: %s\n", e.Turn.Feedback)
		}
	case session.EventNotice:
		c.printf("! %s\n", e.Notice)
	case session.EventState:
		if e.State == session.StateTopicLoading || e.State == session.StateTurnInFlight {
			c.printf("...\n")
		}
	}
}

func (c *Console) prompt() { c.printf("> ") }

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// commandError drops turn failures; the controller has already reported
// them as a notice.
func commandError(err error) error {
	for _, target := range []error{
		session.ErrBusy, session.ErrNotChatting, session.ErrUnknownTopic,
		session.ErrUnknownPersona, session.ErrLocked, session.ErrEmptyMessage,
	} {
		if errors.Is(err, target) {
			return err
		}
	}
	return nil
}

// describe turns an error into a learner-facing line.
func describe(err error) string {
	switch {
	case errors.Is(err, session.ErrBusy):
		return "Still waiting for the last reply."
	case errors.Is(err, session.ErrNotChatting):
		return "Start a topic first with /start <topic>."
	case errors.Is(err, session.ErrUnknownTopic):
		return "No such topic. Type /topics to see them."
	case errors.Is(err, session.ErrUnknownPersona):
		return "No such partner. Type /personas to see them."
	case errors.Is(err, session.ErrUnknownTurn), errors.Is(err, session.ErrNoAudio):
		return "Nothing to replay yet."
	case errors.Is(err, session.ErrEmptyMessage):
		return ""
	}
	return err.Error()
}
