package term

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/engly817chat/engly-client/internal/core"
)

// Chat is the room view the loop drives.
type Chat interface {
	Open(ctx context.Context, roomID string) error
	Send(ctx context.Context, content string) error
	Keystroke(ctx context.Context)
	Scrolled(ctx context.Context) error
	LoadPrevious(ctx context.Context) error
}

const helpText = "commands: /older  /up [n]  /down [n]  /room <id>  /redraw  /help  /quit"

// Run reads lines from in until /quit, EOF or ctx cancellation. Plain lines
// are sent to the open room.
func Run(ctx context.Context, in io.Reader, chat Chat, screen *Screen) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			quit, err := handleLine(ctx, line, chat, screen)
			if quit {
				return nil
			}
			if err != nil {
				screen.Notice("%v", err)
			}
		}
	}
}

func handleLine(ctx context.Context, line string, chat Chat, screen *Screen) (bool, error) {
	text := strings.TrimSpace(line)
	if text == "" {
		return false, nil
	}
	if !strings.HasPrefix(text, "/") {
		chat.Keystroke(ctx)
		err := chat.Send(ctx, text)
		if errors.Is(err, core.ErrNotConnected) {
			return false, errors.New("not connected, message dropped")
		}
		return false, err
	}

	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/q":
		return true, nil
	case "/older":
		return false, chat.LoadPrevious(ctx)
	case "/up":
		screen.ScrollBy(-rowsArg(arg, screen.rows))
		return false, chat.Scrolled(ctx)
	case "/down":
		screen.ScrollBy(rowsArg(arg, screen.rows))
		return false, chat.Scrolled(ctx)
	case "/room":
		if arg == "" {
			return false, errors.New("usage: /room <id>")
		}
		screen.Reset(arg)
		return false, chat.Open(ctx, arg)
	case "/redraw":
		screen.Redraw()
		return false, nil
	case "/help":
		screen.Notice("%s", helpText)
		return false, nil
	default:
		return false, errors.New("unknown command " + cmd + "; " + helpText)
	}
}

func rowsArg(arg string, def int) int {
	if n, err := strconv.Atoi(arg); err == nil && n > 0 {
		return n
	}
	return def
}
