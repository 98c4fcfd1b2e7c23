package in

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"livedoc/internal/modules/collab/dto"
	collabin "livedoc/internal/modules/collab/port/in"
)

var errQuit = errors.New("quit")

type CLIHandler struct {
	usecase collabin.Usecase
}

func NewCLIHandler(usecase collabin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) Connect(ctx context.Context, userID, token string) error {
	return h.usecase.Connect(ctx, userID, token)
}

func (h CLIHandler) Join(ctx context.Context, documentID string) (dto.DocumentOutput, error) {
	return h.usecase.Join(ctx, documentID)
}

func (h CLIHandler) JournalTail(ctx context.Context, limit int) ([]dto.JournalEntryOutput, error) {
	return h.usecase.JournalTail(ctx, limit)
}

func (h CLIHandler) Close() error {
	return h.usecase.Close()
}

// Run reads editing commands line by line until quit or EOF. Command errors
// are printed and do not stop the loop.
func (h CLIHandler) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	_, _ = fmt.Fprint(out, prompt)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := h.Exec(ctx, scanner.Text(), out)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			_, _ = fmt.Fprintln(out, renderError(err))
		}
		_, _ = fmt.Fprint(out, prompt)
	}
	return scanner.Err()
}

const prompt = "> "

const help = `commands:
  insert <line> <col> <text>
  delete <line> <col> <length>
  replace <line> <col> <length> <text>
  cursor <line> <col>
  select <line> <col> <line> <col>
  show | who | status | leave | quit`

// Exec runs a single command line.
func (h CLIHandler) Exec(ctx context.Context, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "insert", "i":
		nums, rest, err := ints(args, 2)
		if err != nil {
			return err
		}
		return h.printOp(out)(h.usecase.Insert(ctx, nums[0], nums[1], unescape(rest)))
	case "delete", "d":
		nums, _, err := ints(args, 3)
		if err != nil {
			return err
		}
		return h.printOp(out)(h.usecase.Delete(ctx, nums[0], nums[1], nums[2]))
	case "replace", "r":
		nums, rest, err := ints(args, 3)
		if err != nil {
			return err
		}
		return h.printOp(out)(h.usecase.Replace(ctx, nums[0], nums[1], nums[2], unescape(rest)))
	case "cursor", "c":
		nums, _, err := ints(args, 2)
		if err != nil {
			return err
		}
		return h.usecase.Cursor(ctx, nums[0], nums[1])
	case "select", "s":
		nums, _, err := ints(args, 4)
		if err != nil {
			return err
		}
		return h.usecase.Selection(ctx,
			dto.PositionOutput{Line: nums[0], Column: nums[1]},
			dto.PositionOutput{Line: nums[2], Column: nums[3]})
	case "show":
		doc, err := h.usecase.Document(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, RenderDocument(doc))
	case "who":
		roster, err := h.usecase.Roster(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, RenderRoster(roster))
	case "status":
		status, err := h.usecase.Status(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, RenderStatus(status))
	case "leave":
		return h.usecase.Leave(ctx)
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		_, _ = fmt.Fprintln(out, help)
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (h CLIHandler) printOp(out io.Writer) func(dto.OperationOutput, error) error {
	return func(op dto.OperationOutput, err error) error {
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, RenderOperation(op))
		return nil
	}
}

// ints parses the first n args as integers and joins the rest as text.
func ints(args []string, n int) ([]int, string, error) {
	if len(args) < n {
		return nil, "", fmt.Errorf("expected %d numeric arguments, got %d", n, len(args))
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		v, err := strconv.Atoi(args[i])
		if err != nil {
			return nil, "", fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, strings.Join(args[n:], " "), nil
}

func unescape(text string) string {
	return strings.ReplaceAll(text, `\n`, "\n")
}
