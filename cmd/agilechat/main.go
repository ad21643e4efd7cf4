package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/chat"
)

func main() {
	var (
		server   = flag.String("server", "http://127.0.0.1:8090", "coach server base URL")
		email    = flag.String("email", "", "account email")
		password = flag.String("password", "", "account password")
		register = flag.Bool("register", false, "create the account before logging in")
		name     = flag.String("name", "", "display name used with -register")
	)
	flag.Parse()

	if *email == "" || *password == "" {
		log.Fatal("both -email and -password are required")
	}

	ctx := context.Background()
	if *register {
		if err := chat.Register(ctx, *server, *email, *name, *password); err != nil {
			log.Fatalf("register: %v", err)
		}
		fmt.Println("account created")
	}

	backend, err := chat.Login(ctx, *server, *email, *password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}

	sender := chat.NewSender(chat.NewStore(), backend)
	fmt.Println("connected. type a message, or /help for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctx, line, backend, sender); quit {
				return
			}
			continue
		}

		result, err := sender.Send(ctx, line)
		switch {
		case errors.Is(err, chat.ErrTrialExhausted):
			fmt.Println("trial limit reached. upgrade to keep chatting.")
		case errors.Is(err, chat.ErrSendInFlight):
			fmt.Println("still waiting on the previous answer.")
		case err != nil:
			fmt.Printf("send failed: %v\n", err)
		default:
			fmt.Printf("\ncoach: %s\n\n", result.Reply)
			if result.IsNewSession {
				fmt.Printf("(continuing in session %s)\n", result.SessionID)
			}
		}
	}
}

func runCommand(ctx context.Context, line string, backend *chat.HTTPBackend, sender *chat.Sender) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		fmt.Println(`/sessions [search]  list sessions
/open <id>          switch to a session and load its history
/new                start a fresh session on the next message
/trial              show remaining trial messages
/quit               exit`)
	case "/quit":
		return true
	case "/new":
		sender.Store().Clear()
		fmt.Println("next message starts a new session")
	case "/trial":
		status, err := backend.TrialStatus(ctx)
		if err != nil {
			fmt.Printf("trial status: %v\n", err)
			break
		}
		if status.IsUnlimited {
			fmt.Println("unlimited plan")
			break
		}
		fmt.Printf("%d of %d messages used, %d remaining\n",
			status.MessagesSent, status.TrialLimit, status.RemainingMessages)
	case "/sessions":
		search := ""
		if len(fields) > 1 {
			search = strings.Join(fields[1:], " ")
		}
		sessions, err := backend.ListSessions(ctx, search)
		if err != nil {
			fmt.Printf("list sessions: %v\n", err)
			break
		}
		for _, se := range sessions {
			pin := " "
			if se.IsPinned {
				pin = "*"
			}
			fmt.Printf("%s %s  %-40s [%s] %d msgs\n", pin, se.ID, se.Title, se.Category, se.MessageCount)
		}
	case "/open":
		if len(fields) != 2 {
			fmt.Println("usage: /open <session-id>")
			break
		}
		sender.Store().Clear()
		sender.Store().Bind(fields[1])
		if _, err := sender.Refresh(ctx); err != nil {
			fmt.Printf("load history: %v\n", err)
			break
		}
		for _, msg := range sender.Store().Messages() {
			fmt.Printf("%s: %s\n", msg.Role, msg.Content)
		}
	default:
		fmt.Println("unknown command, try /help")
	}
	return false
}
