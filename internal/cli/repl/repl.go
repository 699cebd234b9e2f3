// Package repl implements the interactive evalctl session.
package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"

	"evalhub/internal/cli/httpclient"
)

// Session holds the REPL state.
type Session struct {
	client       *httpclient.Client
	principal    string
	pollInterval time.Duration
}

func New(client *httpclient.Client, principal string) *Session {
	return &Session{
		client:       client,
		principal:    principal,
		pollInterval: time.Second,
	}
}

// Principal returns the identity sent with every request.
func (s *Session) Principal() string { return s.principal }

// Run reads commands until exit or EOF.
func (s *Session) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "evalhub> ",
		HistoryFile:     historyPath(),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Println("bye")
			return nil
		}
		if err := s.handleLine(ctx, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func completer() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("submit"),
		readline.PcItem("status"),
		readline.PcItem("verdict"),
		readline.PcItem("watch"),
		readline.PcItem("history"),
		readline.PcItem("set",
			readline.PcItem("base"),
			readline.PcItem("principal"),
			readline.PcItem("timeout"),
		),
		readline.PcItem("show"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.evalctl_history"
}

func (s *Session) handleLine(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	switch tokens[0] {
	case "help":
		s.printHelp()
		return nil
	case "set":
		return s.handleSet(tokens[1:])
	case "show":
		s.printConfig()
		return nil
	case "submit":
		return s.handleSubmit(ctx, tokens[1:])
	case "status":
		return s.handleGet(ctx, tokens[1:], "")
	case "verdict":
		return s.handleGet(ctx, tokens[1:], "/verdict")
	case "watch":
		return s.handleWatch(ctx, tokens[1:])
	case "history":
		return s.handleHistory(ctx, tokens[1:])
	default:
		return fmt.Errorf("unknown command: %s", tokens[0])
	}
}

func (s *Session) handleSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set base|principal|timeout <value>")
	}
	switch args[0] {
	case "base":
		s.client.SetBaseURL(args[1])
		fmt.Printf("base set to %s\n", args[1])
	case "principal":
		s.principal = args[1]
		fmt.Printf("principal set to %s\n", args[1])
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		fmt.Printf("timeout set to %s\n", dur)
	default:
		return fmt.Errorf("unknown set command: %s", args[0])
	}
	return nil
}

func (s *Session) printConfig() {
	fmt.Printf("principal: %s\n", s.principal)
}

// handleSubmit parses key=value params: target=<id> lang=<language>
// file=<path> or code=<source>, plus optional id=<submission id>.
func (s *Session) handleSubmit(ctx context.Context, args []string) error {
	params := map[string]string{}
	for _, token := range args {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params[strings.ToLower(parts[0])] = parts[1]
	}

	source := params["code"]
	if path := params["file"]; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read source file failed: %w", err)
		}
		source = string(data)
	}
	if params["target"] == "" || params["lang"] == "" || source == "" {
		return fmt.Errorf("usage: submit target=<id> lang=<language> file=<path>|code=<source> [id=<submission id>]")
	}

	body, err := json.Marshal(map[string]string{
		"submission_id": params["id"],
		"target_id":     params["target"],
		"language":      params["lang"],
		"source_code":   source,
	})
	if err != nil {
		return err
	}

	resp, err := s.client.Do(ctx, "POST", "/api/v1/submissions", body)
	if err != nil {
		return err
	}
	s.render(resp)
	return nil
}

func (s *Session) handleGet(ctx context.Context, args []string, suffix string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: status|verdict <submission id>")
	}
	resp, err := s.client.Do(ctx, "GET", "/api/v1/submissions/"+url.PathEscape(args[0])+suffix, nil)
	if err != nil {
		return err
	}
	s.render(resp)
	return nil
}

// handleWatch polls the status endpoint until the job reaches a terminal
// state or the interval loop is interrupted.
func (s *Session) handleWatch(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: watch <submission id> [interval]")
	}
	interval := s.pollInterval
	if len(args) > 1 {
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid interval: %w", err)
		}
		interval = dur
	}

	path := "/api/v1/submissions/" + url.PathEscape(args[0])
	for {
		resp, err := s.client.Do(ctx, "GET", path, nil)
		if err != nil {
			return err
		}
		s.render(resp)
		if isTerminal(resp.Body) || resp.StatusCode >= 400 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (s *Session) handleHistory(ctx context.Context, args []string) error {
	query := ""
	if len(args) > 0 {
		query = "?limit=" + url.QueryEscape(args[0])
	}
	resp, err := s.client.Do(ctx, "GET", "/api/v1/submissions"+query, nil)
	if err != nil {
		return err
	}
	s.render(resp)
	return nil
}

func isTerminal(body []byte) bool {
	var envelope struct {
		Data struct {
			State string `json:"state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	switch envelope.Data.State {
	case "completed", "rejected", "failed":
		return true
	}
	return false
}

func (s *Session) render(resp httpclient.ResponseInfo) {
	fmt.Printf("HTTP %d (%s)\n", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	var raw interface{}
	if err := json.Unmarshal(resp.Body, &raw); err == nil {
		formatted, _ := json.MarshalIndent(raw, "", "  ")
		fmt.Println(string(formatted))
		return
	}
	fmt.Println(string(resp.Body))
}

func (s *Session) printHelp() {
	fmt.Println("usage:")
	fmt.Println("  submit target=<id> lang=<language> file=<path>|code=<source> [id=<submission id>]")
	fmt.Println("  status <submission id>")
	fmt.Println("  verdict <submission id>")
	fmt.Println("  watch <submission id> [interval]")
	fmt.Println("  history [limit]")
	fmt.Println("  set base|principal|timeout <value>")
	fmt.Println("  show | help | exit")
}
