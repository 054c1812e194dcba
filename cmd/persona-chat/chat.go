// ABOUTME: Interactive chat loop with streaming output and slash commands
// ABOUTME: Renders persona replies chunk by chunk as the provider streams them

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/persona-chat/internal/conversation"
	"github.com/2389/persona-chat/internal/gemini"
	"github.com/2389/persona-chat/internal/persona"
	"github.com/2389/persona-chat/internal/store"
)

func chatLoop(ctx context.Context, ctrl *conversation.Controller, roster *persona.Roster) error {
	p, ok := ctrl.Persona()
	if !ok {
		return conversation.ErrNoPersona
	}

	replayHistory(p, ctrl.Snapshot())
	fmt.Printf("Chatting with %s. Type a message and press Enter. /help for commands. Ctrl+C to quit.\n\n", p.Name)

	scanner := bufio.NewScanner(os.Stdin)

	for {
		p, _ = ctrl.Persona()
		personaColor(p).Printf("[%s]> ", p.ID)

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			fmt.Println("\nGoodbye!")
			return nil
		case err := <-errCh:
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			fmt.Println("Goodbye!")
			return nil
		}

		if input == "/agents" {
			printRoster(roster)
			fmt.Println()
			continue
		}

		if input == "/reset" {
			if err := ctrl.Reset(ctx); err != nil {
				fmt.Printf("[error] %v\n", err)
			} else {
				fmt.Printf("Conversation with %s cleared.\n", p.Name)
			}
			fmt.Println()
			continue
		}

		if strings.HasPrefix(input, "/switch") {
			id := strings.TrimSpace(strings.TrimPrefix(input, "/switch"))
			if id == "" {
				fmt.Println("Usage: /switch <persona>")
				fmt.Println()
				continue
			}
			next, err := roster.Get(id)
			if err != nil {
				fmt.Printf("[error] %v\n", err)
				fmt.Println()
				continue
			}
			if err := ctrl.Select(ctx, next); err != nil {
				fmt.Printf("[error] %v\n", err)
				fmt.Println()
				continue
			}
			fmt.Printf("Now chatting with %s.\n", next.Name)
			replayHistory(next, ctrl.Snapshot())
			fmt.Println()
			continue
		}

		if input == "/help" {
			printHelp()
			fmt.Println()
			continue
		}

		if err := streamReply(ctx, ctrl, input); err != nil {
			fmt.Printf("[error] %v\n", err)
		}
		fmt.Println()
	}
}

// streamReply sends the message and prints the response as it arrives.
func streamReply(ctx context.Context, ctrl *conversation.Controller, input string) error {
	events, err := ctrl.Send(ctx, input)
	if err != nil {
		if errors.Is(err, conversation.ErrTurnInFlight) {
			return fmt.Errorf("still responding, wait for the reply to finish")
		}
		return err
	}

	p, _ := ctrl.Persona()
	color.New(color.FgHiBlack).Print("Thinking...")
	thinking := true

	for ev := range events {
		if thinking {
			// Erase the indicator once the first event arrives
			fmt.Print("\r\033[K")
			personaColor(p).Printf("%s: ", p.Name)
			thinking = false
		}
		switch ev.Type {
		case gemini.EventText:
			fmt.Print(ev.Text)
			if ev.Image != "" {
				color.New(color.FgHiBlack).Print(" [image received, use 'persona-chat export' to view]")
			}
		case gemini.EventDone:
			fmt.Println()
		case gemini.EventError:
			color.New(color.FgRed).Println(conversation.ErrorReplyText)
		}
	}

	return nil
}

// replayHistory prints previously saved turns so a restored conversation
// picks up where it left off.
func replayHistory(p persona.Persona, turns []store.Turn) {
	if len(turns) == 0 {
		return
	}

	gray := color.New(color.FgHiBlack)
	gray.Printf("--- restored %d turns ---\n", len(turns))
	for _, t := range turns {
		switch {
		case t.Role == store.RoleUser:
			fmt.Printf("you: %s\n", t.Text)
		case t.IsError:
			color.New(color.FgRed).Printf("%s: %s\n", p.Name, t.Text)
		default:
			personaColor(p).Printf("%s: ", p.Name)
			fmt.Println(t.Text)
		}
	}
	gray.Println("---")
	fmt.Println()
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /agents        List available personas")
	fmt.Println("  /switch <id>   Switch to another persona")
	fmt.Println("  /reset         Clear the current conversation")
	fmt.Println("  /help          Show this help")
	fmt.Println("  /quit          Exit the chat")
}

// printRoster lists personas grouped by category.
func printRoster(roster *persona.Roster) {
	fmt.Println("Available personas:")
	for _, cat := range roster.Categories() {
		color.New(color.FgYellow).Printf("  %s\n", cat)
		for _, p := range roster.ByCategory(cat) {
			personaColor(p).Printf("    %-12s", p.ID)
			fmt.Printf(" %s - %s\n", p.Name, p.Role)
		}
	}
}

// personaColor maps a persona's display color hint to a terminal color.
func personaColor(p persona.Persona) *color.Color {
	switch p.Color {
	case "red":
		return color.New(color.FgRed)
	case "green":
		return color.New(color.FgGreen)
	case "yellow":
		return color.New(color.FgYellow)
	case "blue":
		return color.New(color.FgBlue)
	case "magenta":
		return color.New(color.FgMagenta)
	case "cyan":
		return color.New(color.FgCyan)
	case "white":
		return color.New(color.FgWhite)
	default:
		return color.New(color.FgCyan)
	}
}
