package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"pagechat/internal/chat"
	"pagechat/internal/pagechat"

	"github.com/chzyer/readline"
)

// runPlain is the line-mode surface: one prompt, one reply, repeat.
func runPlain(app *pagechat.App, tab pagechat.Tab, historyPath string) error {
	input, inputErr := newLineInput(historyPath)
	if inputErr != nil {
		fmt.Fprintf(os.Stderr, "line editor unavailable, fallback to basic input: %v\n", inputErr)
	}
	defer input.Close()

	fmt.Printf("pagechat · %s\n", tab.URL)
	fmt.Println("commands: /history  /sources  /quit")

	ctx := context.Background()
	for {
		line, err := input.ReadLine("> ")
		switch {
		case errors.Is(err, readline.ErrInterrupt), errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/history":
			printHistory(ctx, app, tab)
			continue
		case line == "/sources":
			printSources(ctx, app, tab)
			continue
		}

		reply, err := app.RunTurn(ctx, tab, line)
		if err != nil && reply.Content == "" {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printReply(reply)
	}
}

func printReply(reply chat.Message) {
	fmt.Println(reply.Content)
	if reply.Metadata == nil {
		return
	}
	for i, src := range reply.Metadata.Sources {
		fmt.Printf("  [%d] %s\n", i+1, src.URL)
	}
}

func printHistory(ctx context.Context, app *pagechat.App, tab pagechat.Tab) {
	sess, err := app.SessionFor(ctx, tab)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	for _, msg := range sess.Messages {
		switch msg.Role {
		case chat.RoleUser:
			fmt.Printf("you: %s\n", msg.Content)
		case chat.RoleAssistant:
			fmt.Printf("bot: %s\n", msg.Content)
		}
	}
}

func printSources(ctx context.Context, app *pagechat.App, tab pagechat.Tab) {
	sess, err := app.SessionFor(ctx, tab)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	seen := map[string]bool{}
	for _, msg := range sess.Messages {
		if msg.Metadata == nil {
			continue
		}
		for _, src := range msg.Metadata.Sources {
			if seen[src.URL] {
				continue
			}
			seen[src.URL] = true
			fmt.Printf("%s  %s\n", src.URL, src.Title)
		}
	}
}
