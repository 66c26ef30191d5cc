package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cexll/assistant-go/pkg/chat"
	"github.com/cexll/assistant-go/pkg/orchestrator"
)

func chatCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("chat", flag.ContinueOnError)
	set.SetOutput(streams.err)
	var (
		backendFlag = set.String("backend", "", "Backend to use for this turn (defaults to the configured one).")
		resumeFlag  = set.String("resume", "", "Path to a stored conversation to continue.")
		titleFlag   = set.String("title", "", "Title for a newly started conversation.")
		configFlag  = set.String("config", cfgPath, "Path to settings file.")
	)
	var attachFlags multiValue
	set.Var(&attachFlags, "attach", "Attach an image file to the message. Repeatable.")
	set.Usage = func() {
		fmt.Fprintln(streams.err, "Usage: assistctl chat [flags] \"message\"")
		fmt.Fprintln(streams.err, "\nFlags:")
		set.PrintDefaults()
		fmt.Fprintln(streams.err, "\nExamples:")
		fmt.Fprintln(streams.err, "  assistctl chat \"what is the capital of France?\"")
		fmt.Fprintln(streams.err, "  assistctl chat --attach cat.png \"upscale this\"")
		fmt.Fprintln(streams.err, "  assistctl chat --backend local --resume ~/.assistant/history/chat_abc.json \"continue\"")
	}
	if err := set.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	input := strings.TrimSpace(strings.Join(set.Args(), " "))
	if input == "" {
		return errors.New("chat requires a message")
	}

	app, err := buildApp(ctx, *configFlag, streams)
	if err != nil {
		return err
	}
	defer app.close(context.WithoutCancel(ctx))

	conv, err := openConversation(*resumeFlag, *titleFlag, input)
	if err != nil {
		return err
	}

	var attachments []chat.Attachment
	for _, path := range attachFlags.slice() {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("attachment %s: %w", path, err)
		}
		attachments = append(attachments, chat.Attachment{Path: path})
	}
	conv.Append(chat.Message{Role: chat.RoleUser, Content: input, Attachments: attachments})

	sink := orchestrator.SinkFuncs{
		Token: func(text string) { fmt.Fprint(streams.out, text) },
		Done:  func(chat.Message) { fmt.Fprintln(streams.out) },
	}
	result, err := app.orch.RunTurn(ctx, conv, *backendFlag, sink)
	if result != nil {
		for _, msg := range result.Messages {
			conv.Append(msg)
		}
	}
	if path, saveErr := conv.Save(app.cfg.HistoryDir); saveErr != nil {
		app.logger.Warn().Err(saveErr).Msg("conversation not saved")
	} else {
		app.logger.Debug().Str("path", path).Msg("conversation saved")
	}
	if err != nil {
		fmt.Fprintln(streams.out)
		return fmt.Errorf("turn failed: %w", err)
	}
	return nil
}

func openConversation(resumePath, title, input string) (*chat.Conversation, error) {
	if resumePath != "" {
		conv, err := chat.Load(resumePath)
		if err != nil {
			return nil, fmt.Errorf("resume conversation: %w", err)
		}
		return conv, nil
	}
	if title == "" {
		title = titleFromInput(input)
	}
	return chat.NewConversation(title), nil
}

func titleFromInput(input string) string {
	const maxTitle = 48
	runes := []rune(strings.ReplaceAll(input, "\n", " "))
	if len(runes) > maxTitle {
		return string(runes[:maxTitle])
	}
	return string(runes)
}
