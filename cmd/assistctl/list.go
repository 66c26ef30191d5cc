package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cexll/assistant-go/pkg/chat"
)

func backendsCommand(argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("backends", flag.ContinueOnError)
	set.SetOutput(streams.err)
	configFlag := set.String("config", cfgPath, "Path to settings file.")
	if err := set.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx := context.Background()
	app, err := buildApp(ctx, *configFlag, streams)
	if err != nil {
		return err
	}
	defer app.close(ctx)

	active := app.router.Active()
	fmt.Fprintf(streams.out, "%-12s %-10s %-10s %s\n", "NAME", "STREAMING", "TOOLS", "ACTIVE")
	for _, desc := range app.router.Describe() {
		marker := ""
		if desc.Name == active {
			marker = "*"
		}
		fmt.Fprintf(streams.out, "%-12s %-10t %-10t %s\n",
			desc.Name, desc.Capabilities.SupportsStreaming, desc.Capabilities.SupportsToolCalls, marker)
	}
	return nil
}

func capabilitiesCommand(argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("capabilities", flag.ContinueOnError)
	set.SetOutput(streams.err)
	configFlag := set.String("config", cfgPath, "Path to settings file.")
	if err := set.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx := context.Background()
	app, err := buildApp(ctx, *configFlag, streams)
	if err != nil {
		return err
	}
	defer app.close(ctx)

	for _, def := range app.registry.DescribeAll() {
		fmt.Fprintf(streams.out, "%s\n", def.Name)
		if def.Description != "" {
			fmt.Fprintf(streams.out, "    %s\n", def.Description)
		}
	}
	return nil
}

func historyCommand(argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("history", flag.ContinueOnError)
	set.SetOutput(streams.err)
	var (
		configFlag = set.String("config", cfgPath, "Path to settings file.")
		purgeFlag  = set.Duration("purge-older-than", 0, "Delete conversations idle longer than this before listing.")
	)
	if err := set.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx := context.Background()
	app, err := buildApp(ctx, *configFlag, streams)
	if err != nil {
		return err
	}
	defer app.close(ctx)

	dir := app.cfg.HistoryDir
	if *purgeFlag > 0 {
		if err := chat.PurgeOld(dir, *purgeFlag); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(streams.out, "no conversations yet")
			return nil
		}
		return err
	}

	type row struct {
		path    string
		title   string
		summary string
		mod     time.Time
	}
	var rows []row
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "chat_") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		conv, err := chat.Load(path)
		if err != nil {
			app.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable conversation")
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		rows = append(rows, row{path: path, title: conv.Title, summary: conv.ShortSummary(60), mod: info.ModTime()})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].mod.After(rows[j].mod) })

	if len(rows) == 0 {
		fmt.Fprintln(streams.out, "no conversations yet")
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(streams.out, "%s  %-30s %s\n", r.mod.Format("2006-01-02 15:04"), r.title, r.summary)
		fmt.Fprintf(streams.out, "    %s\n", r.path)
	}
	return nil
}
