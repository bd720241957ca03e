package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/MimeLyc/kicad-prism/internal/analyzer"
	"github.com/MimeLyc/kicad-prism/internal/bom"
	"github.com/urfave/cli/v3"
)

func analyzeAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return fmt.Errorf("expected exactly one <dir|url> argument")
	}
	target := cmd.Args().First()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a := analyzer.New(analyzer.WithMaxDepth(cfg.Discovery.MaxDepth))

	if info, err := os.Stat(target); err == nil && info.IsDir() {
		disc, err := a.Analyze(ctx, target, "")
		if err != nil {
			return err
		}
		return printJSON(cmd.Root().Writer, disc)
	}

	mgr, err := newGitManager(cfg)
	if err != nil {
		return err
	}
	co, err := mgr.Prepare(ctx, target, "")
	if err != nil {
		return err
	}
	defer co.Release()

	disc, err := a.Analyze(ctx, co.Dir, target)
	if err != nil {
		return err
	}
	return printJSON(cmd.Root().Writer, disc)
}

func bomDiffAction(_ context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 2 {
		return fmt.Errorf("expected <old.csv> <new.csv>")
	}
	oldList, err := bom.ParseFile(cmd.Args().Get(0))
	if err != nil {
		return err
	}
	newList, err := bom.ParseFile(cmd.Args().Get(1))
	if err != nil {
		return err
	}
	return printJSON(cmd.Root().Writer, bom.Compare(oldList, newList))
}

func printJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
