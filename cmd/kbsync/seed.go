package main

import (
	"fmt"
	"iter"
	"strings"

	"github.com/poiesic/kbsync/core"
	"github.com/urfave/cli/v2"
	"github.com/xuri/excelize/v2"
)

var problemNames = []string{
	"Work deadlines", "Conflict with a manager", "Money worries", "Exam pressure",
	"Caring for a relative", "Moving house", "Long commute", "Too many meetings",
	"Health scare", "Noisy neighbours", "Job search", "Public speaking",
}

var suggestionTexts = []string{
	"Break the work into smaller steps and schedule each one.",
	"Take a ten minute walk before returning to the task.",
	"Write down what worries you and one thing you can do about it.",
	"Try four slow breaths, counting to four on each.",
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:      "seed",
		Usage:     "Write a sample knowledge base workbook",
		ArgsUsage: "OUT.xlsx",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "domain",
				Usage: "Domain of the sample records",
				Value: "stress",
			},
			&cli.IntFlag{
				Name:  "problems",
				Usage: "Number of problems to generate",
				Value: len(problemNames),
			},
		},
		Action: seedAction,
	}
}

func seedAction(c *cli.Context) error {
	out := c.Args().First()
	if out == "" {
		return fmt.Errorf("an output path is required")
	}
	domain, err := core.ParseDomain(c.String("domain"))
	if err != nil {
		return err
	}
	if err := writeSample(out, domain, max(c.Int("problems"), 1)); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, successStyle.Render("wrote "+out))
	return nil
}

type sampleSheet struct {
	name   string
	header []string
	rows   iter.Seq[[]any]
}

func writeSample(path string, domain core.Domain, n int) error {
	d := string(domain)
	sub := func(i int) string { return fmt.Sprintf("%s_%02d_%02d", d, i/10+1, i%10+1) }

	sheets := []sampleSheet{
		{"Problems", []string{"Category ID", "Sub Category ID", "Problem Name", "Description"}, func(yield func([]any) bool) {
			for i := range n {
				name := problemNames[i%len(problemNames)]
				if !yield([]any{core.CategoryOf(sub(i)), sub(i), name, "Feeling stressed about " + strings.ToLower(name)}) {
					return
				}
			}
		}},
		{"Next Actions", []string{"Action ID", "Action Type"}, func(yield func([]any) bool) {
			for i, t := range []core.ActionType{core.ActionContinueSame, core.ActionShowProblemMenu, core.ActionEndSession} {
				if !yield([]any{fmt.Sprintf("%s_ACT_%02d", d, i+1), string(t)}) {
					return
				}
			}
		}},
		{"Assessments", []string{"Question ID", "Sub Category ID", "Question Text", "Response Type", "Weight"}, func(yield func([]any) bool) {
			for i := range n {
				if !yield([]any{sub(i) + "_Q01", sub(i), "How often does this affect your day?", string(core.ResponseScale), 1}) {
					return
				}
			}
		}},
		{"Suggestions", []string{"Suggestion ID", "Sub Category ID", "Suggestion Text", "Resource Link", "Priority"}, func(yield func([]any) bool) {
			for i := range n {
				text := suggestionTexts[i%len(suggestionTexts)]
				if !yield([]any{sub(i) + "_S01", sub(i), text, "https://example.com/help/" + strings.ToLower(sub(i)), 1}) {
					return
				}
			}
		}},
		{"Feedback Prompts", []string{"Prompt ID", "Stage", "Prompt Text", "Next Action"}, func(yield func([]any) bool) {
			yield([]any{d + "_FB_01", string(core.StagePostSuggestion), "Did that suggestion help?", d + "_ACT_01"})
		}},
		{"Training Examples", []string{"ID", "Problem", "Prompt", "Completion"}, func(yield func([]any) bool) {
			for i := range min(n, 3) {
				name := strings.ToLower(problemNames[i%len(problemNames)])
				if !yield([]any{fmt.Sprintf("%s_TR_%02d", d, i+1), sub(i), "I'm struggling with " + name, suggestionTexts[i%len(suggestionTexts)]}) {
					return
				}
			}
		}},
	}

	f := excelize.NewFile()
	defer f.Close()
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return err
		}
		if err := writeRows(f, s); err != nil {
			return fmt.Errorf("sheet %s: %w", s.name, err)
		}
	}
	return f.SaveAs(path)
}

func writeRows(f *excelize.File, s sampleSheet) error {
	header := make([]any, len(s.header))
	for i, h := range s.header {
		header[i] = h
	}
	if err := f.SetSheetRow(s.name, "A1", &header); err != nil {
		return err
	}
	row := 2
	for values := range s.rows {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(s.name, cell, &values); err != nil {
			return err
		}
		row++
	}
	return nil
}
