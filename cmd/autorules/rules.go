// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/autorules/internal/models"
)

func RunRulesCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and manage automation rules",
	}

	cmd.AddCommand(
		runRulesListCommand(configPath),
		runRulesLogsCommand(configPath),
		runRulesImportCommand(configPath),
		runRulesFireCommand(configPath),
	)
	return cmd
}

func runRulesListCommand(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rules, err := a.store.LoadRules(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, rules)
			}

			if len(rules) == 0 {
				cmd.Println("No rules configured.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENABLED\tTRIGGER\tACTION\tCONDITIONS\tRUNS")
			for _, r := range rules {
				md := r.MetadataOrDefault(time.Now())
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%d (%s)\t%d/%d\n",
					r.ID, r.Name, r.Enabled, describeTrigger(r.Trigger), r.Action.Type,
					len(r.Conditions), r.Logic(), md.ExecutionCount, md.TriggeredCount)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the stored rules as JSON")
	return cmd
}

func runRulesLogsCommand(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "logs <rule-id>",
		Short: "Show a rule's execution log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			id := models.RuleID(args[0])
			rules, err := a.store.LoadRules(cmd.Context())
			if err != nil {
				return err
			}
			if !containsRule(rules, id) {
				return fmt.Errorf("rule %s: %w", id, models.ErrRuleNotFound)
			}

			logs, err := a.store.LoadLogs(cmd.Context(), id)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, logs)
			}

			if len(logs) == 0 {
				cmd.Println("No executions logged.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTION\tRESULT\tITEMS\tDETAILS")
			for _, entry := range logs {
				result := "ok"
				if !entry.Success {
					result = "failed"
					if entry.Error != "" {
						result += ": " + entry.Error
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					time.UnixMilli(entry.Timestamp).Format(time.DateTime), entry.Action, result, entry.ItemsAffected, entry.Details)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the log as JSON")
	return cmd
}

func runRulesImportCommand(configPath *string) *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import rules from a JSON or YAML file",
		Long: `Import rules from a JSON or YAML file holding a list of rules.

Rules whose id already exists replace the stored rule, keeping its counters
when the imported rule carries no metadata. Other stored rules are kept
unless --replace is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imported, err := readRulesFile(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var existing []*models.Rule
			if !replace {
				existing, err = a.store.LoadRules(cmd.Context())
				if err != nil {
					if errors.Is(err, models.ErrMalformedRules) {
						return fmt.Errorf("%w: use --replace to overwrite them", err)
					}
					return err
				}
			}

			merged := mergeRules(existing, imported, time.Now())
			if err := a.store.SaveRules(cmd.Context(), merged); err != nil {
				return err
			}

			cmd.Printf("Imported %d rules (%d stored).\n", len(imported), len(merged))
			return nil
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "Replace every stored rule with the imported ones")
	return cmd
}

func runRulesFireCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fire <rule-id>",
		Short: "Run one rule now against the current downloads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.cfg.Config.ValidateQBittorrent(); err != nil {
				return err
			}

			client := a.newClient()
			if err := client.Connect(cmd.Context()); err != nil {
				return err
			}

			engine := a.newEngine(client, nil)
			if _, err := engine.Load(cmd.Context()); err != nil {
				return err
			}

			result, err := engine.FireRule(cmd.Context(), models.RuleID(args[0]))
			if err != nil {
				return err
			}

			switch {
			case result.Skipped:
				cmd.Printf("Rule %s is disabled, nothing done.\n", result.RuleID)
			case result.Matched == 0:
				cmd.Printf("Rule %s matched no downloads.\n", result.RuleID)
			default:
				cmd.Printf("Rule %s matched %d downloads: %d succeeded, %d failed.\n",
					result.RuleID, result.Matched, result.Succeeded, result.Failed)
			}
			return nil
		},
	}
}

// readRulesFile decodes a rule list. YAML is converted to JSON first so both
// formats go through the same rule decoding.
func readRulesFile(path string) ([]*models.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("convert %s: %w", path, err)
		}
	}

	rules, err := models.ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	seen := make(map[models.RuleID]struct{}, len(rules))
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d in %s: %w", i, path, err)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("rule %d in %s: duplicate id %s: %w", i, path, r.ID, models.ErrInvalidRule)
		}
		seen[r.ID] = struct{}{}
	}
	return rules, nil
}

// mergeRules folds imported into existing by id. Imported rules without
// metadata get fresh metadata when new, or inherit the stored counters.
// Enabling a stored rule restarts its schedule at now.
func mergeRules(existing, imported []*models.Rule, now time.Time) []*models.Rule {
	merged := make([]*models.Rule, 0, len(existing)+len(imported))
	index := make(map[models.RuleID]int, len(existing))
	for _, r := range existing {
		index[r.ID] = len(merged)
		merged = append(merged, r)
	}

	ms := now.UnixMilli()
	for _, r := range imported {
		i, found := index[r.ID]
		if !found {
			if r.Metadata == nil {
				md := models.DefaultMetadata(now)
				r.Metadata = &md
			}
			index[r.ID] = len(merged)
			merged = append(merged, r)
			continue
		}

		if r.Metadata == nil {
			previous := merged[i]
			md := previous.MetadataOrDefault(now)
			md.UpdatedAt = models.Int64Ptr(ms)
			if r.Enabled && !previous.Enabled {
				md.LastEnabledAt = models.Int64Ptr(ms)
			}
			r.Metadata = &md
		}
		merged[i] = r
	}
	return merged
}

func containsRule(rules []*models.Rule, id models.RuleID) bool {
	for _, r := range rules {
		if r.ID == id {
			return true
		}
	}
	return false
}

func describeTrigger(t models.Trigger) string {
	if t.IsDownloadAdded() {
		return "download_added"
	}
	return fmt.Sprintf("every %gm", t.PeriodMinutes)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
