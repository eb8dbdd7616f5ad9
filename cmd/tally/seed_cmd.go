package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tally/api/internal/policy"
	"tally/api/internal/store"
)

type seedFile struct {
	Groups []seedGroup `yaml:"groups"`
}

type seedGroup struct {
	ID      string       `yaml:"id"`
	Name    string       `yaml:"name"`
	Policy  yaml.Node    `yaml:"policy"`
	Members []seedMember `yaml:"members"`
	Items   []seedItem   `yaml:"items"`
}

type seedMember struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

type seedItem struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	Amount    string `yaml:"amount"`
	Assignee  string `yaml:"assignee"`
	CreatedBy string `yaml:"created_by"`
	Recurring string `yaml:"recurring"`
}

func newSeedCmd() *cobra.Command {
	var (
		file    string
		migrate bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load groups, members and items from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			var doc seedFile
			if err := yaml.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decode seed file: %w", err)
			}

			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if migrate {
				if err := rt.migrate(cmd.Context()); err != nil {
					return err
				}
			}

			now := time.Now().UTC()
			err = rt.store.InTx(cmd.Context(), func(ctx context.Context) error {
				for _, group := range doc.Groups {
					if err := seedOne(ctx, rt.store, group, now); err != nil {
						return fmt.Errorf("group %s: %w", group.ID, err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d groups\n", len(doc.Groups))
			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Seed YAML file (required)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply migrations first")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func seedOne(ctx context.Context, st *store.SQLStore, group seedGroup, now time.Time) error {
	record := store.Group{ID: group.ID, Name: group.Name, CreatedAt: now}
	// policy uses the same keys as POLICY_FILE.
	if group.Policy.Kind != 0 {
		raw, err := yaml.Marshal(&group.Policy)
		if err != nil {
			return err
		}
		p, err := policy.Parse(raw)
		if err != nil {
			return err
		}
		record.Policy = &p
	}
	if err := st.InsertGroup(ctx, record); err != nil {
		return err
	}

	for _, member := range group.Members {
		err := st.AddMember(ctx, store.Member{
			GroupID:     group.ID,
			UserID:      member.ID,
			DisplayName: member.Name,
			Email:       member.Email,
			Active:      true,
		})
		if err != nil {
			return fmt.Errorf("member %s: %w", member.ID, err)
		}
	}

	for _, item := range group.Items {
		amount, err := decimal.NewFromString(item.Amount)
		if err != nil {
			return fmt.Errorf("item %s: amount: %w", item.ID, err)
		}
		newItem := store.Item{
			ID:                item.ID,
			GroupID:           group.ID,
			Title:             item.Title,
			Amount:            amount,
			Recurring:         item.Recurring != "",
			RecurrencePattern: item.Recurring,
			Active:            true,
			CreatedBy:         item.CreatedBy,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if item.Assignee != "" {
			assignee := item.Assignee
			newItem.AssigneeID = &assignee
		}
		if err := st.InsertItem(ctx, newItem); err != nil {
			return fmt.Errorf("item %s: %w", item.ID, err)
		}
	}
	return nil
}
