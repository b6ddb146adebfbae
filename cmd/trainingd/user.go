package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mind-engage/mindengage-training/internal/directory"
)

func userCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage directory users",
	}

	var (
		row   directory.Row
		roles string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update a user",
		Example: `  trainingd user add --id adm --username admin --password 's3cret!' --roles admin
  trainingd user add --id s1 --username ana --password pw --roles student --mentor m1 --department d1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			d, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			for _, r := range strings.Split(roles, ",") {
				if r = strings.TrimSpace(r); r != "" {
					row.Roles = append(row.Roles, r)
				}
			}
			ins, upd, err := directory.Upsert(cmd.Context(), d, []directory.Row{row})
			if err != nil {
				return err
			}
			logger.Info("user saved", "id", row.ID, "inserted", ins, "updated", upd)
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s)\n", row.ID, row.Username)
			return nil
		},
	}
	add.Flags().StringVar(&row.ID, "id", "", "User id")
	add.Flags().StringVar(&row.Username, "username", "", "Login name")
	add.Flags().StringVar(&row.Password, "password", "", "Password (required for new users)")
	add.Flags().StringVar(&roles, "roles", "student", "Comma-separated roles")
	add.Flags().StringVar(&row.MentorID, "mentor", "", "Mentor user id")
	add.Flags().StringVar(&row.DepartmentID, "department", "", "Department id")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("username")

	cmd.AddCommand(add)
	return cmd
}
