package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTriggerCmd создаёт группу команд для управления триггерами.
func NewTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manage triggers",
	}

	cmd.AddCommand(
		newTriggerListCmd(clientFn, outputFn),
		newTriggerRegisterCmd(clientFn, outputFn),
		newTriggerFireCmd(clientFn, outputFn),
	)

	return cmd
}

func newTriggerListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all registered triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			triggers, err := client.ListTriggers()
			if err != nil {
				return err
			}

			headers := []string{"NAME", "TYPE", "SCOPE", "STATUS", "SUBSCRIBERS", "FIRES"}
			rows := make([][]string, len(triggers))
			for i, t := range triggers {
				rows[i] = []string{
					t.Name, t.Type, t.Scope, t.Status,
					strconv.Itoa(t.ActiveSubscribers),
					strconv.FormatInt(t.TotalFires, 10),
				}
			}

			out.Print(headers, rows, triggers)
			return nil
		},
	}
}

func newTriggerRegisterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var triggerType string
	var scope string
	var cronExpr string
	var timezone string

	cmd := &cobra.Command{
		Use:   "register NAME",
		Short: "Register a new trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			trig, err := client.RegisterTrigger(RegisterTriggerRequest{
				Name:     args[0],
				Type:     triggerType,
				Scope:    scope,
				CronExpr: cronExpr,
				Timezone: timezone,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Trigger registered: %s", trig.Name))
			out.Print(
				[]string{"NAME", "TYPE", "SCOPE", "STATUS"},
				[][]string{{trig.Name, trig.Type, trig.Scope, trig.Status}},
				trig,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&triggerType, "type", "webhook", "Trigger type (webhook, schedule, manual, event)")
	cmd.Flags().StringVar(&scope, "scope", "flow", "Trigger scope (flow, run, await)")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (required for --type=schedule)")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "IANA timezone for --cron (only used with --type=schedule)")

	return cmd
}

func newTriggerFireCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string
	var inputFile string

	cmd := &cobra.Command{
		Use:   "fire NAME",
		Short: "Fire a trigger and start a run for every auto-subscribed flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := parseInput(inputs, inputFile)
			if err != nil {
				return err
			}

			resp, err := client.FireTrigger(args[0], data)
			if err != nil {
				return err
			}

			if len(resp.StartedRunIDs) == 0 {
				out.Success("Trigger fired: no auto-subscribed flows started")
				return nil
			}

			headers := []string{"FLOW_NAME", "RUN_ID"}
			rows := make([][]string, 0, len(resp.StartedRunIDs))
			for flowName, runID := range resp.StartedRunIDs {
				rows = append(rows, []string{flowName, runID.String()})
			}

			out.Print(headers, rows, resp)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "data", nil, "Trigger payload values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&inputFile, "data-file", "", "Path to a JSON file with the trigger payload")

	return cmd
}
