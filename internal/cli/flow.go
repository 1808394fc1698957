package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewFlowCmd создаёт группу команд для управления flow и их run'ами.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Start flows and manage their runs",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
		newFlowShowCmd(clientFn, outputFn),
		newFlowStartCmd(clientFn, outputFn),
		newFlowListRunsCmd(clientFn, outputFn),
		newFlowCancelCmd(clientFn, outputFn),
		newFlowRestartCmd(clientFn, outputFn),
		newFlowClearHistoryCmd(clientFn, outputFn),
		newFlowWatchCmd(clientFn, outputFn),
	)

	return cmd
}

func newFlowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered flow names",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			names, err := client.ListFlows()
			if err != nil {
				return err
			}

			rows := make([][]string, len(names))
			for i, n := range names {
				rows[i] = []string{n}
			}
			out.Print([]string{"NAME"}, rows, names)
			return nil
		},
	}
}

func newFlowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show FLOW_NAME",
		Short: "Show a flow's step graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flow, err := client.GetFlow(args[0])
			if err != nil {
				return err
			}

			headers := []string{"STEP", "LEVEL", "QUEUE", "WORKER_ID", "DEPENDS_ON"}
			rows := make([][]string, len(flow.Steps))
			for i, s := range flow.Steps {
				rows[i] = []string{
					s.Name, strconv.Itoa(s.Level), s.Queue, s.WorkerID, strings.Join(s.DependsOn, ","),
				}
			}

			out.Print(headers, rows, flow)
			return nil
		},
	}
}

func newFlowStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string
	var inputFile string

	cmd := &cobra.Command{
		Use:   "start FLOW_NAME",
		Short: "Start a new run of a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			input, err := parseInput(inputs, inputFile)
			if err != nil {
				return err
			}

			resp, err := client.StartFlow(args[0], input)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s", resp.FlowID))
			out.Print(
				[]string{"RUN_ID"},
				[][]string{{resp.FlowID.String()}},
				resp,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "Path to a JSON file with the run input")

	return cmd
}

func newFlowListRunsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var offset int
	var limit int

	cmd := &cobra.Command{
		Use:   "runs FLOW_NAME",
		Short: "List runs of a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.ListRuns(args[0], offset, limit)
			if err != nil {
				return err
			}

			headers := []string{"RUN_ID", "STATUS", "STEPS", "STARTED", "ERROR"}
			rows := make([][]string, len(resp.Items))
			for i, r := range resp.Items {
				rows[i] = []string{
					r.RunID.String(),
					r.Status,
					fmt.Sprintf("%d/%d", r.CompletedSteps, r.StepCount),
					r.StartedAt,
					r.Error,
				}
			}

			out.Print(headers, rows, resp)
			return nil
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "Pagination offset")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of results")

	return cmd
}

func newFlowCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel FLOW_NAME RUN_ID",
		Short: "Cancel an active run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}

			if err := client.CancelRun(args[0], runID); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run canceled: %s", runID))
			return nil
		},
	}
}

func newFlowRestartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "restart FLOW_NAME RUN_ID",
		Short: "Restart a finished run with its original input",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}

			resp, err := client.RestartRun(args[0], runID)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run restarted as: %s", resp.NewRunID))
			out.Print(
				[]string{"NEW_RUN_ID"},
				[][]string{{resp.NewRunID.String()}},
				resp,
			)
			return nil
		},
	}
}

func newFlowClearHistoryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var olderThanHours int

	cmd := &cobra.Command{
		Use:   "clear-history FLOW_NAME",
		Short: "Delete terminal runs of a flow older than a given age",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.ClearHistory(args[0], olderThanHours)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Removed %d run(s)", resp.Removed))
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThanHours, "older-than-hours", 0, "Only remove runs older than this many hours")

	return cmd
}

func newFlowWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "watch FLOW_NAME RUN_ID",
		Short: "Stream a run's events until the command is interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}

			return client.WatchRunEvents(cmd.Context(), args[0], runID, func(ev EventResponse) {
				if out.jsonMode {
					out.JSON(ev)
					return
				}
				line := fmt.Sprintf("[%s] %s", ev.TS, ev.Type)
				if ev.StepName != "" {
					line += " step=" + ev.StepName
				}
				out.Success(line)
			})
		},
	}
}

func parseInput(kvs []string, file string) (map[string]any, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		var input map[string]any
		if err := json.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("input file is not valid JSON: %w", err)
		}
		return input, nil
	}

	if len(kvs) == 0 {
		return nil, nil
	}

	input := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		if n, err := strconv.ParseFloat(parts[1], 64); err == nil {
			input[parts[0]] = n
			continue
		}
		if b, err := strconv.ParseBool(parts[1]); err == nil {
			input[parts[0]] = b
			continue
		}
		input[parts[0]] = parts[1]
	}
	return input, nil
}
