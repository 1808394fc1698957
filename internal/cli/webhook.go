package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewWebhookCmd создаёт группу команд для ручного разрешения webhook-await'ов.
func NewWebhookCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Resolve webhook awaits",
	}

	cmd.AddCommand(newWebhookResolveCmd(clientFn, outputFn))

	return cmd
}

func newWebhookResolveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string
	var inputFile string

	cmd := &cobra.Command{
		Use:   "resolve FLOW_NAME RUN_ID STEP_NAME",
		Short: "Resolve the webhook await blocking a step",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}

			data, err := parseInput(inputs, inputFile)
			if err != nil {
				return err
			}

			if err := client.ResolveWebhookAwait(args[0], runID, args[2], data); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Step %s resolved for run %s", args[2], runID))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "data", nil, "Await payload values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&inputFile, "data-file", "", "Path to a JSON file with the await payload")

	return cmd
}
