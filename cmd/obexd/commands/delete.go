package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/obexd/internal/cli/output"
	"github.com/marmos91/obexd/internal/cli/prompt"
)

var (
	deleteFlags clientFlags
	deleteForce bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete an object on an OBEX server",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	deleteFlags.register(deleteCmd)
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Do not ask for confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	term := prompt.Terminal{In: os.Stdin, Out: os.Stderr}
	ok, err := term.ConfirmWithForce(fmt.Sprintf("Delete %s", args[0]), deleteForce)
	if err != nil {
		if prompt.IsAborted(err) {
			return nil
		}
		return err
	}
	if !ok {
		return nil
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c, err := dial(ctx, &deleteFlags, nil)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(context.Background()) }()

	if err := c.Delete(ctx, args[0]); err != nil {
		return err
	}
	output.NewPrinter(cmd.OutOrStdout(), output.FormatTable, true).Success("Deleted " + args[0])
	return nil
}
