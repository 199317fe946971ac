package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/obexd/internal/bytesize"
	"github.com/marmos91/obexd/internal/cli/output"
	"github.com/marmos91/obexd/internal/cli/prompt"
	"github.com/marmos91/obexd/internal/cli/timeutil"
)

var (
	pullFlags  clientFlags
	pullOutput string
	pullType   string
	pullForce  bool
)

var pullCmd = &cobra.Command{
	Use:   "pull NAME",
	Short: "Fetch an object from an OBEX server",
	Long: `Fetch an object from an OBEX server with a Get request.

The object is written to a file named after it unless --output is given.
Use --output - to write to stdout.

Examples:
  # Pull into the current directory
  obexd pull notes.txt

  # Pull the default vCard of a phone
  obexd pull --type text/x-vcard -o me.vcf ""

  # Pull to stdout
  obexd pull -o - log.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runPull,
}

func init() {
	pullFlags.register(pullCmd)
	pullCmd.Flags().StringVarP(&pullOutput, "output", "o", "", "Destination file, - for stdout (default: object name)")
	pullCmd.Flags().StringVar(&pullType, "type", "", "Object MIME type to request")
	pullCmd.Flags().BoolVarP(&pullForce, "force", "f", false, "Overwrite an existing file")
}

func runPull(cmd *cobra.Command, args []string) error {
	name := args[0]
	dest := pullOutput
	if dest == "" {
		dest = name
	}
	if dest == "" {
		return fmt.Errorf("--output is required when the object has no name")
	}

	var w io.Writer = cmd.OutOrStdout()
	toFile := dest != "-"
	if toFile {
		if _, err := os.Stat(dest); err == nil {
			term := prompt.Terminal{In: os.Stdin, Out: os.Stderr}
			ok, err := term.ConfirmWithForce(fmt.Sprintf("Overwrite %s", dest), pullForce)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c, err := dial(ctx, &pullFlags, nil)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(context.Background()) }()

	var file *os.File
	if toFile {
		file, err = os.CreateTemp(filepath.Dir(dest), ".obexd-pull-*")
		if err != nil {
			return err
		}
		defer func() { _ = os.Remove(file.Name()) }()
		w = file
	}

	start := time.Now()
	n, err := c.Pull(ctx, name, pullType, w)
	if err != nil {
		if file != nil {
			_ = file.Close()
		}
		return err
	}
	if !toFile {
		return nil
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(file.Name(), dest); err != nil {
		return err
	}

	p := output.NewPrinter(cmd.OutOrStdout(), output.FormatTable, true)
	p.Success(fmt.Sprintf("Pulled %s to %s (%s in %s)", name, dest, bytesize.ByteSize(n), timeutil.FormatDuration(time.Since(start))))
	return nil
}
