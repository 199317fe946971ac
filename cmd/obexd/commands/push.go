package commands

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/obexd/internal/bytesize"
	"github.com/marmos91/obexd/internal/cli/output"
	"github.com/marmos91/obexd/internal/cli/timeutil"
)

var (
	pushFlags clientFlags
	pushName  string
	pushType  string
)

var pushCmd = &cobra.Command{
	Use:   "push FILE",
	Short: "Send a file to an OBEX server",
	Long: `Send a file to an OBEX server with a Put request.

The object is named after the file unless --name is given. The MIME type is
guessed from the file extension unless --type is given.

Examples:
  # Push to the configured peer
  obexd push photo.jpg

  # Push to a phone over Bluetooth
  obexd push -t rfcomm -a 00:11:22:33:44:55 --channel 12 card.vcf

  # Push into a subfolder, creating nothing
  obexd push -C docs/2026 report.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

func init() {
	pushFlags.register(pushCmd)
	pushCmd.Flags().StringVar(&pushName, "name", "", "Object name (default: file base name)")
	pushCmd.Flags().StringVar(&pushType, "type", "", "Object MIME type")
}

func runPush(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	name := pushName
	if name == "" {
		name = filepath.Base(args[0])
	}
	typ := pushType
	if typ == "" {
		typ = mime.TypeByExtension(filepath.Ext(name))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c, err := dial(ctx, &pushFlags, nil)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(context.Background()) }()

	start := time.Now()
	if err := c.Push(ctx, name, typ, f, info.Size()); err != nil {
		return err
	}

	p := output.NewPrinter(cmd.OutOrStdout(), output.FormatTable, true)
	p.Success(fmt.Sprintf("Pushed %s (%s in %s)", name, bytesize.ByteSize(info.Size()), timeutil.FormatDuration(time.Since(start))))
	return nil
}
